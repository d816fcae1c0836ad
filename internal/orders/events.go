package orders

import (
	"encoding/json"
	"time"
)

const (
	EventReservationUpserted = "ReservationUpserted"
	EventReservationReleased = "ReservationReleased"
	EventOrderCommitted      = "OrderCommitted"
	EventOrderStatusChanged  = "OrderStatusChanged"
	EventOrderDeleted        = "OrderDeleted"
)

// Release reasons carried by ReservationReleasedPayload.
const (
	ReasonExpired = "EXPIRED"
	ReasonRemoved = "REMOVED"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // reservation or order id
	Payload       json.RawMessage `json:"payload"`
}

type ReservationUpsertedPayload struct {
	ReservationID string    `json:"reservation_id"`
	OwnerID       string    `json:"owner_id"`
	ProductID     string    `json:"product_id"`
	Quantity      int       `json:"quantity"`
	SubtotalCents int       `json:"subtotal_cents"`
	Available     int       `json:"available"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type ReservationReleasedPayload struct {
	ReservationID string `json:"reservation_id"`
	OwnerID       string `json:"owner_id"`
	ProductID     string `json:"product_id"`
	Quantity      int    `json:"quantity"` // units returned to stock
	Reason        string `json:"reason"`
}

// UpdatedAt on the order payloads is the order row's timestamp, which read
// views compare to discard events that arrive out of order.
type OrderCommittedPayload struct {
	OrderID        string    `json:"order_id"`
	OwnerID        string    `json:"owner_id"`
	Status         string    `json:"status"`
	ReservationIDs []string  `json:"reservation_ids"`
	TotalCents     int       `json:"total_cents"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type OrderStatusChangedPayload struct {
	OrderID   string    `json:"order_id"`
	OwnerID   string    `json:"owner_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	UpdatedAt time.Time `json:"updated_at"`
}

type OrderDeletedPayload struct {
	OrderID string `json:"order_id"`
}
