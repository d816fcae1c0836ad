package orders

import "time"

type Product struct {
	ID         string
	SKU        string
	Name       string
	Stock      int // unreserved units, never negative
	PriceCents int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Reservation is one cart line: a hold of Quantity units of a product by one owner.
type Reservation struct {
	ID            string           `json:"id"`
	ProductID     string           `json:"product_id"`
	OwnerID       string           `json:"owner_id"`
	Quantity      int              `json:"quantity"`
	SubtotalCents int              `json:"subtotal_cents"`
	State         ReservationState `json:"state"`
	OrderID       string           `json:"order_id,omitempty"` // set once committed
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func (r Reservation) IsOpen() bool { return r.State == ReservationOpen }

type Order struct {
	ID           string        `json:"id"`
	OwnerID      string        `json:"owner_id"`
	Status       OrderStatus   `json:"status"`
	Reservations []Reservation `json:"reservations"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// TotalCents sums the subtotals of the order's reservations. It is computed on
// every call; orders never carry a stored total.
func (o Order) TotalCents() int {
	total := 0
	for _, r := range o.Reservations {
		total += r.SubtotalCents
	}
	return total
}
