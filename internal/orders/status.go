package orders

import "github.com/pkg/errors"

type OrderStatus string

const (
	StatusPending    OrderStatus = "Pending"
	StatusAccepted   OrderStatus = "Accepted"
	StatusProcessing OrderStatus = "Processing"
	StatusShipping   OrderStatus = "Shipping"
	StatusDelivered  OrderStatus = "Delivered"
	StatusCanceled   OrderStatus = "Canceled"
	StatusFreezed    OrderStatus = "Freezed"
)

var orderStatuses = map[OrderStatus]bool{
	StatusPending:    true,
	StatusAccepted:   true,
	StatusProcessing: true,
	StatusShipping:   true,
	StatusDelivered:  true,
	StatusCanceled:   true,
	StatusFreezed:    true,
}

func (s OrderStatus) Valid() bool { return orderStatuses[s] }

func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(s)
	if !st.Valid() {
		return "", errors.Wrapf(ErrInvalidStatus, "%q", s)
	}
	return st, nil
}

type ReservationState string

const (
	ReservationOpen      ReservationState = "OPEN"
	ReservationCommitted ReservationState = "COMMITTED"
	ReservationReleased  ReservationState = "RELEASED" // terminal, row is deleted
)

var validNext = map[ReservationState]map[ReservationState]bool{
	ReservationOpen:      {ReservationOpen: true, ReservationCommitted: true, ReservationReleased: true},
	ReservationCommitted: {},
	ReservationReleased:  {},
}

func CanTransition(from, to ReservationState) bool {
	return validNext[from][to]
}
