// Package store defines the persistence ports of the cart engine. Implementations
// live in memstore (in-process) and pgstore (Postgres via pgx).
package store

import (
	"context"
	"time"

	"github.com/ariefcatur/go-realtime-cart.git/internal/orders"
)

// ReservationFilter matches reservations; empty fields match anything.
type ReservationFilter struct {
	OwnerID   string
	ProductID string
	State     orders.ReservationState
}

// Page selects a window of a listing. Take <= 0 means no limit.
type Page struct {
	Skip int
	Take int
}

type Reader interface {
	GetProduct(ctx context.Context, id string) (orders.Product, error)
	GetReservation(ctx context.Context, id string) (orders.Reservation, error)
	// FindOpenReservation returns orders.ErrNotFound when (owner, product) has no open reservation.
	FindOpenReservation(ctx context.Context, ownerID, productID string) (orders.Reservation, error)
	ListReservations(ctx context.Context, f ReservationFilter, p Page) ([]orders.Reservation, error)
	GetOrder(ctx context.Context, id string) (orders.Order, error)
	ListOrders(ctx context.Context, ownerID string, p Page) ([]orders.Order, error)
}

// Tx is a unit of work. Reads through a Tx see its own writes and, where the
// backend supports it, lock the rows they return until the Tx ends.
type Tx interface {
	Reader

	// LockProduct reads the product and holds its stock row for the rest of the Tx.
	LockProduct(ctx context.Context, id string) (orders.Product, error)
	// AdjustStock adds delta to the product's stock and returns the new value.
	// Fails with orders.ErrWouldUnderflow, without mutating, if stock would go negative.
	AdjustStock(ctx context.Context, productID string, delta int) (int, error)

	InsertReservation(ctx context.Context, r orders.Reservation) error
	UpdateReservation(ctx context.Context, r orders.Reservation) error
	DeleteReservation(ctx context.Context, id string) error
	CommitReservations(ctx context.Context, ids []string, orderID string, at time.Time) error

	InsertOrder(ctx context.Context, o orders.Order) error
	UpdateOrderStatus(ctx context.Context, id string, status orders.OrderStatus, at time.Time) error
	DeleteOrder(ctx context.Context, id string) error
}

type Store interface {
	Reader
	// WithTx runs fn in a transaction: committed when fn returns nil, rolled back
	// entirely otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}
