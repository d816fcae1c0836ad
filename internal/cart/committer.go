package cart

import (
	"context"

	"github.com/ariefcatur/go-realtime-cart.git/internal/orders"
	"github.com/ariefcatur/go-realtime-cart.git/internal/store"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Committer turns a user's open reservations into an order. It shares the
// engine's product locks and timers so a commit and an expiry never interleave.
type Committer struct {
	e *Engine
}

func NewCommitter(e *Engine) *Committer {
	return &Committer{e: e}
}

// CommitCart moves every open reservation of ownerID into a new Pending order and
// cancels their expiry timers. Stock is untouched: the holds become permanent.
func (c *Committer) CommitCart(ctx context.Context, ownerID string) (orders.Order, error) {
	e := c.e
	open, err := e.store.ListReservations(ctx, store.ReservationFilter{OwnerID: ownerID, State: orders.ReservationOpen}, store.Page{})
	if err != nil {
		return orders.Order{}, err
	}
	if len(open) == 0 {
		return orders.Order{}, errors.Wrapf(orders.ErrEmptyCart, "owner %s", ownerID)
	}

	locked := make(map[string]bool, len(open))
	products := make([]string, 0, len(open))
	for _, r := range open {
		if !locked[r.ProductID] {
			locked[r.ProductID] = true
			products = append(products, r.ProductID)
		}
	}
	unlock := e.locks.LockAll(products)
	defer unlock()

	var order orders.Order
	err = e.store.WithTx(ctx, func(tx store.Tx) error {
		// re-read under the locks: lines may have expired since the first read, and
		// lines on products added meanwhile are left for the next commit
		current, err := tx.ListReservations(ctx, store.ReservationFilter{OwnerID: ownerID, State: orders.ReservationOpen}, store.Page{})
		if err != nil {
			return err
		}
		lines := make([]orders.Reservation, 0, len(current))
		ids := make([]string, 0, len(current))
		for _, r := range current {
			if locked[r.ProductID] {
				lines = append(lines, r)
				ids = append(ids, r.ID)
			}
		}
		if len(lines) == 0 {
			return errors.Wrapf(orders.ErrEmptyCart, "owner %s", ownerID)
		}

		now := e.clock.Now()
		order = orders.Order{
			ID:        uuid.NewString(),
			OwnerID:   ownerID,
			Status:    orders.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		if err := tx.CommitReservations(ctx, ids, order.ID, now); err != nil {
			return err
		}
		for i := range lines {
			lines[i].State = orders.ReservationCommitted
			lines[i].OrderID = order.ID
			lines[i].UpdatedAt = now
		}
		order.Reservations = lines
		return nil
	})
	if err != nil {
		if errors.Is(err, orders.ErrStorage) {
			e.logger(ctx).Error().Err(err).Str("owner_id", ownerID).Msg("commit cart failed")
		}
		return orders.Order{}, err
	}

	ids := make([]string, 0, len(order.Reservations))
	for _, r := range order.Reservations {
		e.timers.cancel(r.ID)
		ids = append(ids, r.ID)
	}
	e.metrics.ArmedTimers.Set(float64(e.timers.len()))
	e.metrics.Commits.Inc()

	e.logger(ctx).Info().
		Str("order_id", order.ID).
		Str("owner_id", ownerID).
		Int("lines", len(order.Reservations)).
		Int("total_cents", order.TotalCents()).
		Msg("cart committed")
	e.emit(ctx, orders.EventOrderCommitted, order.ID, orders.OrderCommittedPayload{
		OrderID:        order.ID,
		OwnerID:        ownerID,
		Status:         string(order.Status),
		ReservationIDs: ids,
		TotalCents:     order.TotalCents(),
		UpdatedAt:      order.UpdatedAt,
	})
	return order, nil
}

// UpdateOrderStatus sets the workflow status of an order. Anything outside the
// enumerated statuses fails with orders.ErrInvalidStatus and changes nothing.
func (c *Committer) UpdateOrderStatus(ctx context.Context, orderID, status string) (orders.Order, error) {
	st, err := orders.ParseOrderStatus(status)
	if err != nil {
		return orders.Order{}, err
	}

	var (
		out  orders.Order
		from orders.OrderStatus
	)
	err = c.e.store.WithTx(ctx, func(tx store.Tx) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		now := c.e.clock.Now()
		if err := tx.UpdateOrderStatus(ctx, orderID, st, now); err != nil {
			return err
		}
		from = o.Status
		o.Status = st
		o.UpdatedAt = now
		out = o
		return nil
	})
	if err != nil {
		return orders.Order{}, err
	}

	c.e.emit(ctx, orders.EventOrderStatusChanged, orderID, orders.OrderStatusChangedPayload{
		OrderID:   orderID,
		OwnerID:   out.OwnerID,
		From:      string(from),
		To:        string(st),
		UpdatedAt: out.UpdatedAt,
	})
	return out, nil
}

func (c *Committer) GetOrder(ctx context.Context, orderID string) (orders.Order, error) {
	return c.e.store.GetOrder(ctx, orderID)
}

func (c *Committer) ListOrders(ctx context.Context, ownerID string, page store.Page) ([]orders.Order, error) {
	return c.e.store.ListOrders(ctx, ownerID, page)
}

// DeleteOrder removes the order record. Its committed reservations stay
// committed and keep holding their stock.
func (c *Committer) DeleteOrder(ctx context.Context, orderID string) error {
	err := c.e.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.DeleteOrder(ctx, orderID)
	})
	if err != nil {
		return err
	}
	c.e.emit(ctx, orders.EventOrderDeleted, orderID, orders.OrderDeletedPayload{OrderID: orderID})
	return nil
}
