// Package memstore is an in-process store.Store. Like row locks in a database, a
// transaction locks the product and order rows it writes until it ends, so
// transactions on different products run side by side. Every write records an
// undo entry, replayed in reverse when the transaction fails. Writes are
// visible to other callers before the transaction ends.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-realtime-cart.git/internal/keylock"
	"github.com/ariefcatur/go-realtime-cart.git/internal/orders"
	"github.com/ariefcatur/go-realtime-cart.git/internal/store"
	"github.com/pkg/errors"
)

type Store struct {
	mu    sync.Mutex // guards t and fault for the span of one call, never a whole tx
	rows  *keylock.Map
	t     *tables
	fault func(op string) error
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		rows: keylock.New(),
		t: &tables{
			products:     map[string]orders.Product{},
			reservations: map[string]orders.Reservation{},
			orders:       map[string]orders.Order{},
		},
	}
}

// AddProduct seeds or replaces a product.
func (s *Store) AddProduct(p orders.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t.products[p.ID] = p
}

// SetFault installs fn, called before every transactional write with the
// operation name. A non-nil result fails that write as a storage error.
func (s *Store) SetFault(fn func(op string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return orders.Storage(err, "begin tx")
	}
	x := &tx{s: s, held: map[string]func(){}}
	defer x.releaseRows()

	if err := fn(x); err != nil {
		s.mu.Lock()
		for i := len(x.undo) - 1; i >= 0; i-- {
			x.undo[i]()
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) GetProduct(_ context.Context, id string) (orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.product(id)
}

func (s *Store) GetReservation(_ context.Context, id string) (orders.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.reservation(id)
}

func (s *Store) FindOpenReservation(_ context.Context, ownerID, productID string) (orders.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.findOpen(ownerID, productID)
}

func (s *Store) ListReservations(_ context.Context, f store.ReservationFilter, p store.Page) ([]orders.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.listReservations(f, p), nil
}

func (s *Store) GetOrder(_ context.Context, id string) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.order(id)
}

func (s *Store) ListOrders(_ context.Context, ownerID string, p store.Page) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.listOrders(ownerID, p), nil
}

type tables struct {
	products     map[string]orders.Product
	reservations map[string]orders.Reservation
	orders       map[string]orders.Order // Reservations is assembled on read
}

func (t *tables) product(id string) (orders.Product, error) {
	p, ok := t.products[id]
	if !ok {
		return orders.Product{}, errors.Wrapf(orders.ErrNotFound, "product %s", id)
	}
	return p, nil
}

func (t *tables) reservation(id string) (orders.Reservation, error) {
	r, ok := t.reservations[id]
	if !ok {
		return orders.Reservation{}, errors.Wrapf(orders.ErrNotFound, "reservation %s", id)
	}
	return r, nil
}

func (t *tables) findOpen(ownerID, productID string) (orders.Reservation, error) {
	for _, r := range t.reservations {
		if r.OwnerID == ownerID && r.ProductID == productID && r.IsOpen() {
			return r, nil
		}
	}
	return orders.Reservation{}, errors.Wrapf(orders.ErrNotFound, "open reservation owner=%s product=%s", ownerID, productID)
}

func (t *tables) listReservations(f store.ReservationFilter, p store.Page) []orders.Reservation {
	out := make([]orders.Reservation, 0)
	for _, r := range t.reservations {
		if f.OwnerID != "" && r.OwnerID != f.OwnerID {
			continue
		}
		if f.ProductID != "" && r.ProductID != f.ProductID {
			continue
		}
		if f.State != "" && r.State != f.State {
			continue
		}
		out = append(out, r)
	}
	sortReservations(out)
	return paginate(out, p)
}

func (t *tables) order(id string) (orders.Order, error) {
	o, ok := t.orders[id]
	if !ok {
		return orders.Order{}, errors.Wrapf(orders.ErrNotFound, "order %s", id)
	}
	o.Reservations = make([]orders.Reservation, 0)
	for _, r := range t.reservations {
		if r.OrderID == id {
			o.Reservations = append(o.Reservations, r)
		}
	}
	sortReservations(o.Reservations)
	return o, nil
}

func (t *tables) listOrders(ownerID string, p store.Page) []orders.Order {
	list := make([]orders.Order, 0)
	for _, o := range t.orders {
		if ownerID == "" || o.OwnerID == ownerID {
			list = append(list, o)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
	list = paginate(list, p)
	out := make([]orders.Order, 0, len(list))
	for _, o := range list {
		full, _ := t.order(o.ID)
		out = append(out, full)
	}
	return out
}

func sortReservations(rs []orders.Reservation) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.Before(rs[j].CreatedAt)
		}
		return rs[i].ID < rs[j].ID
	})
}

func paginate[T any](in []T, p store.Page) []T {
	if p.Skip > 0 {
		if p.Skip >= len(in) {
			return in[:0]
		}
		in = in[p.Skip:]
	}
	if p.Take > 0 && p.Take < len(in) {
		in = in[:p.Take]
	}
	return in
}

type tx struct {
	s    *Store
	held map[string]func() // row key -> unlock
	undo []func()          // run with s.mu held
}

func productRow(id string) string { return "product:" + id }

func orderRow(id string) string { return "order:" + id }

// lockRow takes the row lock for the rest of the tx. It must be called without s.mu.
func (x *tx) lockRow(key string) {
	if _, ok := x.held[key]; !ok {
		x.held[key] = x.s.rows.Lock(key)
	}
}

func (x *tx) releaseRows() {
	for _, unlock := range x.held {
		unlock()
	}
}

// productOf reports the product of a reservation, so its row can be locked first.
func (x *tx) productOf(reservationID string) string {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	return x.s.t.reservations[reservationID].ProductID
}

// check runs the fault hook; s.mu must be held.
func (x *tx) check(op string) error {
	if x.s.fault == nil {
		return nil
	}
	return orders.Storage(x.s.fault(op), op)
}

func (x *tx) GetProduct(_ context.Context, id string) (orders.Product, error) {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	return x.s.t.product(id)
}

func (x *tx) GetReservation(_ context.Context, id string) (orders.Reservation, error) {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	return x.s.t.reservation(id)
}

func (x *tx) FindOpenReservation(_ context.Context, ownerID, productID string) (orders.Reservation, error) {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	return x.s.t.findOpen(ownerID, productID)
}

func (x *tx) ListReservations(_ context.Context, f store.ReservationFilter, p store.Page) ([]orders.Reservation, error) {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	return x.s.t.listReservations(f, p), nil
}

func (x *tx) GetOrder(_ context.Context, id string) (orders.Order, error) {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	return x.s.t.order(id)
}

func (x *tx) ListOrders(_ context.Context, ownerID string, p store.Page) ([]orders.Order, error) {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	return x.s.t.listOrders(ownerID, p), nil
}

func (x *tx) LockProduct(_ context.Context, id string) (orders.Product, error) {
	x.lockRow(productRow(id))
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	return x.s.t.product(id)
}

func (x *tx) AdjustStock(_ context.Context, productID string, delta int) (int, error) {
	x.lockRow(productRow(productID))
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	if err := x.check("adjust stock"); err != nil {
		return 0, err
	}
	t := x.s.t
	p, err := t.product(productID)
	if err != nil {
		return 0, err
	}
	if p.Stock+delta < 0 {
		return p.Stock, errors.Wrapf(orders.ErrWouldUnderflow, "product %s: stock %d, delta %d", productID, p.Stock, delta)
	}
	prev := p
	p.Stock += delta
	t.products[productID] = p
	x.undo = append(x.undo, func() { t.products[productID] = prev })
	return p.Stock, nil
}

func (x *tx) InsertReservation(_ context.Context, r orders.Reservation) error {
	x.lockRow(productRow(r.ProductID))
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	if err := x.check("insert reservation"); err != nil {
		return err
	}
	t := x.s.t
	if _, err := t.product(r.ProductID); err != nil {
		return err
	}
	if r.IsOpen() {
		if _, err := t.findOpen(r.OwnerID, r.ProductID); err == nil {
			return orders.Storage(errors.Errorf("duplicate open reservation owner=%s product=%s", r.OwnerID, r.ProductID), "insert reservation")
		}
	}
	t.reservations[r.ID] = r
	x.undo = append(x.undo, func() { delete(t.reservations, r.ID) })
	return nil
}

func (x *tx) UpdateReservation(_ context.Context, r orders.Reservation) error {
	x.lockRow(productRow(r.ProductID))
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	if err := x.check("update reservation"); err != nil {
		return err
	}
	t := x.s.t
	prev, err := t.reservation(r.ID)
	if err != nil {
		return err
	}
	t.reservations[r.ID] = r
	x.undo = append(x.undo, func() { t.reservations[r.ID] = prev })
	return nil
}

func (x *tx) DeleteReservation(_ context.Context, id string) error {
	if pid := x.productOf(id); pid != "" {
		x.lockRow(productRow(pid))
	}
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	if err := x.check("delete reservation"); err != nil {
		return err
	}
	t := x.s.t
	prev, err := t.reservation(id)
	if err != nil {
		return err
	}
	delete(t.reservations, id)
	x.undo = append(x.undo, func() { t.reservations[id] = prev })
	return nil
}

func (x *tx) CommitReservations(_ context.Context, ids []string, orderID string, at time.Time) error {
	products := make([]string, 0, len(ids))
	for _, id := range ids {
		if pid := x.productOf(id); pid != "" {
			products = append(products, pid)
		}
	}
	sort.Strings(products)
	for _, pid := range products {
		x.lockRow(productRow(pid))
	}

	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	if err := x.check("commit reservations"); err != nil {
		return err
	}
	t := x.s.t
	for _, id := range ids {
		prev, err := t.reservation(id)
		if err != nil {
			return err
		}
		if !orders.CanTransition(prev.State, orders.ReservationCommitted) {
			return errors.Wrapf(orders.ErrNotFound, "open reservation %s", id)
		}
		r := prev
		r.State = orders.ReservationCommitted
		r.OrderID = orderID
		r.UpdatedAt = at
		t.reservations[id] = r
		x.undo = append(x.undo, func() { t.reservations[prev.ID] = prev })
	}
	return nil
}

func (x *tx) InsertOrder(_ context.Context, o orders.Order) error {
	x.lockRow(orderRow(o.ID))
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	if err := x.check("insert order"); err != nil {
		return err
	}
	t := x.s.t
	o.Reservations = nil
	t.orders[o.ID] = o
	x.undo = append(x.undo, func() { delete(t.orders, o.ID) })
	return nil
}

func (x *tx) UpdateOrderStatus(_ context.Context, id string, status orders.OrderStatus, at time.Time) error {
	x.lockRow(orderRow(id))
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	if err := x.check("update order status"); err != nil {
		return err
	}
	t := x.s.t
	prev, ok := t.orders[id]
	if !ok {
		return errors.Wrapf(orders.ErrNotFound, "order %s", id)
	}
	o := prev
	o.Status = status
	o.UpdatedAt = at
	t.orders[id] = o
	x.undo = append(x.undo, func() { t.orders[id] = prev })
	return nil
}

func (x *tx) DeleteOrder(_ context.Context, id string) error {
	x.lockRow(orderRow(id))
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	if err := x.check("delete order"); err != nil {
		return err
	}
	t := x.s.t
	prev, ok := t.orders[id]
	if !ok {
		return errors.Wrapf(orders.ErrNotFound, "order %s", id)
	}
	delete(t.orders, id)
	x.undo = append(x.undo, func() { t.orders[id] = prev })
	// committed lines outlive their order, like ON DELETE SET NULL
	for rid, r := range t.reservations {
		if r.OrderID != id {
			continue
		}
		before := r
		r.OrderID = ""
		t.reservations[rid] = r
		x.undo = append(x.undo, func() { t.reservations[before.ID] = before })
	}
	return nil
}
