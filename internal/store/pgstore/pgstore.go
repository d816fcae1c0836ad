// Package pgstore implements store.Store on Postgres through pgx. Reads inside a
// transaction take row locks (FOR UPDATE) so concurrent engines serialize per row.
package pgstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-realtime-cart.git/internal/orders"
	"github.com/ariefcatur/go-realtime-cart.git/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	DB *pgxpool.Pool
	reader
}

var _ store.Store = (*Store)(nil)

func New(db *pgxpool.Pool) *Store {
	return &Store{DB: db, reader: reader{q: db}}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return orders.Storage(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&txn{reader: reader{q: tx, lock: true}, tx: tx}); err != nil {
		return err
	}
	return orders.Storage(tx.Commit(ctx), "commit tx")
}

const reservationCols = `id, product_id, owner_id, quantity, subtotal_cents, state, COALESCE(order_id, ''), created_at, updated_at`

type reader struct {
	q    querier
	lock bool
}

func (r reader) forUpdate() string {
	if r.lock {
		return " FOR UPDATE"
	}
	return ""
}

func (r reader) GetProduct(ctx context.Context, id string) (orders.Product, error) {
	var p orders.Product
	err := r.q.QueryRow(ctx, `SELECT id, sku, name, stock, price_cents, created_at, updated_at
	                          FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.SKU, &p.Name, &p.Stock, &p.PriceCents, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, errors.Wrapf(orders.ErrNotFound, "product %s", id)
	}
	return p, orders.Storage(err, "get product")
}

func (r reader) GetReservation(ctx context.Context, id string) (orders.Reservation, error) {
	row := r.q.QueryRow(ctx, `SELECT `+reservationCols+` FROM reservations WHERE id=$1`+r.forUpdate(), id)
	res, err := scanReservation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return res, errors.Wrapf(orders.ErrNotFound, "reservation %s", id)
	}
	return res, orders.Storage(err, "get reservation")
}

func (r reader) FindOpenReservation(ctx context.Context, ownerID, productID string) (orders.Reservation, error) {
	row := r.q.QueryRow(ctx, `SELECT `+reservationCols+` FROM reservations
		WHERE owner_id=$1 AND product_id=$2 AND state='OPEN'`+r.forUpdate(), ownerID, productID)
	res, err := scanReservation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return res, errors.Wrapf(orders.ErrNotFound, "open reservation owner=%s product=%s", ownerID, productID)
	}
	return res, orders.Storage(err, "find open reservation")
}

func (r reader) ListReservations(ctx context.Context, f store.ReservationFilter, p store.Page) ([]orders.Reservation, error) {
	var (
		conds []string
		args  []any
	)
	add := func(col, v string) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if f.OwnerID != "" {
		add("owner_id", f.OwnerID)
	}
	if f.ProductID != "" {
		add("product_id", f.ProductID)
	}
	if f.State != "" {
		add("state", string(f.State))
	}
	q := `SELECT ` + reservationCols + ` FROM reservations`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	q += ` ORDER BY created_at, id` + limitOffset(&args, p) + r.forUpdate()

	rows, err := r.q.Query(ctx, q, args...)
	if err != nil {
		return nil, orders.Storage(err, "list reservations")
	}
	return collectReservations(rows)
}

func (r reader) GetOrder(ctx context.Context, id string) (orders.Order, error) {
	o, err := scanOrder(r.q.QueryRow(ctx, `SELECT id, owner_id, status, created_at, updated_at FROM orders WHERE id=$1`+r.forUpdate(), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return o, errors.Wrapf(orders.ErrNotFound, "order %s", id)
	}
	if err != nil {
		return o, orders.Storage(err, "get order")
	}
	byOrder, err := r.reservationsOf(ctx, []string{id})
	if err != nil {
		return o, err
	}
	o.Reservations = byOrder[id]
	return o, nil
}

func (r reader) ListOrders(ctx context.Context, ownerID string, p store.Page) ([]orders.Order, error) {
	args := []any{ownerID}
	rows, err := r.q.Query(ctx, `SELECT id, owner_id, status, created_at, updated_at FROM orders
		WHERE ($1 = '' OR owner_id = $1) ORDER BY created_at, id`+limitOffset(&args, p), args...)
	if err != nil {
		return nil, orders.Storage(err, "list orders")
	}
	defer rows.Close()

	var (
		out []orders.Order
		ids []string
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, orders.Storage(err, "scan order")
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, orders.Storage(err, "list orders")
	}
	if len(ids) == 0 {
		return []orders.Order{}, nil
	}

	byOrder, err := r.reservationsOf(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Reservations = byOrder[out[i].ID]
	}
	return out, nil
}

func (r reader) reservationsOf(ctx context.Context, orderIDs []string) (map[string][]orders.Reservation, error) {
	rows, err := r.q.Query(ctx, `SELECT `+reservationCols+` FROM reservations
		WHERE order_id = ANY($1) ORDER BY created_at, id`, orderIDs)
	if err != nil {
		return nil, orders.Storage(err, "list order reservations")
	}
	list, err := collectReservations(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]orders.Reservation, len(orderIDs))
	for _, id := range orderIDs {
		out[id] = []orders.Reservation{}
	}
	for _, res := range list {
		out[res.OrderID] = append(out[res.OrderID], res)
	}
	return out, nil
}

type txn struct {
	reader
	tx pgx.Tx
}

// LockProduct locks the stock row: FOR UPDATE -> adjust -> reservation write, all in one tx.
func (t *txn) LockProduct(ctx context.Context, id string) (orders.Product, error) {
	var p orders.Product
	err := t.tx.QueryRow(ctx, `SELECT id, sku, name, stock, price_cents, created_at, updated_at
	                           FROM products WHERE id=$1 FOR UPDATE`, id).
		Scan(&p.ID, &p.SKU, &p.Name, &p.Stock, &p.PriceCents, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, errors.Wrapf(orders.ErrNotFound, "product %s", id)
	}
	return p, orders.Storage(err, "lock product")
}

func (t *txn) AdjustStock(ctx context.Context, productID string, delta int) (int, error) {
	var stock int
	err := t.tx.QueryRow(ctx, `
		UPDATE products SET stock = stock + $2, updated_at = now()
		WHERE id=$1 AND stock + $2 >= 0
		RETURNING stock`, productID, delta).Scan(&stock)
	if err == nil {
		return stock, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, orders.Storage(err, "adjust stock")
	}

	// no row updated: either the product is missing or the guard rejected the delta
	err = t.tx.QueryRow(ctx, `SELECT stock FROM products WHERE id=$1`, productID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, errors.Wrapf(orders.ErrNotFound, "product %s", productID)
	}
	if err != nil {
		return 0, orders.Storage(err, "adjust stock")
	}
	return stock, errors.Wrapf(orders.ErrWouldUnderflow, "product %s: stock %d, delta %d", productID, stock, delta)
}

func (t *txn) InsertReservation(ctx context.Context, r orders.Reservation) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO reservations(id, product_id, owner_id, quantity, subtotal_cents, state, order_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),$8,$9)`,
		r.ID, r.ProductID, r.OwnerID, r.Quantity, r.SubtotalCents, string(r.State), r.OrderID, r.CreatedAt, r.UpdatedAt)
	return orders.Storage(err, "insert reservation")
}

func (t *txn) UpdateReservation(ctx context.Context, r orders.Reservation) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE reservations SET quantity=$2, subtotal_cents=$3, state=$4, order_id=NULLIF($5,''), updated_at=$6
		WHERE id=$1`, r.ID, r.Quantity, r.SubtotalCents, string(r.State), r.OrderID, r.UpdatedAt)
	if err != nil {
		return orders.Storage(err, "update reservation")
	}
	if ct.RowsAffected() != 1 {
		return errors.Wrapf(orders.ErrNotFound, "reservation %s", r.ID)
	}
	return nil
}

func (t *txn) DeleteReservation(ctx context.Context, id string) error {
	ct, err := t.tx.Exec(ctx, `DELETE FROM reservations WHERE id=$1`, id)
	if err != nil {
		return orders.Storage(err, "delete reservation")
	}
	if ct.RowsAffected() != 1 {
		return errors.Wrapf(orders.ErrNotFound, "reservation %s", id)
	}
	return nil
}

func (t *txn) CommitReservations(ctx context.Context, ids []string, orderID string, at time.Time) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE reservations SET state='COMMITTED', order_id=$2, updated_at=$3
		WHERE id = ANY($1) AND state='OPEN'`, ids, orderID, at)
	if err != nil {
		return orders.Storage(err, "commit reservations")
	}
	if int(ct.RowsAffected()) != len(ids) {
		// rollback via WithTx
		return errors.Wrapf(orders.ErrNotFound, "open reservations: committed %d of %d", ct.RowsAffected(), len(ids))
	}
	return nil
}

func (t *txn) InsertOrder(ctx context.Context, o orders.Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders(id, owner_id, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)`, o.ID, o.OwnerID, string(o.Status), o.CreatedAt, o.UpdatedAt)
	return orders.Storage(err, "insert order")
}

func (t *txn) UpdateOrderStatus(ctx context.Context, id string, status orders.OrderStatus, at time.Time) error {
	ct, err := t.tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=$3 WHERE id=$1`, id, string(status), at)
	if err != nil {
		return orders.Storage(err, "update order status")
	}
	if ct.RowsAffected() != 1 {
		return errors.Wrapf(orders.ErrNotFound, "order %s", id)
	}
	return nil
}

// DeleteOrder relies on reservations.order_id ON DELETE SET NULL.
func (t *txn) DeleteOrder(ctx context.Context, id string) error {
	ct, err := t.tx.Exec(ctx, `DELETE FROM orders WHERE id=$1`, id)
	if err != nil {
		return orders.Storage(err, "delete order")
	}
	if ct.RowsAffected() != 1 {
		return errors.Wrapf(orders.ErrNotFound, "order %s", id)
	}
	return nil
}

func scanReservation(row pgx.Row) (orders.Reservation, error) {
	var r orders.Reservation
	var state string
	err := row.Scan(&r.ID, &r.ProductID, &r.OwnerID, &r.Quantity, &r.SubtotalCents, &state, &r.OrderID, &r.CreatedAt, &r.UpdatedAt)
	r.State = orders.ReservationState(state)
	return r, err
}

func scanOrder(row pgx.Row) (orders.Order, error) {
	var o orders.Order
	var status string
	err := row.Scan(&o.ID, &o.OwnerID, &status, &o.CreatedAt, &o.UpdatedAt)
	o.Status = orders.OrderStatus(status)
	return o, err
}

func collectReservations(rows pgx.Rows) ([]orders.Reservation, error) {
	defer rows.Close()
	out := []orders.Reservation{}
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, orders.Storage(err, "scan reservation")
		}
		out = append(out, r)
	}
	return out, orders.Storage(rows.Err(), "scan reservations")
}

// limitOffset appends paging args; LIMIT NULL means no limit in Postgres.
func limitOffset(args *[]any, p store.Page) string {
	var take any
	if p.Take > 0 {
		take = p.Take
	}
	*args = append(*args, take, p.Skip)
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(*args)-1, len(*args))
}
