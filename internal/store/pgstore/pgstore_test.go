package pgstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ariefcatur/go-realtime-cart.git/internal/orders"
	"github.com/ariefcatur/go-realtime-cart.git/internal/postgres"
	"github.com/ariefcatur/go-realtime-cart.git/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a live database: POSTGRES_TEST_DSN=postgres://... go test ./internal/store/pgstore
func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	db, err := postgres.Connect(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, postgres.Migrate(ctx, db))

	pid := "test-" + uuid.NewString()
	require.NoError(t, postgres.SeedProduct(ctx, db, pid, pid, "test product", 3, 500))
	return New(db), pid
}

func TestAdjustStockGuard(t *testing.T) {
	s, pid := newStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.AdjustStock(ctx, pid, -4)
		return err
	})
	assert.ErrorIs(t, err, orders.ErrWouldUnderflow)

	err = s.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.AdjustStock(ctx, "missing-"+pid, -1)
		return err
	})
	assert.ErrorIs(t, err, orders.ErrNotFound)

	p, err := s.GetProduct(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Stock)
}

func TestReservationLifecycle(t *testing.T) {
	s, pid := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	owner := "owner-" + uuid.NewString()

	r := orders.Reservation{ID: uuid.NewString(), ProductID: pid, OwnerID: owner, Quantity: 2, SubtotalCents: 1000,
		State: orders.ReservationOpen, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.LockProduct(ctx, pid); err != nil {
			return err
		}
		if _, err := tx.AdjustStock(ctx, pid, -2); err != nil {
			return err
		}
		return tx.InsertReservation(ctx, r)
	}))

	got, err := s.FindOpenReservation(ctx, owner, pid)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)

	dup := r
	dup.ID = uuid.NewString()
	err = s.WithTx(ctx, func(tx store.Tx) error { return tx.InsertReservation(ctx, dup) })
	assert.ErrorIs(t, err, orders.ErrStorage, "partial unique index")

	o := orders.Order{ID: uuid.NewString(), OwnerID: owner, Status: orders.StatusPending, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		return tx.CommitReservations(ctx, []string{r.ID}, o.ID, now)
	}))

	stored, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, stored.Reservations, 1)
	assert.Equal(t, 1000, stored.TotalCents())

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error { return tx.DeleteOrder(ctx, o.ID) }))
	kept, err := s.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.ReservationCommitted, kept.State)
	assert.Empty(t, kept.OrderID)
}

func TestLargeSubtotalFits(t *testing.T) {
	s, pid := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	r := orders.Reservation{ID: uuid.NewString(), ProductID: pid, OwnerID: "owner-" + uuid.NewString(), Quantity: 3_000_000_000,
		SubtotalCents: 3_000_000_000 * 500, State: orders.ReservationOpen, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error { return tx.InsertReservation(ctx, r) }))

	got, err := s.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.SubtotalCents, got.SubtotalCents)
}
