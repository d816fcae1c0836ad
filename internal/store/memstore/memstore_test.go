package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ariefcatur/go-realtime-cart.git/internal/orders"
	"github.com/ariefcatur/go-realtime-cart.git/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

func seeded() *Store {
	s := New()
	s.AddProduct(orders.Product{ID: "p1", Stock: 5, PriceCents: 100})
	return s
}

func openLine(id, owner string, created time.Time) orders.Reservation {
	return orders.Reservation{ID: id, ProductID: "p1", OwnerID: owner, Quantity: 1, SubtotalCents: 100,
		State: orders.ReservationOpen, CreatedAt: created, UpdatedAt: created}
}

func TestAdjustStockUnderflow(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx store.Tx) error {
		n, err := tx.AdjustStock(ctx, "p1", -5)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		_, err = tx.AdjustStock(ctx, "p1", -1)
		return err
	})
	assert.ErrorIs(t, err, orders.ErrWouldUnderflow)

	p, err := s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock, "whole tx rolled back")
}

func TestRollbackRestoresEveryWrite(t *testing.T) {
	s := seeded()
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertReservation(ctx, openLine("r1", "u1", at))
	}))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.AdjustStock(ctx, "p1", 2); err != nil {
			return err
		}
		if err := tx.DeleteReservation(ctx, "r1"); err != nil {
			return err
		}
		if err := tx.InsertOrder(ctx, orders.Order{ID: "o1", OwnerID: "u1", Status: orders.StatusPending}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	p, _ := s.GetProduct(ctx, "p1")
	assert.Equal(t, 5, p.Stock)
	_, err = s.GetReservation(ctx, "r1")
	assert.NoError(t, err)
	_, err = s.GetOrder(ctx, "o1")
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestDuplicateOpenLineRejected(t *testing.T) {
	s := seeded()
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertReservation(ctx, openLine("r1", "u1", at))
	}))

	err := s.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertReservation(ctx, openLine("r2", "u1", at))
	})
	assert.ErrorIs(t, err, orders.ErrStorage)
}

func TestFaultHook(t *testing.T) {
	s := seeded()
	ctx := context.Background()
	s.SetFault(func(op string) error {
		if op == "adjust stock" {
			return errors.New("io")
		}
		return nil
	})
	err := s.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.AdjustStock(ctx, "p1", -1)
		return err
	})
	assert.ErrorIs(t, err, orders.ErrStorage)
}

func TestCommitAndDeleteOrder(t *testing.T) {
	s := seeded()
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertReservation(ctx, openLine("r1", "u1", at)); err != nil {
			return err
		}
		if err := tx.InsertReservation(ctx, openLine("r2", "u2", at)); err != nil {
			return err
		}
		if err := tx.InsertOrder(ctx, orders.Order{ID: "o1", OwnerID: "u1", Status: orders.StatusPending, CreatedAt: at}); err != nil {
			return err
		}
		return tx.CommitReservations(ctx, []string{"r1"}, "o1", at)
	}))

	o, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, o.Reservations, 1)
	assert.Equal(t, orders.ReservationCommitted, o.Reservations[0].State)

	// committing a line twice fails
	err = s.WithTx(ctx, func(tx store.Tx) error {
		return tx.CommitReservations(ctx, []string{"r1"}, "o1", at)
	})
	assert.ErrorIs(t, err, orders.ErrNotFound)

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error { return tx.DeleteOrder(ctx, "o1") }))
	r, err := s.GetReservation(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, orders.ReservationCommitted, r.State)
	assert.Empty(t, r.OrderID)
}

func TestListPaging(t *testing.T) {
	s := seeded()
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		for i, owner := range []string{"a", "b", "c", "d"} {
			if err := tx.InsertReservation(ctx, openLine("r"+owner, owner, at.Add(time.Duration(i)*time.Second))); err != nil {
				return err
			}
		}
		return nil
	}))

	got, err := s.ListReservations(ctx, store.ReservationFilter{ProductID: "p1"}, store.Page{Skip: 1, Take: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "rb", got[0].ID)
	assert.Equal(t, "rc", got[1].ID)

	got, err = s.ListReservations(ctx, store.ReservationFilter{}, store.Page{Skip: 10})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCanceledContext(t *testing.T) {
	s := seeded()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.WithTx(ctx, func(store.Tx) error { return nil })
	assert.ErrorIs(t, err, orders.ErrStorage)
}

func TestTxLocksOnlyItsProducts(t *testing.T) {
	s := seeded()
	s.AddProduct(orders.Product{ID: "p2", Stock: 5, PriceCents: 100})
	ctx := context.Background()

	locked := make(chan struct{})
	hold := make(chan struct{})
	first := make(chan error, 1)
	go func() {
		first <- s.WithTx(ctx, func(tx store.Tx) error {
			if _, err := tx.LockProduct(ctx, "p1"); err != nil {
				return err
			}
			close(locked)
			<-hold
			return nil
		})
	}()
	<-locked

	other := make(chan error, 1)
	go func() {
		other <- s.WithTx(ctx, func(tx store.Tx) error {
			_, err := tx.AdjustStock(ctx, "p2", -1)
			return err
		})
	}()
	select {
	case err := <-other:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("tx on p2 waited for the tx holding p1")
	}

	same := make(chan error, 1)
	go func() {
		same <- s.WithTx(ctx, func(tx store.Tx) error {
			_, err := tx.AdjustStock(ctx, "p1", -1)
			return err
		})
	}()
	select {
	case <-same:
		t.Fatal("tx on p1 ran while another tx held its row")
	case <-time.After(50 * time.Millisecond):
	}

	close(hold)
	require.NoError(t, <-first)
	select {
	case err := <-same:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("tx on p1 never ran after the row was released")
	}

	p1, _ := s.GetProduct(ctx, "p1")
	p2, _ := s.GetProduct(ctx, "p2")
	assert.Equal(t, 4, p1.Stock)
	assert.Equal(t, 4, p2.Stock)
}

func TestRollbackReleasesRows(t *testing.T) {
	s := seeded()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.AdjustStock(ctx, "p1", -2); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	done := make(chan error, 1)
	go func() {
		done <- s.WithTx(ctx, func(tx store.Tx) error {
			_, err := tx.AdjustStock(ctx, "p1", -1)
			return err
		})
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("row stayed locked after rollback")
	}
	p, _ := s.GetProduct(ctx, "p1")
	assert.Equal(t, 4, p.Stock)
	assert.Zero(t, s.rows.Len())
}
