package cart

import (
	"context"

	"github.com/ariefcatur/go-realtime-cart.git/internal/store"
)

// Ledger is the authoritative counter of unreserved stock per product. Every
// adjustment runs inside a store transaction that already holds the product's
// stock row, so read-check-adjust is one atomic unit per product.
type Ledger struct {
	store store.Store
}

func NewLedger(st store.Store) *Ledger {
	return &Ledger{store: st}
}

// Adjust adds delta to the product's available stock and returns the new value.
// A delta that would take stock below zero fails with orders.ErrWouldUnderflow and
// changes nothing; a missing product fails with orders.ErrNotFound.
func (l *Ledger) Adjust(ctx context.Context, tx store.Tx, productID string, delta int) (int, error) {
	if delta == 0 {
		p, err := tx.GetProduct(ctx, productID)
		return p.Stock, err
	}
	return tx.AdjustStock(ctx, productID, delta)
}

func (l *Ledger) Available(ctx context.Context, productID string) (int, error) {
	p, err := l.store.GetProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	return p.Stock, nil
}
