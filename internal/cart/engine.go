// Package cart is the reservation engine: it moves stock between available and
// reserved as cart quantities change, expires idle reservations, and commits a
// user's open reservations into an order.
package cart

import (
	"context"
	"math"
	"time"

	"github.com/ariefcatur/go-realtime-cart.git/internal/clock"
	"github.com/ariefcatur/go-realtime-cart.git/internal/keylock"
	"github.com/ariefcatur/go-realtime-cart.git/internal/orders"
	"github.com/ariefcatur/go-realtime-cart.git/internal/store"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

const (
	DefaultWindow = 15 * time.Minute

	expireTimeout = 5 * time.Second
	expireRetry   = 5 * time.Second

	// a line is released once its idle time exceeds the window, so timers
	// fire one tick past the deadline
	expiryGrace = time.Millisecond
)

type Config struct {
	Window    time.Duration // inactivity after which an open reservation is released
	Clock     clock.Clock
	Publisher Publisher
	Metrics   *Metrics
	Logger    *zerolog.Logger
	Service   string // producer name on emitted events
}

type Engine struct {
	store     store.Store
	ledger    *Ledger
	locks     *keylock.Map
	timers    *timers
	clock     clock.Clock
	window    time.Duration
	publisher Publisher
	metrics   *Metrics
	log       zerolog.Logger
	service   string
}

func New(st store.Store, cfg Config) *Engine {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = nopPublisher{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = &zlog.Logger
	}
	if cfg.Service == "" {
		cfg.Service = "cart"
	}
	return &Engine{
		store:     st,
		ledger:    NewLedger(st),
		locks:     keylock.New(),
		timers:    newTimers(cfg.Clock),
		clock:     cfg.Clock,
		window:    cfg.Window,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		log:       cfg.Logger.With().Str("component", "cart").Logger(),
		service:   cfg.Service,
	}
}

func (e *Engine) Window() time.Duration { return e.window }

// Upsert sets the quantity ownerID holds of productID. Zero removes the line.
func (e *Engine) Upsert(ctx context.Context, ownerID, productID string, quantity int) (orders.Reservation, error) {
	if quantity < 0 {
		e.metrics.Upserts.WithLabelValues("rejected").Inc()
		return orders.Reservation{}, errors.Wrapf(orders.ErrInvalidQuantity, "quantity %d", quantity)
	}

	unlock := e.locks.Lock(productID)
	defer unlock()

	var out outcome
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		// the product row lock also covers the lookup of the open line
		p, err := tx.LockProduct(ctx, productID)
		if err != nil {
			return err
		}
		var cur *orders.Reservation
		r, err := tx.FindOpenReservation(ctx, ownerID, productID)
		switch {
		case err == nil:
			cur = &r
		case !errors.Is(err, orders.ErrNotFound):
			return err
		}
		out, err = e.apply(ctx, tx, p, cur, ownerID, quantity)
		return err
	})
	if err != nil {
		e.reject(ctx, err, productID, quantity)
		return orders.Reservation{}, err
	}
	e.settle(ctx, out)
	return out.res, nil
}

// UpdateQuantity is the direct-edit path keyed by reservation id. Only open
// reservations qualify; anything else is orders.ErrNotFound.
func (e *Engine) UpdateQuantity(ctx context.Context, reservationID string, quantity int) (orders.Reservation, error) {
	if quantity < 0 {
		e.metrics.Upserts.WithLabelValues("rejected").Inc()
		return orders.Reservation{}, errors.Wrapf(orders.ErrInvalidQuantity, "quantity %d", quantity)
	}
	probe, err := e.store.GetReservation(ctx, reservationID)
	if err != nil {
		return orders.Reservation{}, err
	}

	unlock := e.locks.Lock(probe.ProductID)
	defer unlock()

	var out outcome
	err = e.store.WithTx(ctx, func(tx store.Tx) error {
		r, err := tx.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if !r.IsOpen() {
			return errors.Wrapf(orders.ErrNotFound, "open reservation %s", reservationID)
		}
		p, err := tx.LockProduct(ctx, r.ProductID)
		if err != nil {
			return err
		}
		out, err = e.apply(ctx, tx, p, &r, r.OwnerID, quantity)
		return err
	})
	if err != nil {
		e.reject(ctx, err, probe.ProductID, quantity)
		return orders.Reservation{}, err
	}
	e.settle(ctx, out)
	return out.res, nil
}

// FindOpen returns the owner's open reservation of productID, or nil.
func (e *Engine) FindOpen(ctx context.Context, ownerID, productID string) (*orders.Reservation, error) {
	r, err := e.store.FindOpenReservation(ctx, ownerID, productID)
	if errors.Is(err, orders.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (e *Engine) Get(ctx context.Context, reservationID string) (orders.Reservation, error) {
	return e.store.GetReservation(ctx, reservationID)
}

func (e *Engine) ListOpen(ctx context.Context, ownerID string, page store.Page) ([]orders.Reservation, error) {
	return e.store.ListReservations(ctx, store.ReservationFilter{OwnerID: ownerID, State: orders.ReservationOpen}, page)
}

func (e *Engine) Available(ctx context.Context, productID string) (int, error) {
	return e.ledger.Available(ctx, productID)
}

// Recover arms expiry timers for every open reservation in the store. Call it
// once at startup so holds left by a previous process still expire.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	open, err := e.store.ListReservations(ctx, store.ReservationFilter{State: orders.ReservationOpen}, store.Page{})
	if err != nil {
		return 0, err
	}
	now := e.clock.Now()
	armed := 0
	for _, r := range open {
		unlock := e.locks.Lock(r.ProductID)
		if !e.timers.has(r.ID) {
			e.timers.arm(r.ID, r.ProductID, max(e.window-now.Sub(r.UpdatedAt), 0)+expiryGrace, e.expire)
			armed++
		}
		unlock()
	}
	e.metrics.ArmedTimers.Set(float64(e.timers.len()))
	e.log.Info().Int("armed", armed).Msg("reservation timers recovered")
	return armed, nil
}

// Close stops every expiry timer. Reservations stay in the store; Recover
// re-arms them on the next start.
func (e *Engine) Close() {
	e.timers.stopAll()
	e.metrics.ArmedTimers.Set(0)
}

func (e *Engine) ArmedTimers() int { return e.timers.len() }

type outcomeKind string

const (
	kindCreated outcomeKind = "created"
	kindUpdated outcomeKind = "updated"
	kindRemoved outcomeKind = "removed"
)

type outcome struct {
	kind      outcomeKind
	res       orders.Reservation
	returned  int // units given back to stock on removal
	available int
}

// apply is the shared write path of Upsert and UpdateQuantity. It runs inside the
// caller's transaction with the product row locked; any error rolls back the
// stock adjustment together with the reservation write.
func (e *Engine) apply(ctx context.Context, tx store.Tx, p orders.Product, cur *orders.Reservation, ownerID string, quantity int) (outcome, error) {
	current := 0
	if cur != nil {
		current = cur.Quantity
	}
	if quantity == 0 && cur == nil {
		return outcome{}, errors.Wrapf(orders.ErrEmptyCart, "product %s is not in the cart", p.ID)
	}
	if p.PriceCents > 0 && quantity > math.MaxInt/p.PriceCents {
		return outcome{}, errors.Wrapf(orders.ErrInvalidQuantity, "quantity %d at %d cents overflows the subtotal", quantity, p.PriceCents)
	}
	subtotal := quantity * p.PriceCents
	if subtotal < 0 {
		return outcome{}, errors.Wrapf(orders.ErrInvalidQuantity, "subtotal %d", subtotal)
	}

	available, err := e.ledger.Adjust(ctx, tx, p.ID, current-quantity)
	if errors.Is(err, orders.ErrWouldUnderflow) {
		return outcome{}, errors.Wrapf(orders.ErrInsufficientStock, "product %s: available %d, requested %d", p.ID, p.Stock+current, quantity)
	}
	if err != nil {
		return outcome{}, err
	}

	now := e.clock.Now()
	switch {
	case quantity == 0:
		if err := tx.DeleteReservation(ctx, cur.ID); err != nil {
			return outcome{}, err
		}
		r := *cur
		r.Quantity = 0
		r.SubtotalCents = 0
		r.State = orders.ReservationReleased
		r.UpdatedAt = now
		return outcome{kind: kindRemoved, res: r, returned: current, available: available}, nil

	case cur == nil:
		r := orders.Reservation{
			ID:            uuid.NewString(),
			ProductID:     p.ID,
			OwnerID:       ownerID,
			Quantity:      quantity,
			SubtotalCents: subtotal,
			State:         orders.ReservationOpen,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.InsertReservation(ctx, r); err != nil {
			return outcome{}, err
		}
		return outcome{kind: kindCreated, res: r, available: available}, nil

	default:
		// same quantity still counts as a touch: updatedAt moves and the timer restarts
		r := *cur
		r.Quantity = quantity
		r.SubtotalCents = subtotal
		r.UpdatedAt = now
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return outcome{}, err
		}
		return outcome{kind: kindUpdated, res: r, available: available}, nil
	}
}

// settle runs after commit, still under the product lock.
func (e *Engine) settle(ctx context.Context, out outcome) {
	r := out.res
	e.metrics.Upserts.WithLabelValues(string(out.kind)).Inc()

	if out.kind == kindRemoved {
		e.timers.cancel(r.ID)
		e.metrics.Releases.WithLabelValues(orders.ReasonRemoved).Inc()
		e.emit(ctx, orders.EventReservationReleased, r.ID, orders.ReservationReleasedPayload{
			ReservationID: r.ID,
			OwnerID:       r.OwnerID,
			ProductID:     r.ProductID,
			Quantity:      out.returned,
			Reason:        orders.ReasonRemoved,
		})
	} else {
		e.timers.arm(r.ID, r.ProductID, e.window+expiryGrace, e.expire)
		e.emit(ctx, orders.EventReservationUpserted, r.ID, orders.ReservationUpsertedPayload{
			ReservationID: r.ID,
			OwnerID:       r.OwnerID,
			ProductID:     r.ProductID,
			Quantity:      r.Quantity,
			SubtotalCents: r.SubtotalCents,
			Available:     out.available,
			UpdatedAt:     r.UpdatedAt,
		})
	}
	e.metrics.ArmedTimers.Set(float64(e.timers.len()))

	e.logger(ctx).Debug().
		Str("reservation_id", r.ID).
		Str("owner_id", r.OwnerID).
		Str("product_id", r.ProductID).
		Int("quantity", r.Quantity).
		Int("available", out.available).
		Str("result", string(out.kind)).
		Msg("reservation written")
}

func (e *Engine) reject(ctx context.Context, err error, productID string, quantity int) {
	e.metrics.Upserts.WithLabelValues("rejected").Inc()
	level := zerolog.DebugLevel
	if errors.Is(err, orders.ErrStorage) {
		level = zerolog.ErrorLevel
	}
	e.logger(ctx).WithLevel(level).Err(err).Str("product_id", productID).Int("quantity", quantity).Msg("reservation rejected")
}

// expire is the timer callback. It serializes with writers through the product
// lock, then releases the reservation only if its idle time exceeds the window;
// a reservation touched since the timer was armed gets a fresh timer for the rest
// of its window instead.
func (e *Engine) expire(reservationID, productID string, gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), expireTimeout)
	defer cancel()

	unlock := e.locks.Lock(productID)
	defer unlock()

	if !e.timers.current(reservationID, gen) {
		return
	}

	var (
		released  *orders.Reservation
		remaining time.Duration
	)
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		released, remaining = nil, 0
		r, err := tx.GetReservation(ctx, reservationID)
		if errors.Is(err, orders.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !r.IsOpen() {
			return nil
		}
		if idle := e.clock.Now().Sub(r.UpdatedAt); idle <= e.window {
			remaining = e.window - idle + expiryGrace
			return nil
		}
		if err := tx.DeleteReservation(ctx, r.ID); err != nil {
			return err
		}
		if _, err := e.ledger.Adjust(ctx, tx, r.ProductID, r.Quantity); err != nil {
			return err
		}
		released = &r
		return nil
	})

	switch {
	case err != nil:
		e.log.Error().Err(err).Str("reservation_id", reservationID).Msg("reservation expiry failed, retrying")
		e.timers.arm(reservationID, productID, min(e.window, expireRetry), e.expire)
	case remaining > 0:
		e.timers.arm(reservationID, productID, remaining, e.expire)
	default:
		e.timers.forget(reservationID, gen)
	}
	e.metrics.ArmedTimers.Set(float64(e.timers.len()))

	if released == nil {
		return
	}
	e.metrics.Releases.WithLabelValues(orders.ReasonExpired).Inc()
	e.log.Info().
		Str("reservation_id", released.ID).
		Str("owner_id", released.OwnerID).
		Str("product_id", released.ProductID).
		Int("quantity", released.Quantity).
		Msg("reservation expired")
	e.emit(ctx, orders.EventReservationReleased, released.ID, orders.ReservationReleasedPayload{
		ReservationID: released.ID,
		OwnerID:       released.OwnerID,
		ProductID:     released.ProductID,
		Quantity:      released.Quantity,
		Reason:        orders.ReasonExpired,
	})
}

func (e *Engine) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &e.log
}
