package cart

import (
	"sync"
	"time"

	"github.com/ariefcatur/go-realtime-cart.git/internal/clock"
)

type fireFunc func(reservationID, productID string, gen uint64)

// timers owns one expiry timer per open reservation. Each arm bumps a generation
// so a callback that lost the race with a newer arm or a cancel sees it is stale.
type timers struct {
	mu     sync.Mutex
	clock  clock.Clock
	armed  map[string]*armedTimer
	gen    uint64
	closed bool
}

type armedTimer struct {
	t         clock.Timer
	gen       uint64
	productID string
}

func newTimers(c clock.Clock) *timers {
	return &timers{clock: c, armed: make(map[string]*armedTimer)}
}

// arm cancels any timer of the reservation and starts a fresh one for d.
func (ts *timers) arm(reservationID, productID string, d time.Duration, fire fireFunc) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.closed {
		return
	}
	if prev, ok := ts.armed[reservationID]; ok {
		prev.t.Stop()
	}
	ts.gen++
	gen := ts.gen
	a := &armedTimer{gen: gen, productID: productID}
	ts.armed[reservationID] = a
	a.t = ts.clock.AfterFunc(d, func() { fire(reservationID, productID, gen) })
}

func (ts *timers) cancel(reservationID string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if a, ok := ts.armed[reservationID]; ok {
		a.t.Stop()
		delete(ts.armed, reservationID)
	}
}

// forget drops the entry of a fired timer unless it was re-armed meanwhile.
func (ts *timers) forget(reservationID string, gen uint64) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if a, ok := ts.armed[reservationID]; ok && a.gen == gen {
		delete(ts.armed, reservationID)
	}
}

func (ts *timers) current(reservationID string, gen uint64) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	a, ok := ts.armed[reservationID]
	return ok && a.gen == gen && !ts.closed
}

func (ts *timers) has(reservationID string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	_, ok := ts.armed[reservationID]
	return ok
}

func (ts *timers) len() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.armed)
}

func (ts *timers) stopAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.closed = true
	for id, a := range ts.armed {
		a.t.Stop()
		delete(ts.armed, id)
	}
}
