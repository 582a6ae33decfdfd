package event

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Timer is a delayed or periodic callback owned by a registration owner.
type Timer struct {
	bus      *Bus
	owner    string
	delay    time.Duration
	periodic bool
	fn       func() error

	mu      sync.Mutex
	t       *time.Timer
	stopped bool
}

// RegisterTimer runs fn after delay, and again every delay when periodic.
// A failing run is logged; a periodic timer keeps its schedule.
func (b *Bus) RegisterTimer(fn func() error, owner string, delay time.Duration, periodic bool) *Timer {
	t := &Timer{bus: b, owner: owner, delay: delay, periodic: periodic, fn: fn}

	b.mu.Lock()
	set, ok := b.timers[owner]
	if !ok {
		set = make(map[*Timer]struct{})
		b.timers[owner] = set
	}
	set[t] = struct{}{}
	b.mu.Unlock()

	t.mu.Lock()
	t.t = time.AfterFunc(delay, t.fire)
	t.mu.Unlock()
	return t
}

func (t *Timer) fire() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	if err := call(t.fn); err != nil {
		t.bus.log.Error("timer failed",
			zap.String("owner", t.owner),
			zap.Error(err))
	}

	if !t.periodic {
		t.bus.forget(t)
		return
	}

	t.mu.Lock()
	if !t.stopped {
		t.t.Reset(t.delay)
	}
	t.mu.Unlock()
}

// Cancel stops the timer. Safe to call more than once.
func (t *Timer) Cancel() {
	t.stop()
	t.bus.forget(t)
}

func (t *Timer) stop() {
	t.mu.Lock()
	t.stopped = true
	if t.t != nil {
		t.t.Stop()
	}
	t.mu.Unlock()
}

func (b *Bus) forget(t *Timer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.timers[t.owner]
	delete(set, t)
	if len(set) == 0 {
		delete(b.timers, t.owner)
	}
}

// Timers returns the number of pending timers for owner.
func (b *Bus) Timers(owner string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.timers[owner])
}
