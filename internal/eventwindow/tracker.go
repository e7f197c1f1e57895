package eventwindow

import (
	"context"
	"sync"
	"time"

	"table-bidding/utils"

	"github.com/jonboulle/clockwork"
)

// WindowSource re-reads the current window. Returning (nil, nil) means no data yet.
type WindowSource func(ctx context.Context) (*Window, error)

// Tracker re-evaluates the event window on every tick
type Tracker struct {
	source       WindowSource
	clock        clockwork.Clock
	loc          *time.Location
	interval     time.Duration
	onTransition func(prev, next Snapshot)

	mu      sync.RWMutex
	window  *Window
	current Snapshot
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock swaps the time source, mainly for tests
func WithClock(clock clockwork.Clock) Option {
	return func(t *Tracker) { t.clock = clock }
}

// WithInterval sets the re-evaluation period
func WithInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithTransitionHook registers a callback fired when the status changes
func WithTransitionHook(fn func(prev, next Snapshot)) Option {
	return func(t *Tracker) { t.onTransition = fn }
}

// NewTracker creates a tracker evaluating once per second in loc
func NewTracker(source WindowSource, loc *time.Location, opts ...Option) *Tracker {
	t := &Tracker{
		source:   source,
		clock:    clockwork.NewRealClock(),
		loc:      loc,
		interval: time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.current = Evaluate(nil, t.clock.Now(), loc)
	return t
}

// Current returns the last evaluated snapshot
func (t *Tracker) Current() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Tick re-reads the window and evaluates it once. A failed read keeps the
// last known window so a flaky source does not flip the status to loading.
func (t *Tracker) Tick(ctx context.Context) Snapshot {
	w, err := t.source(ctx)

	t.mu.Lock()
	if err != nil {
		utils.Warn("event window read failed, using last known window", map[string]any{"error": err.Error()})
		w = t.window
	} else {
		t.window = w
	}
	prev := t.current
	next := Evaluate(w, t.clock.Now(), t.loc)
	t.current = next
	hook := t.onTransition
	t.mu.Unlock()

	if hook != nil && prev.Status != next.Status {
		hook(prev, next)
	}
	return next
}

// Run ticks until ctx is done, sending each snapshot to out when out is not nil.
// Sends never block; a slow reader just misses intermediate snapshots.
func (t *Tracker) Run(ctx context.Context, out chan<- Snapshot) {
	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	emit(out, t.Tick(ctx))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			emit(out, t.Tick(ctx))
		}
	}
}

func emit(out chan<- Snapshot, s Snapshot) {
	if out == nil {
		return
	}
	select {
	case out <- s:
	default:
	}
}
