package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"table-bidding/internal/biddingerrors"
	model "table-bidding/internal/models"
	"table-bidding/utils"

	"github.com/jonboulle/clockwork"
)

// API is the subset of the bidding API the loop needs
type API interface {
	Tables(ctx context.Context) ([]model.Table, error)
	RecentBids(ctx context.Context, limit int) ([]model.Bid, error)
	PlaceBid(ctx context.Context, tableID string, amount int64) (model.Bid, model.Table, error)
}

// Poller refreshes a View on a fixed interval and on demand
type Poller struct {
	api      API
	view     *View
	clock    clockwork.Clock
	interval time.Duration
	timeout  time.Duration
	limit    int
	onUpdate func(Snapshot)

	refreshCh  chan struct{}
	submitting atomic.Bool
}

type Option func(*Poller)

func WithClock(clock clockwork.Clock) Option {
	return func(p *Poller) { p.clock = clock }
}

func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithRequestTimeout bounds each poll request
func WithRequestTimeout(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithRecentLimit(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.limit = n
		}
	}
}

// WithUpdateHook is called with a fresh snapshot after every refresh or applied patch
func WithUpdateHook(fn func(Snapshot)) Option {
	return func(p *Poller) { p.onUpdate = fn }
}

func New(api API, opts ...Option) *Poller {
	p := &Poller{
		api:       api,
		clock:     clockwork.NewRealClock(),
		interval:  time.Second,
		timeout:   5 * time.Second,
		limit:     DefaultRecentLimit,
		refreshCh: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.view = NewView(p.limit)
	return p
}

// View returns the reconciled state
func (p *Poller) View() *View {
	return p.view
}

// Run refreshes once, then on every tick and every requested refresh, until ctx is done
func (p *Poller) Run(ctx context.Context) {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.refreshLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.refreshLogged(ctx)
		case <-p.refreshCh:
			p.refreshLogged(ctx)
		}
	}
}

// Refresh fetches tables and recent bids once. Each half is applied on its own,
// so a failed bids fetch still updates the tables.
func (p *Poller) Refresh(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var errs []error
	if tables, err := p.api.Tables(reqCtx); err != nil {
		errs = append(errs, err)
	} else {
		p.view.ReplaceTables(tables, p.clock.Now())
	}
	if bids, err := p.api.RecentBids(reqCtx, p.limit); err != nil {
		errs = append(errs, err)
	} else {
		p.view.MergeBids(bids, p.clock.Now())
	}

	p.notify()
	return errors.Join(errs...)
}

// Apply merges a pushed change event
func (p *Poller) Apply(ev model.ChangeEvent) {
	if p.view.ApplyChange(ev) {
		p.notify()
	}
}

// RequestRefresh schedules an immediate refresh; requests coalesce
func (p *Poller) RequestRefresh() {
	select {
	case p.refreshCh <- struct{}{}:
	default:
	}
}

// SubmitBid places one bid at a time. The accepted result is applied locally
// and a refresh is requested once the write completes, accepted or not.
func (p *Poller) SubmitBid(ctx context.Context, tableID string, amount int64) (model.Bid, error) {
	if !p.submitting.CompareAndSwap(false, true) {
		return model.Bid{}, biddingerrors.ErrSubmissionInFlight
	}
	defer p.submitting.Store(false)

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	bid, table, err := p.api.PlaceBid(reqCtx, tableID, amount)
	defer p.RequestRefresh()
	if err != nil {
		return model.Bid{}, err
	}

	now := p.clock.Now()
	p.view.ApplyChange(model.TableUpdated(table, now))
	p.view.ApplyChange(model.BidInserted(bid, now))
	p.notify()
	return bid, nil
}

func (p *Poller) refreshLogged(ctx context.Context) {
	if err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
		utils.Warn("poll failed, retrying next interval", map[string]any{"error": err.Error()})
	}
}

func (p *Poller) notify() {
	if p.onUpdate != nil {
		p.onUpdate(p.view.Snapshot())
	}
}
