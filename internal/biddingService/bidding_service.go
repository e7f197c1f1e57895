package bidding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"table-bidding/internal/biddingerrors"
	"table-bidding/internal/eventwindow"
	"table-bidding/internal/models"
	"table-bidding/internal/repository"
	"table-bidding/utils"

	"github.com/jonboulle/clockwork"
)

const (
	// DefaultMinIncrement is the amount a bid must exceed the current bid by
	DefaultMinIncrement int64 = 1000
	// DefaultRecentLimit bounds the recent-activity list
	DefaultRecentLimit = 20
	// MaxRecentLimit caps caller supplied limits
	MaxRecentLimit = 100
	// DefaultConflictRetries is how often a lost version race is re-evaluated
	DefaultConflictRetries = 3
)

// EventPublisher pushes change events to viewers
type EventPublisher interface {
	Publish(ctx context.Context, event models.ChangeEvent) error
}

// BidRecorder keeps an out-of-band record of accepted bids
type BidRecorder interface {
	RecordAcceptedBid(ctx context.Context, bid models.Bid, table models.Table) error
}

// BiddingService defines the business logic for table bidding
type BiddingService struct {
	repo            repository.AuctionDB
	clock           clockwork.Clock
	loc             *time.Location
	minIncrement    int64
	conflictRetries int
	recentLimit     int
	publisher       EventPublisher
	recorder        BidRecorder
}

// Option configures a BiddingService
type Option func(*BiddingService)

// WithClock swaps the time source
func WithClock(clock clockwork.Clock) Option {
	return func(s *BiddingService) { s.clock = clock }
}

// WithLocation sets the event time zone
func WithLocation(loc *time.Location) Option {
	return func(s *BiddingService) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithMinIncrement overrides the minimum bid increment
func WithMinIncrement(inc int64) Option {
	return func(s *BiddingService) {
		if inc > 0 {
			s.minIncrement = inc
		}
	}
}

// WithConflictRetries sets how many lost races are re-evaluated before giving up
func WithConflictRetries(n int) Option {
	return func(s *BiddingService) {
		if n >= 0 {
			s.conflictRetries = n
		}
	}
}

// WithRecentLimit sets the default size of the recent-activity list
func WithRecentLimit(n int) Option {
	return func(s *BiddingService) {
		if n > 0 && n <= MaxRecentLimit {
			s.recentLimit = n
		}
	}
}

// WithPublisher sets where accepted bids are announced
func WithPublisher(p EventPublisher) Option {
	return func(s *BiddingService) { s.publisher = p }
}

// WithRecorder sets the audit sink for accepted bids
func WithRecorder(r BidRecorder) Option {
	return func(s *BiddingService) { s.recorder = r }
}

// NewBiddingService creates a new BiddingService instance
func NewBiddingService(repo repository.AuctionDB, opts ...Option) *BiddingService {
	s := &BiddingService{
		repo:            repo,
		clock:           clockwork.NewRealClock(),
		loc:             time.UTC,
		minIncrement:    DefaultMinIncrement,
		conflictRetries: DefaultConflictRetries,
		recentLimit:     DefaultRecentLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MinIncrement returns the configured minimum increment
func (s *BiddingService) MinIncrement() int64 {
	return s.minIncrement
}

// PlaceBid validates and records a bid on a table. Rejections are checked in
// order: role, amount, table and window, minimum. A lost version race re-reads
// the table and validates again.
func (s *BiddingService) PlaceBid(ctx context.Context, actor models.Identity, tableID string, amount int64) (models.Bid, models.Table, error) {
	switch actor.Role {
	case models.RoleSpectator:
		return models.Bid{}, models.Table{}, fmt.Errorf("service: %w", biddingerrors.ErrSpectatorCannotBid)
	case models.RoleBidder:
		if !actor.IsBidder() {
			return models.Bid{}, models.Table{}, fmt.Errorf("service: %w - bidder without username", biddingerrors.ErrLoginRequired)
		}
	default:
		return models.Bid{}, models.Table{}, fmt.Errorf("service: %w", biddingerrors.ErrLoginRequired)
	}

	if amount <= 0 {
		return models.Bid{}, models.Table{}, fmt.Errorf("service: %w - non-positive bid amount", biddingerrors.ErrInvalidBid)
	}
	if tableID == "" {
		return models.Bid{}, models.Table{}, fmt.Errorf("service: %w - empty table ID", biddingerrors.ErrTableNotFound)
	}

	for attempt := 0; ; attempt++ {
		table, err := s.repo.GetTable(ctx, tableID)
		if err != nil {
			return models.Bid{}, models.Table{}, fmt.Errorf("service: failed to load table %s: %w", tableID, err)
		}

		if err := s.validateBid(table, amount, attempt > 0); err != nil {
			return models.Bid{}, models.Table{}, err
		}

		bid := models.Bid{
			BidID:       utils.GenerateID(),
			TableID:     table.ID,
			UserID:      actor.UserID,
			Username:    actor.Username,
			Amount:      amount,
			PreviousBid: table.CurrentBid,
			BidTime:     s.clock.Now().UTC(),
			IsWinning:   true,
		}

		updated, err := s.repo.ApplyBid(ctx, table.Version, bid)
		if errors.Is(err, biddingerrors.ErrVersionConflict) {
			utils.Warn("bid lost a version race", map[string]any{
				"table_id": tableID,
				"username": actor.Username,
				"amount":   amount,
				"attempt":  attempt + 1,
			})
			if attempt >= s.conflictRetries {
				return models.Bid{}, models.Table{}, fmt.Errorf("service: table %s kept changing: %w", tableID, err)
			}
			continue
		}
		if err != nil {
			return models.Bid{}, models.Table{}, fmt.Errorf("service: failed to record bid on table %s by %s: %w", tableID, actor.Username, err)
		}

		s.announce(ctx, bid, updated)
		return bid, updated, nil
	}
}

// validateBid checks the table state against the proposed amount
func (s *BiddingService) validateBid(table models.Table, amount int64, afterConflict bool) error {
	if !table.IsActive {
		return fmt.Errorf("service: %w - table %s is inactive", biddingerrors.ErrBiddingClosed, table.ID)
	}
	snap := eventwindow.Evaluate(eventwindow.TableWindow(table), s.clock.Now(), s.loc)
	if snap.Status != eventwindow.StatusLive {
		return fmt.Errorf("service: %w - table %s is %s", biddingerrors.ErrBiddingClosed, table.ID, snap.Status)
	}

	minimum := table.MinimumNextBid(s.minIncrement)
	if amount < minimum {
		return fmt.Errorf("service: %w", &biddingerrors.BidTooLowError{Minimum: minimum, Conflict: afterConflict})
	}
	return nil
}

// announce publishes and records an accepted bid. Failures never undo the bid.
func (s *BiddingService) announce(ctx context.Context, bid models.Bid, table models.Table) {
	now := s.clock.Now().UTC()
	if s.publisher != nil {
		for _, ev := range []models.ChangeEvent{models.TableUpdated(table, now), models.BidInserted(bid, now)} {
			if err := s.publisher.Publish(ctx, ev); err != nil {
				utils.Warn("failed to publish change event", map[string]any{
					"type":     ev.Type,
					"table_id": table.ID,
					"error":    err.Error(),
				})
			}
		}
	}
	if s.recorder != nil {
		if err := s.recorder.RecordAcceptedBid(ctx, bid, table); err != nil {
			utils.Warn("failed to record accepted bid", map[string]any{
				"bid_id": bid.BidID,
				"error":  err.Error(),
			})
		}
	}
}

// ListTables returns every table ordered by id
func (s *BiddingService) ListTables(ctx context.Context) ([]models.Table, error) {
	tables, err := s.repo.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list tables: %w", err)
	}
	if tables == nil {
		tables = []models.Table{}
	}
	return tables, nil
}

// RecentBids returns the most recent bids, newest first. The limit is clamped
// to [1, MaxRecentLimit]; non-positive values use the configured default.
func (s *BiddingService) RecentBids(ctx context.Context, limit int) ([]models.Bid, error) {
	switch {
	case limit <= 0:
		limit = s.recentLimit
	case limit > MaxRecentLimit:
		limit = MaxRecentLimit
	}

	bids, err := s.repo.GetRecentBids(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get recent bids: %w", err)
	}
	if bids == nil {
		bids = []models.Bid{}
	}
	return bids, nil
}

// HighestBidder returns the active table with the highest current bid
func (s *BiddingService) HighestBidder(ctx context.Context) (models.Table, error) {
	table, err := s.repo.GetHighestBidTable(ctx)
	if err != nil {
		return models.Table{}, fmt.Errorf("service: failed to get highest bidder: %w", err)
	}
	return table, nil
}

// GetWinningBid returns the winning bid of a table
func (s *BiddingService) GetWinningBid(ctx context.Context, tableID string) (models.Bid, error) {
	if tableID == "" {
		return models.Bid{}, fmt.Errorf("service: %w - empty table ID", biddingerrors.ErrTableNotFound)
	}
	bid, err := s.repo.GetWinningBid(ctx, tableID)
	if err != nil {
		return models.Bid{}, fmt.Errorf("service: failed to get winning bid for table %s: %w", tableID, err)
	}
	return bid, nil
}

// CurrentWindow derives the shared event window from the stored tables
func (s *BiddingService) CurrentWindow(ctx context.Context) (*eventwindow.Window, error) {
	tables, err := s.repo.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: failed to read event window: %w", err)
	}
	return eventwindow.WindowFromTables(tables), nil
}

// EventStatus evaluates the event window now
func (s *BiddingService) EventStatus(ctx context.Context) (eventwindow.Snapshot, error) {
	w, err := s.CurrentWindow(ctx)
	if err != nil {
		return eventwindow.Snapshot{}, err
	}
	return eventwindow.Evaluate(w, s.clock.Now(), s.loc), nil
}
