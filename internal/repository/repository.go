package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"table-bidding/internal/biddingerrors"
	model "table-bidding/internal/models"
)

// AuctionDB defines the table and bid storage used by the bidding service
type AuctionDB interface {
	ListTables(ctx context.Context) ([]model.Table, error)
	GetTable(ctx context.Context, tableID string) (model.Table, error)
	// ApplyBid stores bid and updates its table only if the table still has
	// expectedVersion; otherwise it returns ErrVersionConflict.
	ApplyBid(ctx context.Context, expectedVersion int64, bid model.Bid) (model.Table, error)
	GetRecentBids(ctx context.Context, limit int) ([]model.Bid, error)
	GetWinningBid(ctx context.Context, tableID string) (model.Bid, error)
	GetHighestBidTable(ctx context.Context) (model.Table, error)
}

// UserStore holds bidder accounts
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (model.User, error)
	UpsertUser(ctx context.Context, user model.User) error
}

// EventAdmin covers the administrative edits made outside the bidding flow
type EventAdmin interface {
	UpsertTable(ctx context.Context, table model.Table) error
	SetWindow(ctx context.Context, startsAt, endsAt time.Time) (int64, error)
	ExtendWindow(ctx context.Context, by time.Duration) (int64, error)
	ActivateAll(ctx context.Context) (int64, error)
}

// MemoryRepo is a concurrency-safe in-memory implementation of AuctionDB, UserStore and EventAdmin
type MemoryRepo struct {
	mu      sync.RWMutex
	tables  map[string]model.Table
	bids    []model.Bid    // insertion order
	winning map[string]int // key: tableID -> index of the winning bid in bids
	users   map[string]model.User
	now     func() time.Time
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		tables:  make(map[string]model.Table),
		winning: make(map[string]int),
		users:   make(map[string]model.User),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ListTables returns all tables ordered by id
func (r *MemoryRepo) ListTables(_ context.Context) ([]model.Table, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tables := make([]model.Table, 0, len(r.tables))
	for _, t := range r.tables {
		tables = append(tables, t.Clone())
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].ID < tables[j].ID })
	return tables, nil
}

// GetTable returns a single table
func (r *MemoryRepo) GetTable(_ context.Context, tableID string) (model.Table, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tables[tableID]
	if !ok {
		return model.Table{}, fmt.Errorf("get table %s: %w", tableID, biddingerrors.ErrTableNotFound)
	}
	return t.Clone(), nil
}

// ApplyBid records an accepted bid with a version compare-and-swap on its table
func (r *MemoryRepo) ApplyBid(_ context.Context, expectedVersion int64, bid model.Bid) (model.Table, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tables[bid.TableID]
	if !ok {
		return model.Table{}, fmt.Errorf("apply bid on table %s: %w", bid.TableID, biddingerrors.ErrTableNotFound)
	}
	if t.Version != expectedVersion {
		return model.Table{}, fmt.Errorf("apply bid on table %s (have version %d, want %d): %w",
			bid.TableID, t.Version, expectedVersion, biddingerrors.ErrVersionConflict)
	}

	if idx, ok := r.winning[bid.TableID]; ok {
		r.bids[idx].IsWinning = false
	}
	bid.IsWinning = true
	r.bids = append(r.bids, bid)
	r.winning[bid.TableID] = len(r.bids) - 1

	username := bid.Username
	t.CurrentBid = bid.Amount
	t.HighestBidderUsername = &username
	t.BidCount++
	t.Version++
	t.UpdatedAt = r.now()
	r.tables[t.ID] = t

	return t.Clone(), nil
}

// GetRecentBids returns up to limit bids, most recent first
func (r *MemoryRepo) GetRecentBids(_ context.Context, limit int) ([]model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.bids) {
		limit = len(r.bids)
	}
	out := make([]model.Bid, 0, limit)
	for i := len(r.bids) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.bids[i])
	}
	return out, nil
}

// GetBid returns a single bid by id
func (r *MemoryRepo) GetBid(_ context.Context, bidID string) (model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.bids) - 1; i >= 0; i-- {
		if r.bids[i].BidID == bidID {
			return r.bids[i], nil
		}
	}
	return model.Bid{}, fmt.Errorf("get bid %s: %w", bidID, biddingerrors.ErrNoBids)
}

// GetWinningBid returns the bid currently marked as winning on a table
func (r *MemoryRepo) GetWinningBid(_ context.Context, tableID string) (model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.winning[tableID]
	if !ok {
		return model.Bid{}, fmt.Errorf("get winning bid for table %s: %w", tableID, biddingerrors.ErrNoBids)
	}
	return r.bids[idx], nil
}

// GetHighestBidTable returns the active table with the highest current bid, ties by id
func (r *MemoryRepo) GetHighestBidTable(ctx context.Context) (model.Table, error) {
	tables, _ := r.ListTables(ctx)

	var best *model.Table
	for i := range tables {
		t := &tables[i]
		if !t.IsActive {
			continue
		}
		if best == nil || t.CurrentBid > best.CurrentBid {
			best = t
		}
	}
	if best == nil {
		return model.Table{}, fmt.Errorf("get highest bid table: %w", biddingerrors.ErrNoActiveTables)
	}
	return *best, nil
}

// GetUserByUsername returns a user account
func (r *MemoryRepo) GetUserByUsername(_ context.Context, username string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[username]
	if !ok {
		return model.User{}, fmt.Errorf("get user %s: %w", username, biddingerrors.ErrUserNotFound)
	}
	return u, nil
}

// UpsertUser creates or replaces a user account keyed by username
func (r *MemoryRepo) UpsertUser(_ context.Context, user model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.users[user.Username]; ok {
		user.UserID = existing.UserID
		user.CreatedAt = existing.CreatedAt
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = r.now()
	}
	r.users[user.Username] = user
	return nil
}

// UpsertTable seeds or replaces a table's static attributes. Bidding state
// (current bid, leader, count) survives a re-seed of an existing table.
func (r *MemoryRepo) UpsertTable(_ context.Context, table model.Table) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing, ok := r.tables[table.ID]; ok {
		table.CurrentBid = existing.CurrentBid
		table.HighestBidderUsername = existing.HighestBidderUsername
		table.BidCount = existing.BidCount
		table.Version = existing.Version + 1
		table.CreatedAt = existing.CreatedAt
	} else {
		table.CurrentBid = table.BasePrice
		table.CreatedAt = now
	}
	if table.CurrentBid < table.BasePrice {
		table.CurrentBid = table.BasePrice
	}
	table.UpdatedAt = now
	r.tables[table.ID] = table.Clone()
	return nil
}

// SetWindow assigns the same window to every table
func (r *MemoryRepo) SetWindow(_ context.Context, startsAt, endsAt time.Time) (int64, error) {
	return r.mutateAll(func(t *model.Table) bool {
		s, e := startsAt.UTC(), endsAt.UTC()
		t.BiddingStartsAt, t.BiddingEndsAt = &s, &e
		return true
	}), nil
}

// ExtendWindow pushes every table's end time out by the given duration
func (r *MemoryRepo) ExtendWindow(_ context.Context, by time.Duration) (int64, error) {
	return r.mutateAll(func(t *model.Table) bool {
		if t.BiddingEndsAt == nil {
			return false
		}
		e := t.BiddingEndsAt.Add(by)
		t.BiddingEndsAt = &e
		return true
	}), nil
}

// ActivateAll marks every table active
func (r *MemoryRepo) ActivateAll(_ context.Context) (int64, error) {
	return r.mutateAll(func(t *model.Table) bool {
		if t.IsActive {
			return false
		}
		t.IsActive = true
		return true
	}), nil
}

func (r *MemoryRepo) mutateAll(fn func(t *model.Table) bool) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var changed int64
	for id, t := range r.tables {
		if !fn(&t) {
			continue
		}
		t.Version++
		t.UpdatedAt = r.now()
		r.tables[id] = t
		changed++
	}
	return changed
}

// AddTable adds a table as-is. This method is intended for tests and seeding only.
func (r *MemoryRepo) AddTable(table model.Table) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables[table.ID] = table.Clone()
}
