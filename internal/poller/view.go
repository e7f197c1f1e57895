// Package poller keeps a client-side copy of the tables and recent bids fresh
// by polling the API and applying pushed change events.
package poller

import (
	"sort"
	"sync"
	"time"

	model "table-bidding/internal/models"
)

// DefaultRecentLimit bounds the recent-activity list
const DefaultRecentLimit = 20

// Snapshot is an immutable copy of the view
type Snapshot struct {
	Tables    []model.Table
	Bids      []model.Bid
	UpdatedAt time.Time
}

// HighestBidder returns the active table with the highest current bid that has a leader
func (s Snapshot) HighestBidder() (model.Table, bool) {
	var best model.Table
	found := false
	for _, t := range s.Tables {
		if !t.IsActive || t.HighestBidderUsername == nil {
			continue
		}
		if !found || t.CurrentBid > best.CurrentBid {
			best, found = t, true
		}
	}
	return best, found
}

// View is the reconciled client state. Tables are keyed by id; bids are kept
// most recent first and bounded.
type View struct {
	mu        sync.RWMutex
	tables    map[string]model.Table
	bids      []model.Bid
	limit     int
	updatedAt time.Time
}

func NewView(limit int) *View {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return &View{tables: make(map[string]model.Table), limit: limit}
}

// ReplaceTables swaps in a full poll result
func (v *View) ReplaceTables(tables []model.Table, at time.Time) {
	next := make(map[string]model.Table, len(tables))
	for _, t := range tables {
		next[t.ID] = t.Clone()
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.tables = next
	v.updatedAt = at
}

// MergeBids adds bids not seen before and refreshes known ones (is_winning
// may have been cleared). It returns how many were new.
func (v *View) MergeBids(bids []model.Bid, at time.Time) int {
	v.mu.Lock()
	defer v.mu.Unlock()

	added := 0
	for _, b := range bids {
		if v.upsertBidLocked(b) {
			added++
		}
	}
	v.trimLocked()
	v.updatedAt = at
	return added
}

// ApplyChange applies one pushed patch. A table patch older than the local
// copy is ignored. It reports whether the view changed.
func (v *View) ApplyChange(ev model.ChangeEvent) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch ev.Type {
	case model.ChangeTableUpdated:
		if ev.Table == nil {
			return false
		}
		if cur, ok := v.tables[ev.Table.ID]; ok && ev.Table.Version < cur.Version {
			return false
		}
		v.tables[ev.Table.ID] = ev.Table.Clone()
	case model.ChangeBidInserted:
		if ev.Bid == nil {
			return false
		}
		v.upsertBidLocked(*ev.Bid)
		if ev.Bid.IsWinning {
			for i := range v.bids {
				if v.bids[i].TableID == ev.Bid.TableID && v.bids[i].BidID != ev.Bid.BidID {
					v.bids[i].IsWinning = false
				}
			}
		}
		v.trimLocked()
	default:
		return false
	}
	if !ev.EmittedAt.IsZero() {
		v.updatedAt = ev.EmittedAt
	}
	return true
}

// Table returns the local copy of one table
func (v *View) Table(id string) (model.Table, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	t, ok := v.tables[id]
	return t.Clone(), ok
}

// Snapshot returns a copy of the view with tables ordered by id
func (v *View) Snapshot() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()

	tables := make([]model.Table, 0, len(v.tables))
	for _, t := range v.tables {
		tables = append(tables, t.Clone())
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].ID < tables[j].ID })

	bids := make([]model.Bid, len(v.bids))
	copy(bids, v.bids)

	return Snapshot{Tables: tables, Bids: bids, UpdatedAt: v.updatedAt}
}

func (v *View) upsertBidLocked(b model.Bid) bool {
	for i := range v.bids {
		if v.bids[i].BidID == b.BidID {
			v.bids[i] = b
			return false
		}
	}
	v.bids = append(v.bids, b)
	return true
}

func (v *View) trimLocked() {
	sort.SliceStable(v.bids, func(i, j int) bool {
		if !v.bids[i].BidTime.Equal(v.bids[j].BidTime) {
			return v.bids[i].BidTime.After(v.bids[j].BidTime)
		}
		return v.bids[i].BidID > v.bids[j].BidID
	})
	if len(v.bids) > v.limit {
		v.bids = v.bids[:v.limit]
	}
}
