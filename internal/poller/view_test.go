package poller

import (
	"testing"
	"time"

	model "table-bidding/internal/models"

	"github.com/stretchr/testify/require"
)

func bidAt(id, table string, amount int64, at time.Time) model.Bid {
	return model.Bid{BidID: id, TableID: table, Amount: amount, BidTime: at, IsWinning: true}
}

func TestView_MergeBidsDedupesAndBounds(t *testing.T) {
	t.Parallel()

	v := NewView(3)
	base := time.Date(2026, 12, 31, 13, 0, 0, 0, time.UTC)

	added := v.MergeBids([]model.Bid{
		bidAt("b1", "vip1", 31000, base),
		bidAt("b2", "vip1", 32000, base.Add(time.Second)),
	}, base)
	require.Equal(t, 2, added)

	// overlapping poll: b2 again plus two newer bids
	added = v.MergeBids([]model.Bid{
		bidAt("b2", "vip1", 32000, base.Add(time.Second)),
		bidAt("b3", "vip2", 51000, base.Add(2*time.Second)),
		bidAt("b4", "vip1", 33000, base.Add(3*time.Second)),
	}, base)
	require.Equal(t, 2, added)

	snap := v.Snapshot()
	require.Len(t, snap.Bids, 3)
	require.Equal(t, []string{"b4", "b3", "b2"}, []string{snap.Bids[0].BidID, snap.Bids[1].BidID, snap.Bids[2].BidID})
}

func TestView_ApplyChange(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 12, 31, 13, 0, 0, 0, time.UTC)
	leader := "user1"

	tests := []struct {
		name        string
		initial     []model.Table
		event       model.ChangeEvent
		wantChanged bool
		wantVersion int64
		wantBid     int64
	}{
		{
			name:        "newer_version_replaces",
			initial:     []model.Table{{ID: "vip1", CurrentBid: 30000, Version: 1}},
			event:       model.TableUpdated(model.Table{ID: "vip1", CurrentBid: 31000, Version: 2, HighestBidderUsername: &leader}, now),
			wantChanged: true,
			wantVersion: 2,
			wantBid:     31000,
		},
		{
			name:        "same_version_is_idempotent",
			initial:     []model.Table{{ID: "vip1", CurrentBid: 31000, Version: 2}},
			event:       model.TableUpdated(model.Table{ID: "vip1", CurrentBid: 31000, Version: 2}, now),
			wantChanged: true,
			wantVersion: 2,
			wantBid:     31000,
		},
		{
			name:        "stale_version_ignored",
			initial:     []model.Table{{ID: "vip1", CurrentBid: 33000, Version: 4}},
			event:       model.TableUpdated(model.Table{ID: "vip1", CurrentBid: 31000, Version: 2}, now),
			wantChanged: false,
			wantVersion: 4,
			wantBid:     33000,
		},
		{
			name:        "unknown_table_added",
			initial:     nil,
			event:       model.TableUpdated(model.Table{ID: "vip1", CurrentBid: 30000, Version: 1}, now),
			wantChanged: true,
			wantVersion: 1,
			wantBid:     30000,
		},
		{
			name:        "empty_patch_ignored",
			initial:     []model.Table{{ID: "vip1", CurrentBid: 30000, Version: 1}},
			event:       model.ChangeEvent{Type: model.ChangeTableUpdated},
			wantChanged: false,
			wantVersion: 1,
			wantBid:     30000,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			v := NewView(0)
			v.ReplaceTables(tc.initial, now)
			require.Equal(t, tc.wantChanged, v.ApplyChange(tc.event))

			got, ok := v.Table("vip1")
			require.True(t, ok)
			require.Equal(t, tc.wantVersion, got.Version)
			require.Equal(t, tc.wantBid, got.CurrentBid)
		})
	}
}

func TestView_BidInsertedClearsPreviousWinner(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 12, 31, 13, 0, 0, 0, time.UTC)
	v := NewView(0)
	v.MergeBids([]model.Bid{bidAt("b1", "vip1", 31000, now), bidAt("x1", "vip2", 51000, now)}, now)

	ev := model.BidInserted(bidAt("b2", "vip1", 32000, now.Add(time.Second)), now)
	require.True(t, v.ApplyChange(ev))
	require.True(t, v.ApplyChange(ev))

	snap := v.Snapshot()
	require.Len(t, snap.Bids, 3)
	for _, b := range snap.Bids {
		switch b.BidID {
		case "b1":
			require.False(t, b.IsWinning)
		case "b2", "x1":
			require.True(t, b.IsWinning)
		}
	}
}

func TestSnapshot_HighestBidder(t *testing.T) {
	t.Parallel()

	a, b := "user1", "user2"
	snap := Snapshot{Tables: []model.Table{
		{ID: "vip1", CurrentBid: 31000, HighestBidderUsername: &a, IsActive: true},
		{ID: "vip2", CurrentBid: 60000, HighestBidderUsername: &b, IsActive: false},
		{ID: "vip3", CurrentBid: 40000, IsActive: true},
		{ID: "vip4", CurrentBid: 45000, HighestBidderUsername: &b, IsActive: true},
	}}

	best, ok := snap.HighestBidder()
	require.True(t, ok)
	require.Equal(t, "vip4", best.ID)

	_, ok = Snapshot{}.HighestBidder()
	require.False(t, ok)
}
