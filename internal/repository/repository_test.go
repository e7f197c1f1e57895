package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"table-bidding/internal/biddingerrors"
	model "table-bidding/internal/models"

	"github.com/stretchr/testify/require"
)

// Helper to create a new Table
func newTable(id string, category model.Category, currentBid int64) model.Table {
	return model.Table{
		ID:         id,
		Name:       id,
		Category:   category,
		Pax:        "6-8",
		BasePrice:  currentBid,
		CurrentBid: currentBid,
		IsActive:   true,
	}
}

// Helper to create a new Bid
func newBid(bidID, tableID, username string, amount, previous int64, at time.Time) model.Bid {
	return model.Bid{
		BidID:       bidID,
		TableID:     tableID,
		UserID:      "id-" + username,
		Username:    username,
		Amount:      amount,
		PreviousBid: previous,
		BidTime:     at,
	}
}

// Test ApplyBid
func TestMemoryRepo_ApplyBid(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMemoryRepo()
	repo.tables["vip1"] = newTable("vip1", model.CategoryVIP, 30000)

	now := time.Now().UTC()

	first, err := repo.ApplyBid(ctx, 0, newBid("bid1", "vip1", "user1", 31000, 30000, now))
	require.NoError(t, err)
	require.Equal(t, int64(31000), first.CurrentBid)
	require.Equal(t, "user1", first.HighestBidder())
	require.Equal(t, 1, first.BidCount)
	require.Equal(t, int64(1), first.Version)

	// stale version is rejected without any change
	_, err = repo.ApplyBid(ctx, 0, newBid("bid2", "vip1", "user2", 32000, 30000, now))
	require.True(t, errors.Is(err, biddingerrors.ErrVersionConflict))

	second, err := repo.ApplyBid(ctx, 1, newBid("bid3", "vip1", "user2", 32000, 31000, now.Add(time.Second)))
	require.NoError(t, err)
	require.Equal(t, int64(32000), second.CurrentBid)
	require.Equal(t, int64(2), second.Version)

	winners := 0
	for _, b := range repo.bids {
		if b.TableID == "vip1" && b.IsWinning {
			winners++
			require.Equal(t, "bid3", b.BidID)
		}
	}
	require.Equal(t, 1, winners)
	require.Len(t, repo.bids, 2)

	_, err = repo.ApplyBid(ctx, 0, newBid("bid4", "missing", "user1", 1000, 0, now))
	require.True(t, errors.Is(err, biddingerrors.ErrTableNotFound))

	// the returned table must not alias repository state
	*second.HighestBidderUsername = "mallory"
	stored, err := repo.GetTable(ctx, "vip1")
	require.NoError(t, err)
	require.Equal(t, "user2", stored.HighestBidder())
}

// Test that concurrent writers on one version produce exactly one winner
func TestMemoryRepo_ApplyBid_Concurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMemoryRepo()
	repo.AddTable(newTable("vip1", model.CategoryVIP, 30000))

	var wg sync.WaitGroup
	var accepted, conflicts int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bid := newBid(fmt.Sprintf("bid%d", i), "vip1", fmt.Sprintf("user%d", i), int64(31000+i), 30000, time.Now())
			_, err := repo.ApplyBid(ctx, 0, bid)
			switch {
			case err == nil:
				atomic.AddInt32(&accepted, 1)
			case errors.Is(err, biddingerrors.ErrVersionConflict):
				atomic.AddInt32(&conflicts, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), accepted)
	require.Equal(t, int32(49), conflicts)

	table, err := repo.GetTable(ctx, "vip1")
	require.NoError(t, err)
	require.Equal(t, int64(1), table.Version)
	require.Equal(t, 1, table.BidCount)
}

// Test GetRecentBids and GetWinningBid
func TestMemoryRepo_Reads(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMemoryRepo()
	repo.AddTable(newTable("vip1", model.CategoryVIP, 30000))
	repo.AddTable(newTable("standing1", model.CategoryStanding, 25000))

	_, err := repo.GetWinningBid(ctx, "vip1")
	require.True(t, errors.Is(err, biddingerrors.ErrNoBids))

	now := time.Now().UTC()
	_, err = repo.ApplyBid(ctx, 0, newBid("b1", "vip1", "user1", 31000, 30000, now))
	require.NoError(t, err)
	_, err = repo.ApplyBid(ctx, 0, newBid("b2", "standing1", "user2", 26000, 25000, now.Add(time.Second)))
	require.NoError(t, err)
	_, err = repo.ApplyBid(ctx, 1, newBid("b3", "vip1", "user3", 33000, 31000, now.Add(2*time.Second)))
	require.NoError(t, err)

	tests := []struct {
		name    string
		limit   int
		wantIDs []string
	}{
		{name: "all", limit: 20, wantIDs: []string{"b3", "b2", "b1"}},
		{name: "bounded", limit: 2, wantIDs: []string{"b3", "b2"}},
		{name: "zero_means_all", limit: 0, wantIDs: []string{"b3", "b2", "b1"}},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			bids, err := repo.GetRecentBids(ctx, tc.limit)
			require.NoError(t, err)
			ids := make([]string, 0, len(bids))
			for _, b := range bids {
				ids = append(ids, b.BidID)
			}
			require.Equal(t, tc.wantIDs, ids)
		})
	}

	winning, err := repo.GetWinningBid(ctx, "vip1")
	require.NoError(t, err)
	require.Equal(t, "b3", winning.BidID)

	old, err := repo.GetBid(ctx, "b1")
	require.NoError(t, err)
	require.False(t, old.IsWinning)

	highest, err := repo.GetHighestBidTable(ctx)
	require.NoError(t, err)
	require.Equal(t, "vip1", highest.ID)
}

func TestMemoryRepo_GetHighestBidTable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("no_tables", func(t *testing.T) {
		_, err := NewMemoryRepo().GetHighestBidTable(ctx)
		require.True(t, errors.Is(err, biddingerrors.ErrNoActiveTables))
	})

	t.Run("inactive_ignored", func(t *testing.T) {
		repo := NewMemoryRepo()
		inactive := newTable("vip9", model.CategoryVIP, 90000)
		inactive.IsActive = false
		repo.AddTable(inactive)
		repo.AddTable(newTable("vip2", model.CategoryVIP, 40000))
		repo.AddTable(newTable("vip1", model.CategoryVIP, 40000))

		got, err := repo.GetHighestBidTable(ctx)
		require.NoError(t, err)
		require.Equal(t, "vip1", got.ID)
	})
}

func TestMemoryRepo_Admin(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMemoryRepo()

	require.NoError(t, repo.UpsertTable(ctx, newTable("vip1", model.CategoryVIP, 30000)))
	_, err := repo.ApplyBid(ctx, 0, newBid("b1", "vip1", "user1", 31000, 30000, time.Now()))
	require.NoError(t, err)

	// re-seeding keeps bidding state and bumps the version
	reseed := newTable("vip1", model.CategoryVIP, 30000)
	reseed.Name = "VIP One"
	require.NoError(t, repo.UpsertTable(ctx, reseed))
	table, err := repo.GetTable(ctx, "vip1")
	require.NoError(t, err)
	require.Equal(t, "VIP One", table.Name)
	require.Equal(t, int64(31000), table.CurrentBid)
	require.Equal(t, int64(2), table.Version)

	start := time.Date(2026, 12, 31, 12, 30, 0, 0, time.UTC)
	n, err := repo.SetWindow(ctx, start, start.Add(5*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = repo.ExtendWindow(ctx, 2*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	table, err = repo.GetTable(ctx, "vip1")
	require.NoError(t, err)
	require.True(t, table.BiddingEndsAt.Equal(start.Add(7*time.Hour)))
	require.Equal(t, int64(4), table.Version)

	inactive := newTable("standing1", model.CategoryStanding, 25000)
	inactive.IsActive = false
	require.NoError(t, repo.UpsertTable(ctx, inactive))
	n, err = repo.ActivateAll(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestMemoryRepo_Users(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMemoryRepo()

	_, err := repo.GetUserByUsername(ctx, "user1")
	require.True(t, errors.Is(err, biddingerrors.ErrUserNotFound))

	require.NoError(t, repo.UpsertUser(ctx, model.User{UserID: "u1", Username: "user1", PasswordHash: "h1"}))
	require.NoError(t, repo.UpsertUser(ctx, model.User{UserID: "u2", Username: "user1", PasswordHash: "h2"}))

	u, err := repo.GetUserByUsername(ctx, "user1")
	require.NoError(t, err)
	require.Equal(t, "u1", u.UserID)
	require.Equal(t, "h2", u.PasswordHash)
}

func TestParseSeed(t *testing.T) {
	t.Parallel()

	valid := []byte(`
event:
  starts_at: 2026-12-31T18:00:00+05:30
  ends_at: 2026-12-31T23:00:00+05:30
tables:
  - {id: vip1, category: VIP, pax: "6-8", base_price: 30000, is_active: true}
  - id: standing1
    name: Standing 1
    category: Standing
    pax: "5"
    base_price: 25000
    bidding_ends_at: 2026-12-31T22:00:00+05:30
`)

	seed, err := ParseSeed(valid)
	require.NoError(t, err)
	require.Len(t, seed.Tables, 2)
	require.Equal(t, "vip1", seed.Tables[0].Name)
	require.True(t, seed.Tables[0].BiddingStartsAt.Equal(*seed.Event.StartsAt))
	require.True(t, seed.Tables[1].BiddingEndsAt.Before(*seed.Event.EndsAt))

	repo := NewMemoryRepo()
	n, err := seed.Apply(context.Background(), repo)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	invalid := []struct {
		name string
		data string
	}{
		{name: "missing_id", data: "tables:\n  - {category: VIP}\n"},
		{name: "bad_category", data: "tables:\n  - {id: x1, category: Gold}\n"},
		{name: "duplicate", data: "tables:\n  - {id: x1, category: VIP}\n  - {id: x1, category: VIP}\n"},
		{name: "negative_price", data: "tables:\n  - {id: x1, category: VIP, base_price: -1}\n"},
		{name: "not_yaml", data: "tables: [\n"},
	}
	for _, tc := range invalid {
		_, err := ParseSeed([]byte(tc.data))
		require.Error(t, err, tc.name)
	}
}

func TestFallbackTables(t *testing.T) {
	t.Parallel()

	tables := FallbackTables()
	require.Len(t, tables, 12)
	require.Equal(t, "vip1", tables[0].ID)
	require.Equal(t, int64(30000), tables[0].CurrentBid)
	require.Equal(t, "standing4", tables[11].ID)
	require.Equal(t, int64(25000), tables[11].CurrentBid)
	for _, tbl := range tables {
		require.Nil(t, tbl.BiddingStartsAt)
	}
}

func TestDemoUsers(t *testing.T) {
	t.Parallel()

	users := DemoUsers(40)
	require.Len(t, users, 40)
	require.Equal(t, DemoUser{Username: "user40", Password: "password40"}, users[39])

	require.NotPanics(t, func() { require.Empty(t, DemoUsers(-3)) })
}
