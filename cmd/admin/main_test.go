package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	model "table-bidding/internal/models"
	"table-bidding/internal/repository"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestEnv(t *testing.T) (*env, *repository.MemoryRepo, *bytes.Buffer) {
	t.Helper()
	repo := repository.NewMemoryRepo()
	out := &bytes.Buffer{}
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	now := time.Date(2026, 12, 31, 20, 0, 0, 0, loc)
	e := &env{
		store:    repo,
		migrate:  func(context.Context) error { return nil },
		out:      out,
		now:      func() time.Time { return now },
		loc:      loc,
		hashCost: bcrypt.MinCost,
	}
	return e, repo, out
}

func TestSeedCommand(t *testing.T) {
	t.Parallel()
	e, repo, out := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, dispatch(ctx, e, "seed", []string{"--file", "../../seed/tables.yaml", "--users", "3"}))
	require.Contains(t, out.String(), "upserted 12 tables")
	require.Contains(t, out.String(), "upserted 3 demo users")

	tables, err := repo.ListTables(ctx)
	require.NoError(t, err)
	require.Len(t, tables, 12)

	user, err := repo.GetUserByUsername(ctx, "user3")
	require.NoError(t, err)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("password3")))
}

func TestWindowCommands(t *testing.T) {
	t.Parallel()
	e, repo, out := newTestEnv(t)
	ctx := context.Background()
	repo.AddTable(model.Table{ID: "vip1", Category: model.CategoryVIP, BasePrice: 30000, CurrentBid: 30000})
	repo.AddTable(model.Table{ID: "standing1", Category: model.CategoryStanding, BasePrice: 25000, CurrentBid: 25000})

	require.NoError(t, dispatch(ctx, e, "activate", nil))
	require.Contains(t, out.String(), "activated 2 tables")

	require.NoError(t, dispatch(ctx, e, "start-now", []string{"--hours", "5"}))
	vip, err := repo.GetTable(ctx, "vip1")
	require.NoError(t, err)
	require.True(t, vip.IsActive)
	require.True(t, vip.BiddingStartsAt.Equal(e.now()))
	require.True(t, vip.BiddingEndsAt.Equal(e.now().Add(5*time.Hour)))
	version := vip.Version

	require.NoError(t, dispatch(ctx, e, "extend", []string{"--hours", "1.5"}))
	vip, err = repo.GetTable(ctx, "vip1")
	require.NoError(t, err)
	require.True(t, vip.BiddingEndsAt.Equal(e.now().Add(6*time.Hour+30*time.Minute)))
	require.Greater(t, vip.Version, version)

	require.NoError(t, dispatch(ctx, e, "set-window",
		[]string{"--start", "2026-12-31T18:00:00+05:30", "--end", "2026-12-31T23:00:00+05:30"}))
	vip, err = repo.GetTable(ctx, "vip1")
	require.NoError(t, err)
	require.Equal(t, "2026-12-31T12:30:00Z", vip.BiddingStartsAt.UTC().Format(time.RFC3339))

	out.Reset()
	require.NoError(t, dispatch(ctx, e, "status", nil))
	require.Contains(t, out.String(), "event: live (03:00:00 remaining, Asia/Kolkata)")
	require.Contains(t, out.String(), "vip1")
}

func TestCommandErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name    string
		command string
		args    []string
	}{
		{name: "unknown command", command: "drop-everything"},
		{name: "extend without hours", command: "extend"},
		{name: "non-positive start-now", command: "start-now", args: []string{"--hours", "0"}},
		{name: "bad start", command: "set-window", args: []string{"--start", "tonight", "--end", "2026-12-31T23:00:00Z"}},
		{name: "end before start", command: "set-window",
			args: []string{"--start", "2026-12-31T23:00:00Z", "--end", "2026-12-31T18:00:00Z"}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			e, _, _ := newTestEnv(t)
			err := dispatch(ctx, e, tc.command, tc.args)
			require.Error(t, err)
			require.True(t, errors.Is(err, errUsage), err.Error())
		})
	}
}

func TestMigrateCommand(t *testing.T) {
	t.Parallel()
	e, _, out := newTestEnv(t)
	called := false
	e.migrate = func(context.Context) error {
		called = true
		return nil
	}

	require.NoError(t, dispatch(context.Background(), e, "migrate", nil))
	require.True(t, called)
	require.Contains(t, out.String(), "schema is up to date")
}
