// Command admin performs maintenance on the event store: schema migration,
// seeding, and bidding window edits. Every edit bumps the affected tables'
// version, so in-flight bids are re-evaluated and viewers are notified.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"table-bidding/internal/config"
	"table-bidding/internal/eventwindow"
	model "table-bidding/internal/models"
	"table-bidding/internal/repository"
	"table-bidding/internal/session"
	"table-bidding/utils"

	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"
)

var errUsage = errors.New("usage")

// adminStore is what the subcommands edit
type adminStore interface {
	repository.EventAdmin
	repository.UserStore
	ListTables(ctx context.Context) ([]model.Table, error)
}

type env struct {
	store    adminStore
	migrate  func(ctx context.Context) error
	out      io.Writer
	now      func() time.Time
	loc      *time.Location
	hashCost int
}

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, e *env, args []string) error
}

var commands = []command{
	{"migrate", "create or update the schema", runMigrate},
	{"seed", "upsert tables from a seating file and create demo users", runSeed},
	{"start-now", "open the bidding window now for a number of hours", runStartNow},
	{"extend", "push the end of the bidding window out", runExtend},
	{"set-window", "set an explicit bidding window", runSetWindow},
	{"activate", "mark every table active", runActivate},
	{"status", "print the tables and the evaluated window", runStatus},
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		utils.Fatal("failed to load config", map[string]any{"error": err.Error()})
	}
	utils.SetLevel(cfg.Log.Level)
	if cfg.Database.URL == "" {
		utils.Fatal("database.url is required (BIDDING_DATABASE_URL)", nil)
	}
	loc, err := eventwindow.LoadLocation(cfg.Event.Timezone)
	if err != nil {
		utils.Fatal("failed to load event timezone", map[string]any{"error": err.Error()})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := repository.NewPostgresPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		utils.Fatal("failed to connect to database", map[string]any{"error": err.Error()})
	}
	repo := repository.NewPostgresRepo(pool)
	defer repo.Close()

	e := &env{
		store:    repo,
		migrate:  func(ctx context.Context) error { return repository.RunMigrations(ctx, pool) },
		out:      os.Stdout,
		now:      time.Now,
		loc:      loc,
		hashCost: bcrypt.DefaultCost,
	}

	if err := dispatch(ctx, e, os.Args[1], os.Args[2:]); err != nil {
		if errors.Is(err, errUsage) || errors.Is(err, pflag.ErrHelp) {
			os.Exit(2)
		}
		utils.Error("admin command failed", map[string]any{"command": os.Args[1], "error": err.Error()})
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, e *env, name string, args []string) error {
	for _, c := range commands {
		if c.name == name {
			return c.run(ctx, e, args)
		}
	}
	usage(e.out)
	return fmt.Errorf("%w: unknown command %q", errUsage, name)
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: admin <command> [flags]")
	fmt.Fprintln(w)
	for _, c := range commands {
		fmt.Fprintf(w, "  %-11s %s\n", c.name, c.summary)
	}
}

func newFlags(name string, out io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func runMigrate(ctx context.Context, e *env, args []string) error {
	if err := newFlags("migrate", e.out).Parse(args); err != nil {
		return err
	}
	if err := e.migrate(ctx); err != nil {
		return err
	}
	fmt.Fprintln(e.out, "schema is up to date")
	return nil
}

func runSeed(ctx context.Context, e *env, args []string) error {
	fs := newFlags("seed", e.out)
	file := fs.StringP("file", "f", "seed/tables.yaml", "seating file")
	users := fs.IntP("users", "u", 40, "number of demo users (0 to skip)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	seed, err := repository.LoadSeedFile(*file)
	if err != nil {
		return err
	}
	n, err := seed.Apply(ctx, e.store)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "upserted %d tables from %s\n", n, *file)

	if *users > 0 {
		created, err := session.SeedDemoUsers(ctx, e.store, *users, e.hashCost)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.out, "upserted %d demo users\n", created)
	}
	return nil
}

func runStartNow(ctx context.Context, e *env, args []string) error {
	fs := newFlags("start-now", e.out)
	hours := fs.Float64("hours", 5, "window length in hours")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *hours <= 0 {
		return fmt.Errorf("%w: --hours must be positive", errUsage)
	}

	starts := e.now().In(e.loc)
	ends := starts.Add(time.Duration(*hours * float64(time.Hour)))
	return setWindow(ctx, e, starts, ends)
}

func runExtend(ctx context.Context, e *env, args []string) error {
	fs := newFlags("extend", e.out)
	hours := fs.Float64("hours", 0, "hours to add to the end of the window")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *hours <= 0 {
		return fmt.Errorf("%w: --hours must be positive", errUsage)
	}

	n, err := e.store.ExtendWindow(ctx, time.Duration(*hours*float64(time.Hour)))
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "extended the window of %d tables by %gh\n", n, *hours)
	return nil
}

func runSetWindow(ctx context.Context, e *env, args []string) error {
	fs := newFlags("set-window", e.out)
	start := fs.String("start", "", "window start, RFC3339")
	end := fs.String("end", "", "window end, RFC3339")
	if err := fs.Parse(args); err != nil {
		return err
	}

	starts, err := time.Parse(time.RFC3339, *start)
	if err != nil {
		return fmt.Errorf("%w: --start: %v", errUsage, err)
	}
	ends, err := time.Parse(time.RFC3339, *end)
	if err != nil {
		return fmt.Errorf("%w: --end: %v", errUsage, err)
	}
	if !ends.After(starts) {
		return fmt.Errorf("%w: --end must be after --start", errUsage)
	}
	return setWindow(ctx, e, starts, ends)
}

func setWindow(ctx context.Context, e *env, starts, ends time.Time) error {
	n, err := e.store.SetWindow(ctx, starts, ends)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "window set on %d tables: %s .. %s\n", n,
		starts.In(e.loc).Format(time.RFC3339), ends.In(e.loc).Format(time.RFC3339))
	return nil
}

func runActivate(ctx context.Context, e *env, args []string) error {
	if err := newFlags("activate", e.out).Parse(args); err != nil {
		return err
	}
	n, err := e.store.ActivateAll(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "activated %d tables\n", n)
	return nil
}

func runStatus(ctx context.Context, e *env, args []string) error {
	if err := newFlags("status", e.out).Parse(args); err != nil {
		return err
	}
	tables, err := e.store.ListTables(ctx)
	if err != nil {
		return err
	}

	snap := eventwindow.Evaluate(eventwindow.WindowFromTables(tables), e.now(), e.loc)
	fmt.Fprintf(e.out, "event: %s (%s remaining, %s)\n", snap.Status, snap.Display, snap.Timezone)
	for _, t := range tables {
		leader := t.HighestBidder()
		if leader == "" {
			leader = "-"
		}
		fmt.Fprintf(e.out, "%-10s %-9s active=%-5t bid=%-7d leader=%-8s bids=%d v%d\n",
			t.ID, t.Category, t.IsActive, t.CurrentBid, leader, t.BidCount, t.Version)
	}
	return nil
}
