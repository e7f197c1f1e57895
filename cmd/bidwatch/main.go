// Command bidwatch follows the venue's bidding from a terminal. It polls the
// API, applies pushed changes as they arrive, and can place a single bid.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"table-bidding/internal/config"
	"table-bidding/internal/poller"
	"table-bidding/utils"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
)

type options struct {
	baseURL   string
	username  string
	password  string
	spectator bool
	bid       string
	noPush    bool
	once      bool
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		utils.Fatal("failed to load config", map[string]any{"error": err.Error()})
	}
	utils.SetLevel(cfg.Log.Level)
	utils.SetOutput(os.Stderr)

	var opts options
	fs := pflag.NewFlagSet("bidwatch", pflag.ExitOnError)
	fs.StringVar(&opts.baseURL, "url", cfg.Poll.BaseURL, "bidding API base url")
	fs.StringVarP(&opts.username, "user", "u", "", "log in as this bidder")
	fs.StringVarP(&opts.password, "password", "p", "", "bidder password")
	fs.BoolVar(&opts.spectator, "spectator", false, "enter as a spectator")
	fs.StringVar(&opts.bid, "bid", "", "place one bid, as table=amount")
	fs.BoolVar(&opts.noPush, "no-push", false, "rely on polling only")
	fs.BoolVar(&opts.once, "once", false, "print one snapshot and exit")
	_ = fs.Parse(os.Args[1:])

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg.Poll, opts, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		utils.Error("bidwatch stopped with error", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

func run(ctx context.Context, pc config.PollConfig, opts options, out io.Writer) error {
	client, err := poller.NewClient(opts.baseURL, pc.RequestTimeout)
	if err != nil {
		return err
	}

	switch {
	case opts.username != "":
		if err := client.Login(ctx, opts.username, opts.password); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	case opts.spectator:
		if err := client.EnterAsSpectator(ctx); err != nil {
			return fmt.Errorf("enter as spectator: %w", err)
		}
	}

	updates := make(chan poller.Snapshot, 1)
	p := poller.New(client,
		poller.WithInterval(pc.Interval),
		poller.WithRequestTimeout(pc.RequestTimeout),
		poller.WithRecentLimit(pc.RecentLimit),
		poller.WithUpdateHook(func(s poller.Snapshot) { latest(updates, s) }),
	)

	if err := p.Refresh(ctx); err != nil {
		return fmt.Errorf("initial load: %w", err)
	}
	status, err := client.EventStatus(ctx)
	if err != nil {
		utils.Warn("event status unavailable", map[string]any{"error": err.Error()})
	}

	if opts.bid != "" {
		tableID, amount, err := parseBid(opts.bid)
		if err != nil {
			return err
		}
		bid, err := p.SubmitBid(ctx, tableID, amount)
		if err != nil {
			return fmt.Errorf("bid on %s: %w", tableID, err)
		}
		fmt.Fprintf(out, "bid accepted: %s on %s at %s\n", bid.Username, bid.TableID, rupees(bid.Amount))
	}

	if opts.once {
		render(out, p.View().Snapshot(), status)
		return nil
	}

	go p.Run(ctx)
	if !opts.noPush {
		push := poller.NewPushClient(client.PushURL(), client.Jar(), p.Apply)
		go push.Run(ctx)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	snap := p.View().Snapshot()
	render(out, snap, status)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap = <-updates:
		case <-ticker.C:
			if s, err := client.EventStatus(ctx); err == nil {
				status = s
			}
		}
		render(out, snap, status)
	}
}

// latest keeps only the newest snapshot in a one-slot channel
func latest(ch chan poller.Snapshot, s poller.Snapshot) {
	for {
		select {
		case ch <- s:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func parseBid(s string) (string, int64, error) {
	tableID, raw, ok := strings.Cut(s, "=")
	if !ok || tableID == "" {
		return "", 0, fmt.Errorf("--bid wants table=amount, got %q", s)
	}
	amount, err := strconv.ParseInt(strings.ReplaceAll(raw, ",", ""), 10, 64)
	if err != nil || amount <= 0 {
		return "", 0, fmt.Errorf("--bid amount %q is not a positive whole number", raw)
	}
	return tableID, amount, nil
}

func rupees(amount int64) string {
	return "₹" + humanize.Comma(amount)
}

const clearScreen = "\033[H\033[2J"

func render(w io.Writer, snap poller.Snapshot, status poller.EventStatus) {
	fmt.Fprint(w, clearScreen)

	state := status.Status
	if state == "" {
		state = "loading"
	}
	fmt.Fprintf(w, "event %s  %s remaining", state, orDefault(status.Remaining, "00:00:00"))
	if status.Timezone != "" {
		fmt.Fprintf(w, "  (%s)", status.Timezone)
	}
	fmt.Fprintln(w)

	if top, ok := snap.HighestBidder(); ok {
		fmt.Fprintf(w, "highest bid: %s by %s on %s\n", rupees(top.CurrentBid), *top.HighestBidderUsername, top.ID)
	} else {
		fmt.Fprintln(w, "highest bid: none yet")
	}
	fmt.Fprintln(w)

	for _, t := range snap.Tables {
		if !t.IsActive {
			continue
		}
		leader := "-"
		if t.HighestBidderUsername != nil {
			leader = *t.HighestBidderUsername
		}
		fmt.Fprintf(w, "%-10s %-9s %10s  %-8s %3d bids\n", t.ID, t.Category, rupees(t.CurrentBid), leader, t.BidCount)
	}

	if len(snap.Bids) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "recent bids")
		for _, b := range snap.Bids {
			fmt.Fprintf(w, "  %s  %-8s %-10s %10s  %s\n",
				b.BidTime.Local().Format("15:04:05"), b.Username, b.TableID, rupees(b.Amount), humanize.Time(b.BidTime))
		}
	}
	if !snap.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "\nupdated %s\n", snap.UpdatedAt.Local().Format("15:04:05"))
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
