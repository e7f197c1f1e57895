package eventwindow

import (
	"fmt"
	"sort"
	"time"

	model "table-bidding/internal/models"
)

// DefaultTimezone is the venue's local zone
const DefaultTimezone = "Asia/Kolkata"

// Status is the phase of the bidding window
type Status string

const (
	StatusLoading    Status = "loading"
	StatusNotStarted Status = "not-started"
	StatusLive       Status = "live"
	StatusEnded      Status = "ended"
)

// Window is the shared bidding window of the event
type Window struct {
	StartsAt time.Time
	EndsAt   time.Time
}

// Snapshot is one evaluation of a window at a point in time
type Snapshot struct {
	Status      Status        `json:"status"`
	Remaining   time.Duration `json:"-"`
	RemainingMs int64         `json:"remaining_ms"`
	Display     string        `json:"remaining"`
	StartsAt    *time.Time    `json:"starts_at"`
	EndsAt      *time.Time    `json:"ends_at"`
	Timezone    string        `json:"timezone"`
	EvaluatedAt time.Time     `json:"evaluated_at"`
}

// LoadLocation resolves the event zone, falling back to a fixed IST offset
// when the zone database is unavailable.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc, nil
	}
	if name == DefaultTimezone {
		return time.FixedZone("IST", 5*3600+30*60), nil
	}
	return nil, fmt.Errorf("load event timezone %q: %w", name, err)
}

// Evaluate derives the window status at now. A nil window yields StatusLoading.
// Both now and the boundaries are normalized to loc before comparing.
func Evaluate(w *Window, now time.Time, loc *time.Location) Snapshot {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	snap := Snapshot{
		Status:      StatusLoading,
		Display:     FormatTimeRemaining(0),
		Timezone:    loc.String(),
		EvaluatedAt: now,
	}
	if w == nil {
		return snap
	}

	starts := w.StartsAt.In(loc)
	ends := w.EndsAt.In(loc)
	snap.StartsAt = &starts
	snap.EndsAt = &ends

	switch {
	case now.Before(starts):
		snap.Status = StatusNotStarted
		snap.Remaining = starts.Sub(now)
	case now.Before(ends):
		snap.Status = StatusLive
		snap.Remaining = ends.Sub(now)
	default:
		snap.Status = StatusEnded
	}

	snap.RemainingMs = snap.Remaining.Milliseconds()
	snap.Display = FormatTimeRemaining(snap.RemainingMs)
	return snap
}

// FormatTimeRemaining renders milliseconds as HH:MM:SS, floored to the second.
// Non-positive input renders as 00:00:00; hours do not wrap at 24.
func FormatTimeRemaining(ms int64) string {
	if ms <= 0 {
		return "00:00:00"
	}
	total := ms / 1000
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

// TableWindow returns the window of a single table, or nil if it has none
func TableWindow(t model.Table) *Window {
	if t.BiddingStartsAt == nil || t.BiddingEndsAt == nil {
		return nil
	}
	return &Window{StartsAt: *t.BiddingStartsAt, EndsAt: *t.BiddingEndsAt}
}

// WindowFromTables picks the event window: the pair of the active table with the
// earliest start, ties broken by table id. Returns nil when no table carries one.
func WindowFromTables(tables []model.Table) *Window {
	candidates := make([]model.Table, 0, len(tables))
	for _, t := range tables {
		if t.IsActive && TableWindow(t) != nil {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		si, sj := *candidates[i].BiddingStartsAt, *candidates[j].BiddingStartsAt
		if !si.Equal(sj) {
			return si.Before(sj)
		}
		return candidates[i].ID < candidates[j].ID
	})
	return TableWindow(candidates[0])
}
