package repository

import (
	"context"
	"fmt"
	"os"
	"time"

	model "table-bidding/internal/models"
	"table-bidding/utils"

	"gopkg.in/yaml.v3"
)

// SeedFile is the on-disk description of the venue's seating map
type SeedFile struct {
	Event struct {
		StartsAt *time.Time `yaml:"starts_at"`
		EndsAt   *time.Time `yaml:"ends_at"`
	} `yaml:"event"`
	Tables []model.Table `yaml:"tables"`
}

// LoadSeedFile reads and validates a seating map
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes a seating map. Tables without their own window inherit the event window.
func ParseSeed(data []byte) (*SeedFile, error) {
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	seen := make(map[string]struct{}, len(seed.Tables))
	for i := range seed.Tables {
		t := &seed.Tables[i]
		if t.ID == "" {
			return nil, fmt.Errorf("seed table #%d: missing id", i+1)
		}
		if _, dup := seen[t.ID]; dup {
			return nil, fmt.Errorf("seed table %s: duplicate id", t.ID)
		}
		seen[t.ID] = struct{}{}
		if !t.Category.Valid() {
			return nil, fmt.Errorf("seed table %s: unknown category %q", t.ID, t.Category)
		}
		if t.BasePrice < 0 {
			return nil, fmt.Errorf("seed table %s: negative base price", t.ID)
		}
		if t.Name == "" {
			t.Name = t.ID
		}
		if t.BiddingStartsAt == nil {
			t.BiddingStartsAt = seed.Event.StartsAt
		}
		if t.BiddingEndsAt == nil {
			t.BiddingEndsAt = seed.Event.EndsAt
		}
	}
	return &seed, nil
}

// Apply upserts every seed table into the store
func (s *SeedFile) Apply(ctx context.Context, store EventAdmin) (int, error) {
	for _, t := range s.Tables {
		if err := store.UpsertTable(ctx, t); err != nil {
			return 0, fmt.Errorf("seed table %s: %w", t.ID, err)
		}
	}
	utils.Info("seating map applied", map[string]any{"tables": len(s.Tables)})
	return len(s.Tables), nil
}

// DemoUser is a bidder account created for the event
type DemoUser struct {
	Username string
	Password string
}

// DemoUsers returns user1..userN with passwords password1..passwordN
func DemoUsers(n int) []DemoUser {
	if n < 0 {
		n = 0
	}
	users := make([]DemoUser, 0, n)
	for i := 1; i <= n; i++ {
		users = append(users, DemoUser{
			Username: fmt.Sprintf("user%d", i),
			Password: fmt.Sprintf("password%d", i),
		})
	}
	return users
}
