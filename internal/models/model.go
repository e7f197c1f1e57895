package models

import "time"

// Category groups tables by price tier on the seating map
type Category string

const (
	CategoryVIP      Category = "VIP"
	CategoryStanding Category = "Standing"
	CategoryDiamond  Category = "Diamond"
	CategoryPlatinum Category = "Platinum"
	CategorySilver   Category = "Silver"
)

// Valid reports whether c is one of the known categories
func (c Category) Valid() bool {
	switch c {
	case CategoryVIP, CategoryStanding, CategoryDiamond, CategoryPlatinum, CategorySilver:
		return true
	}
	return false
}

// Role is the resolved session role of a caller
type Role string

const (
	RoleBidder    Role = "bidder"
	RoleSpectator Role = "spectator"
	RoleAnonymous Role = "anonymous"
)

// Identity is what the bidding logic knows about the caller
type Identity struct {
	Role     Role   `json:"role"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
}

// Anonymous returns the identity of a caller without a session
func Anonymous() Identity {
	return Identity{Role: RoleAnonymous}
}

// Spectator returns a view-only identity
func Spectator() Identity {
	return Identity{Role: RoleSpectator}
}

// Bidder returns an identity allowed to submit bids
func Bidder(userID, username string) Identity {
	return Identity{Role: RoleBidder, UserID: userID, Username: username}
}

// IsBidder reports whether the identity may submit bids
func (i Identity) IsBidder() bool {
	return i.Role == RoleBidder && i.Username != ""
}

// User represents a registered bidder
type User struct {
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Table represents a biddable seating location
type Table struct {
	ID                    string     `json:"id" yaml:"id"`
	Name                  string     `json:"name" yaml:"name"`
	Category              Category   `json:"category" yaml:"category"`
	Pax                   string     `json:"pax" yaml:"pax"`
	BasePrice             int64      `json:"base_price" yaml:"base_price"`
	CurrentBid            int64      `json:"current_bid" yaml:"-"`
	HighestBidderUsername *string    `json:"highest_bidder_username" yaml:"-"`
	BidCount              int        `json:"bid_count" yaml:"-"`
	Version               int64      `json:"version" yaml:"-"`
	IsActive              bool       `json:"is_active" yaml:"is_active"`
	BiddingStartsAt       *time.Time `json:"bidding_starts_at" yaml:"bidding_starts_at"`
	BiddingEndsAt         *time.Time `json:"bidding_ends_at" yaml:"bidding_ends_at"`
	CreatedAt             time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt             time.Time  `json:"updated_at" yaml:"-"`
}

// MinimumNextBid is the smallest amount a new bid on t may carry
func (t Table) MinimumNextBid(increment int64) int64 {
	return t.CurrentBid + increment
}

// HighestBidder returns the current leader or "" when nobody has bid
func (t Table) HighestBidder() string {
	if t.HighestBidderUsername == nil {
		return ""
	}
	return *t.HighestBidderUsername
}

// Clone returns a copy of t that shares no pointers with it
func (t Table) Clone() Table {
	out := t
	if t.HighestBidderUsername != nil {
		name := *t.HighestBidderUsername
		out.HighestBidderUsername = &name
	}
	if t.BiddingStartsAt != nil {
		ts := *t.BiddingStartsAt
		out.BiddingStartsAt = &ts
	}
	if t.BiddingEndsAt != nil {
		ts := *t.BiddingEndsAt
		out.BiddingEndsAt = &ts
	}
	return out
}

// Bid represents one accepted bid on a table
type Bid struct {
	BidID       string    `json:"id"`
	TableID     string    `json:"table_id"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	Amount      int64     `json:"bid_amount"`
	PreviousBid int64     `json:"previous_bid"`
	BidTime     time.Time `json:"bid_time"`
	IsWinning   bool      `json:"is_winning"`
}

// ChangeType names the kind of patch carried by a ChangeEvent
type ChangeType string

const (
	ChangeTableUpdated ChangeType = "table_updated"
	ChangeBidInserted  ChangeType = "bid_inserted"
)

// ChangeEvent is a single incremental update pushed to viewers
type ChangeEvent struct {
	Type      ChangeType `json:"type"`
	Table     *Table     `json:"table,omitempty"`
	Bid       *Bid       `json:"bid,omitempty"`
	EmittedAt time.Time  `json:"emitted_at"`
}

// TableUpdated builds a table_updated event
func TableUpdated(t Table, at time.Time) ChangeEvent {
	table := t.Clone()
	return ChangeEvent{Type: ChangeTableUpdated, Table: &table, EmittedAt: at}
}

// BidInserted builds a bid_inserted event
func BidInserted(b Bid, at time.Time) ChangeEvent {
	bid := b
	return ChangeEvent{Type: ChangeBidInserted, Bid: &bid, EmittedAt: at}
}
