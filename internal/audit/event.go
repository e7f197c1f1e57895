// Package audit ships accepted bids to a durable queue and writes them to an
// append-only log on the consuming side.
package audit

import (
	"time"

	"table-bidding/internal/models"
)

// DefaultQueue is the durable queue accepted bids are published to
const DefaultQueue = "bids.accepted"

// BidAcceptedEvent is published once per accepted bid. It carries enough of the
// table to be logged without querying the store.
type BidAcceptedEvent struct {
	BidID       string          `json:"bid_id"`
	TableID     string          `json:"table_id"`
	TableName   string          `json:"table_name"`
	Category    models.Category `json:"category"`
	UserID      string          `json:"user_id"`
	Username    string          `json:"username"`
	Amount      int64           `json:"bid_amount"`
	PreviousBid int64           `json:"previous_bid"`
	BidCount    int             `json:"bid_count"`
	Version     int64           `json:"version"`
	AcceptedAt  string          `json:"accepted_at"`
}

func NewBidAcceptedEvent(bid models.Bid, table models.Table) BidAcceptedEvent {
	return BidAcceptedEvent{
		BidID:       bid.BidID,
		TableID:     bid.TableID,
		TableName:   table.Name,
		Category:    table.Category,
		UserID:      bid.UserID,
		Username:    bid.Username,
		Amount:      bid.Amount,
		PreviousBid: bid.PreviousBid,
		BidCount:    table.BidCount,
		Version:     table.Version,
		AcceptedAt:  bid.BidTime.UTC().Format(time.RFC3339Nano),
	}
}
