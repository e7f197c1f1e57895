package helpers

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Request/Response DTOs
type PlaceBidRequest struct {
	TableID string `json:"table_id"`
	// BidAmount accepts a JSON number or a numeric string
	BidAmount json.RawMessage `json:"bid_amount"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type HighestBidderResponse struct {
	ID                    string  `json:"id"`
	HighestBidderUsername *string `json:"highest_bidder_username"`
	CurrentBid            int64   `json:"current_bid"`
}

type SessionResponse struct {
	Role     string `json:"role"`
	Username string `json:"username,omitempty"`
}

// ParseBidAmount converts a submitted amount to whole currency units. The raw
// JSON is read without a float round trip so large integers stay exact. Anything
// that is not a positive integer yields 0, which the service rejects.
func ParseBidAmount(raw json.RawMessage) int64 {
	text := strings.TrimSpace(string(raw))
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0
		}
		text = strings.TrimSpace(s)
	}

	n, err := strconv.ParseInt(text, 10, 64)
	if err == nil {
		if n <= 0 {
			return 0
		}
		return n
	}

	// integral literals such as 31000.0 or 3.1e4 within exact float range
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || f <= 0 || f != math.Trunc(f) || f > maxExactFloat {
		return 0
	}
	return int64(f)
}

const maxExactFloat = 1 << 53
