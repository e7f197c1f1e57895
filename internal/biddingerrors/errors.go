package biddingerrors

import (
	"errors"
	"fmt"
)

// Repository-level errors
var (
	ErrTableNotFound   = errors.New("table not found")
	ErrNoBids          = errors.New("no bids found for table")
	ErrNoActiveTables  = errors.New("no active tables")
	ErrVersionConflict = errors.New("table version conflict")
	ErrUserNotFound    = errors.New("user not found")
)

// business logic errors
var (
	ErrInvalidBid         = errors.New("enter a valid bid amount")
	ErrBidTooLow          = errors.New("bid amount too low")
	ErrSpectatorCannotBid = errors.New("spectator cannot bid")
	ErrLoginRequired      = errors.New("login required")
	ErrBiddingClosed      = errors.New("bidding window is not live")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// client-side errors
var (
	ErrSubmissionInFlight = errors.New("bid submission already in progress")
)

// BidTooLowError reports the minimum a rejected bid had to reach.
// Conflict is set when the minimum moved because another bid won the race.
type BidTooLowError struct {
	Minimum  int64
	Conflict bool
}

func (e *BidTooLowError) Error() string {
	if e.Conflict {
		return fmt.Sprintf("another bid was placed first; bid must be at least %d", e.Minimum)
	}
	return fmt.Sprintf("bid must be at least %d", e.Minimum)
}

// Unwrap lets errors.Is(err, ErrBidTooLow) match.
func (e *BidTooLowError) Unwrap() error {
	return ErrBidTooLow
}

// MinimumFrom extracts the required minimum from err, if it carries one.
func MinimumFrom(err error) (int64, bool) {
	var tooLow *BidTooLowError
	if errors.As(err, &tooLow) {
		return tooLow.Minimum, true
	}
	return 0, false
}
