package helpers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"table-bidding/internal/biddingerrors"

	"github.com/stretchr/testify/require"
)

func TestMapErrorToHTTP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{name: "anonymous", err: fmt.Errorf("service: %w", biddingerrors.ErrLoginRequired), wantStatus: http.StatusUnauthorized, wantMsg: "login required"},
		{name: "spectator", err: fmt.Errorf("service: %w", biddingerrors.ErrSpectatorCannotBid), wantStatus: http.StatusForbidden, wantMsg: "spectator cannot bid"},
		{name: "invalid_amount", err: fmt.Errorf("service: %w - non-positive", biddingerrors.ErrInvalidBid), wantStatus: http.StatusBadRequest, wantMsg: "enter a valid bid amount"},
		{name: "too_low", err: fmt.Errorf("service: %w", &biddingerrors.BidTooLowError{Minimum: 31000}), wantStatus: http.StatusBadRequest, wantMsg: "bid must be at least 31000"},
		{name: "too_low_after_race", err: fmt.Errorf("service: %w", &biddingerrors.BidTooLowError{Minimum: 32000, Conflict: true}), wantStatus: http.StatusConflict, wantMsg: "another bid was placed first; bid must be at least 32000"},
		{name: "version_conflict", err: fmt.Errorf("service: %w", biddingerrors.ErrVersionConflict), wantStatus: http.StatusConflict, wantMsg: FailedToPlaceBid},
		{name: "not_found", err: fmt.Errorf("service: %w", biddingerrors.ErrTableNotFound), wantStatus: http.StatusNotFound, wantMsg: FailedToPlaceBid},
		{name: "not_live", err: fmt.Errorf("service: %w", biddingerrors.ErrBiddingClosed), wantStatus: http.StatusUnprocessableEntity, wantMsg: FailedToPlaceBid},
		{name: "credentials", err: biddingerrors.ErrInvalidCredentials, wantStatus: http.StatusUnauthorized, wantMsg: "invalid username or password"},
		{name: "store_failure", err: errors.New("connection refused"), wantStatus: http.StatusInternalServerError, wantMsg: "internal server error"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			status, msg := MapErrorToHTTP(tc.err)
			require.Equal(t, tc.wantStatus, status)
			require.Equal(t, tc.wantMsg, msg)
		})
	}
}

func TestParseBidAmount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want int64
	}{
		{name: "json_number", in: `31000`, want: 31000},
		{name: "numeric_string", in: `" 31000 "`, want: 31000},
		{name: "integral_float_literal", in: `31000.0`, want: 31000},
		{name: "exponent", in: `3.1e4`, want: 31000},
		{name: "above_float_precision", in: `9007199254740993`, want: 9007199254740993},
		{name: "max_int64", in: `9223372036854775807`, want: 9223372036854775807},
		{name: "overflow", in: `9223372036854775808`, want: 0},
		{name: "fraction", in: `31000.5`, want: 0},
		{name: "negative", in: `-5`, want: 0},
		{name: "zero", in: `0`, want: 0},
		{name: "text", in: `"abc"`, want: 0},
		{name: "missing", in: ``, want: 0},
		{name: "null", in: `null`, want: 0},
		{name: "bool", in: `true`, want: 0},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, ParseBidAmount(json.RawMessage(tc.in)))
		})
	}
}
