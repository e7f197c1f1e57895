package helpers

import (
	"errors"
	"fmt"
	"net/http"

	"table-bidding/internal/biddingerrors"
	"table-bidding/utils"

	"github.com/gin-gonic/gin"
)

// FailedToPlaceBid is shown for every bid failure that is not a validation error
const FailedToPlaceBid = "failed to place bid"

// HandleBindError sends a standardized JSON error for binding failures
func HandleBindError(c *gin.Context, handlerName string, err error) {
	wrappedErr := fmt.Errorf("invalid request payload: %w", err)
	utils.JSONError(c, http.StatusBadRequest, wrappedErr, "invalid request payload")
	utils.Warn(handlerName+": binding error", map[string]any{"error": err.Error()})
}

// MapErrorToHTTP maps domain/service errors to HTTP status code and message
func MapErrorToHTTP(err error) (int, string) {
	var tooLow *biddingerrors.BidTooLowError
	switch {
	case errors.Is(err, biddingerrors.ErrLoginRequired):
		return http.StatusUnauthorized, biddingerrors.ErrLoginRequired.Error()
	case errors.Is(err, biddingerrors.ErrSpectatorCannotBid):
		return http.StatusForbidden, biddingerrors.ErrSpectatorCannotBid.Error()
	case errors.Is(err, biddingerrors.ErrInvalidBid):
		return http.StatusBadRequest, biddingerrors.ErrInvalidBid.Error()
	case errors.As(err, &tooLow):
		if tooLow.Conflict {
			return http.StatusConflict, tooLow.Error()
		}
		return http.StatusBadRequest, tooLow.Error()
	case errors.Is(err, biddingerrors.ErrVersionConflict):
		return http.StatusConflict, FailedToPlaceBid
	case errors.Is(err, biddingerrors.ErrTableNotFound):
		return http.StatusNotFound, FailedToPlaceBid
	case errors.Is(err, biddingerrors.ErrBiddingClosed):
		return http.StatusUnprocessableEntity, FailedToPlaceBid
	case errors.Is(err, biddingerrors.ErrInvalidCredentials):
		return http.StatusUnauthorized, biddingerrors.ErrInvalidCredentials.Error()
	case errors.Is(err, biddingerrors.ErrNoActiveTables):
		return http.StatusNotFound, biddingerrors.ErrNoActiveTables.Error()
	case errors.Is(err, biddingerrors.ErrNoBids):
		return http.StatusNotFound, biddingerrors.ErrNoBids.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// LogSuccess is a small helper to standardize logging of successful operations
func LogSuccess(handlerName, message string, ctx map[string]any) {
	utils.Info(handlerName+": "+message, ctx)
}
