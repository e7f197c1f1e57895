package handler

//go:generate mockgen -source=bidding_handler.go -destination=mock_service.go -package=handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"table-bidding/internal/biddingerrors"
	"table-bidding/internal/eventwindow"
	model "table-bidding/internal/models"
	"table-bidding/internal/repository"
	"table-bidding/internal/session"
	"table-bidding/services/bidding/helpers"
	"table-bidding/utils"

	"github.com/gin-gonic/gin"
)

type BiddingServiceInterface interface {
	PlaceBid(ctx context.Context, actor model.Identity, tableID string, amount int64) (model.Bid, model.Table, error)
	ListTables(ctx context.Context) ([]model.Table, error)
	RecentBids(ctx context.Context, limit int) ([]model.Bid, error)
	HighestBidder(ctx context.Context) (model.Table, error)
	EventStatus(ctx context.Context) (eventwindow.Snapshot, error)
}

type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (model.Identity, error)
}

type BiddingHandler struct {
	service BiddingServiceInterface
	now     func() time.Time
}

func NewBiddingHandler(service BiddingServiceInterface) *BiddingHandler {
	return &BiddingHandler{service: service, now: time.Now}
}

// ListTablesHandler handles GET /tables. A store failure serves the fallback
// tables so the venue map still renders.
func (h *BiddingHandler) ListTablesHandler(c *gin.Context) {
	timestamp := h.now().UTC().Format(time.RFC3339)

	tables, err := h.service.ListTables(c.Request.Context())
	if err != nil {
		fallback := repository.FallbackTables()
		utils.Error("ListTablesHandler: store unavailable, serving fallback tables", map[string]any{
			"handler": "ListTablesHandler",
			"error":   err.Error(),
		})
		utils.JSONResponse(c, http.StatusOK, "fallback tables", gin.H{
			"tables":    fallback,
			"count":     len(fallback),
			"timestamp": timestamp,
			"fallback":  true,
		})
		return
	}

	utils.JSONResponse(c, http.StatusOK, "tables retrieved successfully", gin.H{
		"tables":    tables,
		"count":     len(tables),
		"timestamp": timestamp,
	})
	helpers.LogSuccess("ListTablesHandler", "tables retrieved successfully", map[string]any{"count": len(tables)})
}

// RecentBidsHandler handles GET /bids?limit=N
func (h *BiddingHandler) RecentBidsHandler(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			utils.JSONError(c, http.StatusBadRequest, fmt.Errorf("invalid limit %q: %w", raw, err), "invalid limit")
			utils.Warn("RecentBidsHandler: invalid limit", map[string]any{"limit": raw})
			return
		}
		limit = n
	}

	bids, err := h.service.RecentBids(c.Request.Context(), limit)
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Error("RecentBidsHandler: error retrieving bids", map[string]any{"error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, "bids retrieved successfully", gin.H{"bids": bids})
	helpers.LogSuccess("RecentBidsHandler", "bids retrieved successfully", map[string]any{"count": len(bids)})
}

// PlaceBidHandler handles POST /bids
func (h *BiddingHandler) PlaceBidHandler(c *gin.Context) {
	// the role decides before the body is looked at
	actor := session.FromContext(c)
	if err := requireBidder(actor); err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, err, message)
		utils.Warn("PlaceBidHandler: bid rejected", map[string]any{"role": actor.Role, "error": err.Error()})
		return
	}

	var req helpers.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "PlaceBidHandler", err)
		return
	}

	tableID := strings.TrimSpace(req.TableID)
	amount := helpers.ParseBidAmount(req.BidAmount)

	bid, table, err := h.service.PlaceBid(c.Request.Context(), actor, tableID, amount)
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		if status == http.StatusInternalServerError {
			message = helpers.FailedToPlaceBid
		}
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		fields := map[string]any{
			"handler":  "PlaceBidHandler",
			"table_id": tableID,
			"username": actor.Username,
			"role":     actor.Role,
			"amount":   amount,
			"error":    err.Error(),
		}
		if status >= http.StatusInternalServerError {
			utils.Error("PlaceBidHandler: failed to place bid", fields)
		} else {
			utils.Warn("PlaceBidHandler: bid rejected", fields)
		}
		return
	}

	utils.JSONResponse(c, http.StatusCreated, "bid placed successfully", gin.H{
		"success": true,
		"bid":     bid,
		"table":   table,
	})
	helpers.LogSuccess("PlaceBidHandler", "bid placed successfully", map[string]any{
		"bid_id":   bid.BidID,
		"table_id": bid.TableID,
		"username": bid.Username,
		"amount":   bid.Amount,
		"version":  table.Version,
	})
}

// HighestBidderHandler handles GET /highest-bidder
func (h *BiddingHandler) HighestBidderHandler(c *gin.Context) {
	table, err := h.service.HighestBidder(c.Request.Context())
	if errors.Is(err, biddingerrors.ErrNoActiveTables) {
		utils.JSONResponse(c, http.StatusOK, "no active tables", gin.H{"highest_bidder": nil})
		utils.Info("HighestBidderHandler: no active tables", nil)
		return
	}
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Error("HighestBidderHandler: error retrieving highest bidder", map[string]any{"error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, "highest bidder retrieved successfully", gin.H{
		"highest_bidder": helpers.HighestBidderResponse{
			ID:                    table.ID,
			HighestBidderUsername: table.HighestBidderUsername,
			CurrentBid:            table.CurrentBid,
		},
	})
	helpers.LogSuccess("HighestBidderHandler", "highest bidder retrieved successfully", map[string]any{
		"table_id":    table.ID,
		"current_bid": table.CurrentBid,
	})
}

// EventStatusHandler handles GET /event-status
func (h *BiddingHandler) EventStatusHandler(c *gin.Context) {
	snap, err := h.service.EventStatus(c.Request.Context())
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Error("EventStatusHandler: error evaluating event window", map[string]any{"error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, "event status evaluated", gin.H{
		"event_status": snap.Status,
		"remaining_ms": snap.RemainingMs,
		"remaining":    snap.Display,
		"starts_at":    snap.StartsAt,
		"ends_at":      snap.EndsAt,
		"timezone":     snap.Timezone,
		"evaluated_at": snap.EvaluatedAt,
	})
}

func requireBidder(actor model.Identity) error {
	switch {
	case actor.Role == model.RoleSpectator:
		return biddingerrors.ErrSpectatorCannotBid
	case !actor.IsBidder():
		return biddingerrors.ErrLoginRequired
	}
	return nil
}
