package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"table-bidding/internal/biddingerrors"
	"table-bidding/internal/eventwindow"
	model "table-bidding/internal/models"
	"table-bidding/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// withTestIdentity resolves the caller from test headers instead of cookies
func withTestIdentity(c *gin.Context) {
	switch c.GetHeader("X-Test-Role") {
	case "bidder":
		session.WithIdentity(c, model.Bidder("u1", c.GetHeader("X-Test-User")))
	case "spectator":
		session.WithIdentity(c, model.Spectator())
	}
	c.Next()
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// Test PlaceBidHandler
func TestPlaceBidHandler(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockService := NewMockBiddingServiceInterface(ctrl)
	handler := NewBiddingHandler(mockService)

	// Initialize Gin in test mode
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(withTestIdentity)
	router.POST("/bids", handler.PlaceBidHandler)

	now := time.Now().UTC()
	leader := "user1"

	tests := []struct {
		name           string
		role           string
		user           string
		requestBody    string
		mockSetup      func()
		expectedStatus int
		expectedError  string
		validate       func(t *testing.T, resp map[string]any)
	}{
		{
			name:        "success_valid_bid",
			role:        "bidder",
			user:        "user1",
			requestBody: `{"table_id":"vip1","bid_amount":31000}`,
			mockSetup: func() {
				mockService.EXPECT().
					PlaceBid(gomock.Any(), model.Bidder("u1", "user1"), "vip1", int64(31000)).
					Return(model.Bid{
						BidID:       uuid.NewString(),
						TableID:     "vip1",
						Username:    "user1",
						Amount:      31000,
						PreviousBid: 30000,
						BidTime:     now,
						IsWinning:   true,
					}, model.Table{ID: "vip1", CurrentBid: 31000, HighestBidderUsername: &leader, BidCount: 1, Version: 1}, nil)
			},
			expectedStatus: http.StatusCreated,
			validate: func(t *testing.T, resp map[string]any) {
				require.Equal(t, true, resp["success"])
				bid := resp["bid"].(map[string]any)
				_, parseErr := uuid.Parse(bid["id"].(string))
				require.NoError(t, parseErr, "bid id should be a valid UUID")
				require.Equal(t, float64(31000), bid["bid_amount"])
				table := resp["table"].(map[string]any)
				require.Equal(t, "user1", table["highest_bidder_username"])
				require.Equal(t, float64(1), table["version"])
			},
		},
		{
			name:        "numeric_string_amount",
			role:        "bidder",
			user:        "user2",
			requestBody: `{"table_id":" vip1 ","bid_amount":"32000"}`,
			mockSetup: func() {
				mockService.EXPECT().
					PlaceBid(gomock.Any(), model.Bidder("u1", "user2"), "vip1", int64(32000)).
					Return(model.Bid{BidID: uuid.NewString(), TableID: "vip1", Amount: 32000}, model.Table{ID: "vip1"}, nil)
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "invalid_json",
			role:           "bidder",
			user:           "user1",
			requestBody:    `{invalid json}`,
			mockSetup:      func() {},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "invalid request payload",
		},
		{
			name:        "non_numeric_amount_reaches_service_as_zero",
			role:        "bidder",
			user:        "user3",
			requestBody: `{"table_id":"vip1","bid_amount":"lots"}`,
			mockSetup: func() {
				mockService.EXPECT().
					PlaceBid(gomock.Any(), model.Bidder("u1", "user3"), "vip1", int64(0)).
					Return(model.Bid{}, model.Table{}, fmt.Errorf("service: %w", biddingerrors.ErrInvalidBid))
			},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "enter a valid bid amount",
		},
		{
			name:           "spectator_rejected",
			role:           "spectator",
			requestBody:    `{"table_id":"vip2","bid_amount":50000}`,
			mockSetup:      func() {},
			expectedStatus: http.StatusForbidden,
			expectedError:  "spectator cannot bid",
		},
		{
			name:           "spectator_malformed_body",
			role:           "spectator",
			requestBody:    `{invalid json}`,
			mockSetup:      func() {},
			expectedStatus: http.StatusForbidden,
			expectedError:  "spectator cannot bid",
		},
		{
			name:           "anonymous_rejected",
			requestBody:    `{"table_id":"vip3","bid_amount":50000}`,
			mockSetup:      func() {},
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "login required",
		},
		{
			name:           "anonymous_malformed_body",
			requestBody:    `not json`,
			mockSetup:      func() {},
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "login required",
		},
		{
			name:        "large_amount_kept_exact",
			role:        "bidder",
			user:        "user9",
			requestBody: `{"table_id":"vip1","bid_amount":9007199254740993}`,
			mockSetup: func() {
				mockService.EXPECT().
					PlaceBid(gomock.Any(), model.Bidder("u1", "user9"), "vip1", int64(9007199254740993)).
					Return(model.Bid{BidID: uuid.NewString(), TableID: "vip1", Amount: 9007199254740993}, model.Table{ID: "vip1"}, nil)
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:        "bid_too_low",
			role:        "bidder",
			user:        "user4",
			requestBody: `{"table_id":"vip1","bid_amount":30500}`,
			mockSetup: func() {
				mockService.EXPECT().
					PlaceBid(gomock.Any(), model.Bidder("u1", "user4"), "vip1", int64(30500)).
					Return(model.Bid{}, model.Table{}, fmt.Errorf("service: %w", &biddingerrors.BidTooLowError{Minimum: 31000}))
			},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "bid must be at least 31000",
		},
		{
			name:        "lost_race",
			role:        "bidder",
			user:        "user5",
			requestBody: `{"table_id":"vip1","bid_amount":31000}`,
			mockSetup: func() {
				mockService.EXPECT().
					PlaceBid(gomock.Any(), model.Bidder("u1", "user5"), "vip1", int64(31000)).
					Return(model.Bid{}, model.Table{}, fmt.Errorf("service: %w", &biddingerrors.BidTooLowError{Minimum: 32000, Conflict: true}))
			},
			expectedStatus: http.StatusConflict,
			expectedError:  "another bid was placed first; bid must be at least 32000",
		},
		{
			name:        "table_not_found",
			role:        "bidder",
			user:        "user6",
			requestBody: `{"table_id":"nope","bid_amount":31000}`,
			mockSetup: func() {
				mockService.EXPECT().
					PlaceBid(gomock.Any(), model.Bidder("u1", "user6"), "nope", int64(31000)).
					Return(model.Bid{}, model.Table{}, fmt.Errorf("service: %w", biddingerrors.ErrTableNotFound))
			},
			expectedStatus: http.StatusNotFound,
			expectedError:  "failed to place bid",
		},
		{
			name:        "window_not_live",
			role:        "bidder",
			user:        "user7",
			requestBody: `{"table_id":"vip1","bid_amount":31000}`,
			mockSetup: func() {
				mockService.EXPECT().
					PlaceBid(gomock.Any(), model.Bidder("u1", "user7"), "vip1", int64(31000)).
					Return(model.Bid{}, model.Table{}, fmt.Errorf("service: %w", biddingerrors.ErrBiddingClosed))
			},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedError:  "failed to place bid",
		},
		{
			name:        "service_generic_error",
			role:        "bidder",
			user:        "user8",
			requestBody: `{"table_id":"vip1","bid_amount":31000}`,
			mockSetup: func() {
				mockService.EXPECT().
					PlaceBid(gomock.Any(), model.Bidder("u1", "user8"), "vip1", int64(31000)).
					Return(model.Bid{}, model.Table{}, errors.New("database failure"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedError:  "failed to place bid",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tc.mockSetup()

			req := httptest.NewRequest(http.MethodPost, "/bids", bytes.NewBufferString(tc.requestBody))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Test-Role", tc.role)
			req.Header.Set("X-Test-User", tc.user)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			require.Equal(t, tc.expectedStatus, w.Code)
			resp := decode(t, w)
			if tc.expectedError != "" {
				require.Equal(t, tc.expectedError, resp["error"])
			}
			if tc.validate != nil {
				tc.validate(t, resp)
			}
		})
	}
}

// Test ListTablesHandler
func TestListTablesHandler(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockService := NewMockBiddingServiceInterface(ctrl)
	handler := NewBiddingHandler(mockService)
	handler.now = func() time.Time { return time.Date(2026, 12, 31, 12, 0, 0, 0, time.UTC) }

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/tables", handler.ListTablesHandler)

	t.Run("success", func(t *testing.T) {
		mockService.EXPECT().ListTables(gomock.Any()).Return([]model.Table{{ID: "vip1"}, {ID: "vip2"}}, nil)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tables", nil))

		require.Equal(t, http.StatusOK, w.Code)
		resp := decode(t, w)
		require.Equal(t, float64(2), resp["count"])
		require.Equal(t, "2026-12-31T12:00:00Z", resp["timestamp"])
		require.Nil(t, resp["fallback"])
	})

	t.Run("store_failure_serves_fallback", func(t *testing.T) {
		mockService.EXPECT().ListTables(gomock.Any()).Return(nil, errors.New("connection refused"))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tables", nil))

		require.Equal(t, http.StatusOK, w.Code)
		resp := decode(t, w)
		require.Equal(t, true, resp["fallback"])
		require.Equal(t, float64(12), resp["count"])
		tables := resp["tables"].([]any)
		first := tables[0].(map[string]any)
		require.Equal(t, "vip1", first["id"])
		require.Equal(t, float64(30000), first["current_bid"])
	})
}

// Test RecentBidsHandler
func TestRecentBidsHandler(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockService := NewMockBiddingServiceInterface(ctrl)
	handler := NewBiddingHandler(mockService)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/bids", handler.RecentBidsHandler)

	now := time.Now().UTC()

	tests := []struct {
		name           string
		query          string
		mockSetup      func()
		expectedStatus int
		expectedCount  int
	}{
		{
			name:  "default_limit",
			query: "",
			mockSetup: func() {
				mockService.EXPECT().RecentBids(gomock.Any(), 0).Return([]model.Bid{
					{BidID: "b2", TableID: "vip1", Amount: 32000, BidTime: now},
					{BidID: "b1", TableID: "vip1", Amount: 31000, BidTime: now.Add(-time.Second)},
				}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedCount:  2,
		},
		{
			name:  "explicit_limit",
			query: "?limit=5",
			mockSetup: func() {
				mockService.EXPECT().RecentBids(gomock.Any(), 5).Return([]model.Bid{}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedCount:  0,
		},
		{
			name:           "invalid_limit",
			query:          "?limit=ten",
			mockSetup:      func() {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:  "store_failure",
			query: "?limit=7",
			mockSetup: func() {
				mockService.EXPECT().RecentBids(gomock.Any(), 7).Return(nil, errors.New("timeout"))
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tc.mockSetup()

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bids"+tc.query, nil))

			require.Equal(t, tc.expectedStatus, w.Code)
			if w.Code == http.StatusOK {
				resp := decode(t, w)
				require.Len(t, resp["bids"], tc.expectedCount)
			}
		})
	}
}

// Test HighestBidderHandler
func TestHighestBidderHandler(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockService := NewMockBiddingServiceInterface(ctrl)
	handler := NewBiddingHandler(mockService)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/highest-bidder", handler.HighestBidderHandler)

	leader := "user9"

	t.Run("leader", func(t *testing.T) {
		mockService.EXPECT().HighestBidder(gomock.Any()).
			Return(model.Table{ID: "vip4", CurrentBid: 45000, HighestBidderUsername: &leader}, nil)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/highest-bidder", nil))

		require.Equal(t, http.StatusOK, w.Code)
		hb := decode(t, w)["highest_bidder"].(map[string]any)
		require.Equal(t, "vip4", hb["id"])
		require.Equal(t, "user9", hb["highest_bidder_username"])
		require.Equal(t, float64(45000), hb["current_bid"])
	})

	t.Run("no_active_tables", func(t *testing.T) {
		mockService.EXPECT().HighestBidder(gomock.Any()).
			Return(model.Table{}, fmt.Errorf("service: %w", biddingerrors.ErrNoActiveTables))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/highest-bidder", nil))

		require.Equal(t, http.StatusOK, w.Code)
		resp := decode(t, w)
		require.Contains(t, resp, "highest_bidder")
		require.Nil(t, resp["highest_bidder"])
	})

	t.Run("store_failure", func(t *testing.T) {
		mockService.EXPECT().HighestBidder(gomock.Any()).Return(model.Table{}, errors.New("boom"))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/highest-bidder", nil))
		require.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

// Test EventStatusHandler
func TestEventStatusHandler(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockService := NewMockBiddingServiceInterface(ctrl)
	handler := NewBiddingHandler(mockService)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/event-status", handler.EventStatusHandler)

	mockService.EXPECT().EventStatus(gomock.Any()).Return(eventwindow.Snapshot{
		Status:      eventwindow.StatusLive,
		RemainingMs: 3661000,
		Display:     "01:01:01",
		Timezone:    "Asia/Kolkata",
	}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/event-status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	require.Equal(t, "live", resp["event_status"])
	require.Equal(t, "01:01:01", resp["remaining"])
	require.Equal(t, float64(3661000), resp["remaining_ms"])
}
