package handler

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"table-bidding/internal/biddingerrors"
	model "table-bidding/internal/models"
	"table-bidding/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
)

func cookieByName(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestLoginHandler(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAuth := NewMockAuthenticator(ctrl)
	sessions, err := session.NewManager("test-secret", time.Hour)
	require.NoError(t, err)
	handler := NewSessionHandler(mockAuth, sessions)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/auth/login", handler.LoginHandler)

	tests := []struct {
		name           string
		requestBody    string
		mockSetup      func()
		expectedStatus int
		expectedError  string
		wantCookie     bool
	}{
		{
			name:        "success",
			requestBody: `{"username":"user1","password":"password1"}`,
			mockSetup: func() {
				mockAuth.EXPECT().Authenticate(gomock.Any(), "user1", "password1").
					Return(model.Bidder("u1", "user1"), nil)
			},
			expectedStatus: http.StatusOK,
			wantCookie:     true,
		},
		{
			name:        "wrong_password",
			requestBody: `{"username":"user2","password":"nope"}`,
			mockSetup: func() {
				mockAuth.EXPECT().Authenticate(gomock.Any(), "user2", "nope").
					Return(model.Identity{}, fmt.Errorf("session: %w", biddingerrors.ErrInvalidCredentials))
			},
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "invalid username or password",
		},
		{
			name:           "missing_password",
			requestBody:    `{"username":"user3"}`,
			mockSetup:      func() {},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "invalid request payload",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tc.mockSetup()

			req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(tc.requestBody))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			require.Equal(t, tc.expectedStatus, w.Code)
			resp := decode(t, w)
			if tc.expectedError != "" {
				require.Equal(t, tc.expectedError, resp["error"])
			}

			cookie := cookieByName(w, session.BidderCookie)
			if !tc.wantCookie {
				require.Nil(t, cookie)
				return
			}
			require.NotNil(t, cookie)
			require.True(t, cookie.HttpOnly)
			require.Equal(t, "bidder", resp["role"])

			identity, err := sessions.Parse(cookie.Value)
			require.NoError(t, err)
			require.Equal(t, "user1", identity.Username)
		})
	}
}

func TestSpectatorAndLogoutHandlers(t *testing.T) {
	sessions, err := session.NewManager("test-secret", time.Hour)
	require.NoError(t, err)
	handler := NewSessionHandler(nil, sessions)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(session.Resolve(sessions))
	router.POST("/auth/spectator", handler.SpectatorHandler)
	router.POST("/auth/logout", handler.LogoutHandler)
	router.GET("/auth/session", handler.CurrentSessionHandler)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/spectator", nil))
	require.Equal(t, http.StatusOK, w.Code)
	spectator := cookieByName(w, session.SpectatorCookie)
	require.NotNil(t, spectator)
	cleared := cookieByName(w, session.BidderCookie)
	require.NotNil(t, cleared)
	require.Less(t, cleared.MaxAge, 0)

	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	req.AddCookie(spectator)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	current := decode(t, w)["session"].(map[string]any)
	require.Equal(t, "spectator", current["role"])

	req = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(spectator)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	for _, name := range []string{session.BidderCookie, session.SpectatorCookie} {
		c := cookieByName(w, name)
		require.NotNil(t, c, name)
		require.Less(t, c.MaxAge, 0)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/session", nil))
	current = decode(t, w)["session"].(map[string]any)
	require.Equal(t, "anonymous", current["role"])
}
