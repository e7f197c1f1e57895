package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	bidding "table-bidding/internal/biddingService"
	model "table-bidding/internal/models"
	"table-bidding/internal/repository"
	"table-bidding/internal/server"
	"table-bidding/internal/session"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// testEnv bundles the router with the store behind it
type testEnv struct {
	router *gin.Engine
	repo   *repository.MemoryRepo
}

// liveTable returns an active table whose window opened an hour ago and closes in four hours
func liveTable(id string, category model.Category, base int64) model.Table {
	starts := time.Now().Add(-time.Hour).UTC()
	ends := time.Now().Add(4 * time.Hour).UTC()
	return model.Table{
		ID: id, Name: id, Category: category, Pax: "6-8",
		BasePrice: base, CurrentBid: base, IsActive: true,
		BiddingStartsAt: &starts, BiddingEndsAt: &ends,
	}
}

// SetupTestRouterWithTables initializes the router over an in-memory store seeded
// with tables and the demo users user1..user5.
func SetupTestRouterWithTables(t *testing.T, tables ...model.Table) testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := repository.NewMemoryRepo()
	for _, table := range tables {
		repo.AddTable(table)
	}
	for i, u := range repository.DemoUsers(5) {
		hash, err := session.HashPassword(u.Password, bcrypt.MinCost)
		if err != nil {
			t.Fatalf("failed to hash password: %v", err)
		}
		user := model.User{UserID: fmt.Sprintf("u%d", i+1), Username: u.Username, PasswordHash: hash}
		if err := repo.UpsertUser(context.Background(), user); err != nil {
			t.Fatalf("failed to seed user: %v", err)
		}
	}

	sessions, err := session.NewManager("integration-secret", time.Hour)
	if err != nil {
		t.Fatalf("failed to create session manager: %v", err)
	}

	router := server.SetupRouter(server.Dependencies{
		Bidding:        bidding.NewBiddingService(repo),
		Auth:           session.NewAuthenticator(repo),
		Sessions:       sessions,
		RequestTimeout: 5 * time.Second,
	})
	return testEnv{router: router, repo: repo}
}

// ExecuteRequestAndParse executes an HTTP request on the given router and parses the response
func ExecuteRequestAndParse(t *testing.T, router *gin.Engine, method, url string, body any, cookies ...*http.Cookie) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()

	var reqBody []byte
	var err error

	switch v := body.(type) {
	case nil:
	case []byte:
		reqBody = v
	case string:
		reqBody = []byte(v)
	default:
		reqBody, err = json.Marshal(v)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	router.ServeHTTP(w, req)

	var resp map[string]any
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
	}
	return resp, w
}

// Login returns the bidder session cookie for a demo user
func Login(t *testing.T, router *gin.Engine, username string) *http.Cookie {
	t.Helper()
	password := "password" + username[len("user"):]
	_, w := ExecuteRequestAndParse(t, router, http.MethodPost, "/auth/login", map[string]string{"username": username, "password": password})
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: status %d", username, w.Code)
	}
	return findCookie(t, w, session.BidderCookie)
}

// EnterAsSpectator returns a spectator session cookie
func EnterAsSpectator(t *testing.T, router *gin.Engine) *http.Cookie {
	t.Helper()
	_, w := ExecuteRequestAndParse(t, router, http.MethodPost, "/auth/spectator", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("spectator entry: status %d", w.Code)
	}
	return findCookie(t, w, session.SpectatorCookie)
}

func findCookie(t *testing.T, w *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == name && c.Value != "" {
			return c
		}
	}
	t.Fatalf("cookie %s not set", name)
	return nil
}
