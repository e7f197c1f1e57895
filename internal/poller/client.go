package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	model "table-bidding/internal/models"
)

// APIError is a non-2xx response from the bidding API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.StatusCode, e.Message)
}

// EventStatus is the decoded GET /event-status payload
type EventStatus struct {
	Status      string     `json:"event_status"`
	RemainingMs int64      `json:"remaining_ms"`
	Remaining   string     `json:"remaining"`
	StartsAt    *time.Time `json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at"`
	Timezone    string     `json:"timezone"`
}

// Client talks to the bidding API. Session cookies persist in its jar.
type Client struct {
	baseURL *url.URL
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: u,
		client:  &http.Client{Timeout: timeout, Jar: jar},
	}, nil
}

// Jar exposes the session cookies for the push channel
func (c *Client) Jar() http.CookieJar {
	return c.client.Jar
}

// PushURL returns the ws:// or wss:// address of the push channel
func (c *Client) PushURL() string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}

func (c *Client) Login(ctx context.Context, username, password string) error {
	return c.do(ctx, http.MethodPost, "/auth/login", map[string]string{"username": username, "password": password}, nil)
}

func (c *Client) EnterAsSpectator(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/spectator", nil, nil)
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

func (c *Client) Tables(ctx context.Context) ([]model.Table, error) {
	var out struct {
		Tables []model.Table `json:"tables"`
	}
	if err := c.do(ctx, http.MethodGet, "/tables", nil, &out); err != nil {
		return nil, err
	}
	return out.Tables, nil
}

func (c *Client) RecentBids(ctx context.Context, limit int) ([]model.Bid, error) {
	path := "/bids"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Bids []model.Bid `json:"bids"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Bids, nil
}

func (c *Client) PlaceBid(ctx context.Context, tableID string, amount int64) (model.Bid, model.Table, error) {
	var out struct {
		Bid   model.Bid   `json:"bid"`
		Table model.Table `json:"table"`
	}
	body := map[string]any{"table_id": tableID, "bid_amount": amount}
	if err := c.do(ctx, http.MethodPost, "/bids", body, &out); err != nil {
		return model.Bid{}, model.Table{}, err
	}
	return out.Bid, out.Table, nil
}

func (c *Client) EventStatus(ctx context.Context) (EventStatus, error) {
	var out EventStatus
	err := c.do(ctx, http.MethodGet, "/event-status", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &envelope) == nil && envelope.Error != "" {
			msg = envelope.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s %s: %w", method, path, err)
	}
	return nil
}
