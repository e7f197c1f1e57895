package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	model "table-bidding/internal/models"
	"table-bidding/utils"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

// PushClient subscribes to the server's change events and hands each one to apply.
// It reconnects with capped exponential backoff until its context ends.
type PushClient struct {
	url        string
	dialer     *websocket.Dialer
	apply      func(model.ChangeEvent)
	clock      clockwork.Clock
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewPushClient(url string, jar http.CookieJar, apply func(model.ChangeEvent)) *PushClient {
	return &PushClient{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 5 * time.Second,
			Jar:              jar,
		},
		apply:      apply,
		clock:      clockwork.NewRealClock(),
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 15 * time.Second,
	}
}

// Run keeps a connection open until ctx is done
func (c *PushClient) Run(ctx context.Context) {
	backoff := c.minBackoff
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = c.minBackoff
		}
		utils.Warn("push channel disconnected", map[string]any{"error": fmt.Sprint(err), "retry_in": backoff.String()})

		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(backoff):
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

// session runs one connection; connected reports whether the dial succeeded
func (c *PushClient) session(ctx context.Context) (connected bool, err error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.url, err)
	}
	defer conn.Close()
	utils.Info("push channel connected", map[string]any{"url": c.url})

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		var ev model.ChangeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			utils.Warn("push channel: malformed event", map[string]any{"error": err.Error()})
			continue
		}
		c.apply(ev)
	}
}
