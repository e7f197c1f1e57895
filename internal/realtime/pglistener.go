package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"table-bidding/internal/models"
	"table-bidding/internal/repository"
	"table-bidding/utils"

	"github.com/lib/pq"
)

// ListenerConfig configures the database change listener
type ListenerConfig struct {
	DatabaseURL   string
	NotifyChannel string
	MaxRetries    int
	RetryDelay    time.Duration
	PingInterval  time.Duration
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel: repository.NotifyChannel,
		MaxRetries:    3,
		RetryDelay:    200 * time.Millisecond,
		PingInterval:  90 * time.Second,
	}
}

// ChangeSource loads the rows a notification refers to
type ChangeSource interface {
	GetTable(ctx context.Context, tableID string) (models.Table, error)
	GetBid(ctx context.Context, bidID string) (models.Bid, error)
}

// notification is the payload written by the notify_bidding_change trigger
type notification struct {
	Type models.ChangeType `json:"type"`
	ID   string            `json:"id"`
}

// PGListener turns database notifications into change events. It picks up
// edits made outside the API, such as window changes from the admin tool.
type PGListener struct {
	listener  *pq.Listener
	source    ChangeSource
	publisher Publisher
	cfg       ListenerConfig
	now       func() time.Time
}

func NewPGListener(cfg ListenerConfig, source ChangeSource, publisher Publisher) (*PGListener, error) {
	if cfg.NotifyChannel == "" {
		cfg.NotifyChannel = repository.NotifyChannel
	}
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				utils.Error("listener event", map[string]any{"event": int(ev), "error": err.Error()})
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	utils.Info("listening for notifications", map[string]any{"channel": cfg.NotifyChannel})

	return &PGListener{
		listener:  l,
		source:    source,
		publisher: publisher,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start dispatches notifications until ctx is done
func (l *PGListener) Start(ctx context.Context) error {
	pingTicker := time.NewTicker(l.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			utils.Info("listener shutting down", nil)
			return l.listener.Close()
		case note := <-l.listener.Notify:
			if note == nil {
				// connection was re-established; clients reconcile through polling
				continue
			}
			if err := l.handleNotification(ctx, note.Extra); err != nil {
				utils.Error("failed to handle notification", map[string]any{"error": err.Error()})
			}
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				utils.Error("failed to ping listener", map[string]any{"error": err.Error()})
			}
		}
	}
}

// handleNotification loads the referenced row and publishes it
func (l *PGListener) handleNotification(ctx context.Context, extra string) error {
	var n notification
	if err := json.Unmarshal([]byte(extra), &n); err != nil {
		return fmt.Errorf("invalid notification payload: %w", err)
	}

	var event models.ChangeEvent
	switch n.Type {
	case models.ChangeTableUpdated:
		table, err := l.source.GetTable(ctx, n.ID)
		if err != nil {
			return fmt.Errorf("failed to fetch table %s: %w", n.ID, err)
		}
		event = models.TableUpdated(table, l.now())
	case models.ChangeBidInserted:
		bid, err := l.source.GetBid(ctx, n.ID)
		if err != nil {
			return fmt.Errorf("failed to fetch bid %s: %w", n.ID, err)
		}
		event = models.BidInserted(bid, l.now())
	default:
		return fmt.Errorf("unknown notification type %q", n.Type)
	}

	return l.publishWithRetry(ctx, event)
}

func (l *PGListener) publishWithRetry(ctx context.Context, event models.ChangeEvent) error {
	var lastErr error

	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.cfg.RetryDelay * time.Duration(attempt)):
			}
		}

		if err := l.publisher.Publish(ctx, event); err != nil {
			lastErr = err
			utils.Warn("failed to publish, retrying", map[string]any{"attempt": attempt + 1, "type": event.Type, "error": err.Error()})
			continue
		}
		return nil
	}

	return fmt.Errorf("publish failed after %d attempts: %w", l.cfg.MaxRetries+1, lastErr)
}
