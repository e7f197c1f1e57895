package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"table-bidding/utils"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// NewFileLog opens an append-only JSON log for accepted bids
func NewFileLog(path string) (*logrus.Logger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	return NewLog(f), f, nil
}

// NewLog returns a logger writing one JSON line per entry to w
func NewLog(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Consumer drains the accepted-bid queue into a log
type Consumer struct {
	url   string
	queue string
	log   *logrus.Logger
}

func NewConsumer(url, queue string, log *logrus.Logger) *Consumer {
	if queue == "" {
		queue = DefaultQueue
	}
	return &Consumer{url: url, queue: queue, log: log}
}

// Run consumes until ctx is done, reconnecting with backoff
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			utils.Warn("audit consumer failed to dial broker", map[string]any{"error": err.Error(), "retry_in": backoff.String()})
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		utils.Warn("audit consume loop ended, reconnecting", map[string]any{"error": err.Error()})
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		utils.Warn("audit consumer failed to set QoS", map[string]any{"error": err.Error()})
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	utils.Info("audit consumer started", map[string]any{"queue": c.queue})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.HandleMessage(d.Body); err != nil {
				utils.Warn("audit consumer rejected message", map[string]any{"error": err.Error()})
				// reject without requeue
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// HandleMessage writes one accepted-bid line
func (c *Consumer) HandleMessage(body []byte) error {
	var ev BidAcceptedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.BidID == "" || ev.TableID == "" || ev.Amount <= 0 {
		return fmt.Errorf("incomplete event for bid %q", ev.BidID)
	}

	c.log.WithFields(logrus.Fields{
		"bid_id":       ev.BidID,
		"table_id":     ev.TableID,
		"table_name":   ev.TableName,
		"category":     ev.Category,
		"user_id":      ev.UserID,
		"username":     ev.Username,
		"bid_amount":   ev.Amount,
		"previous_bid": ev.PreviousBid,
		"bid_count":    ev.BidCount,
		"version":      ev.Version,
		"accepted_at":  ev.AcceptedAt,
	}).Info("bid accepted")
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
