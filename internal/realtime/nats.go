package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"table-bidding/internal/models"
	"table-bidding/utils"

	"github.com/nats-io/nats.go"
)

// NATSConfig configures the cross-instance change bus
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns defaults for a local NATS server
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "bidding.changes",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// NATSPublisher publishes change events on subjects <prefix>.<type> and relays
// them back into a local publisher, so every instance's viewers see every change
type NATSPublisher struct {
	nc     *nats.Conn
	config NATSConfig
}

// NewNATSPublisher connects to NATS
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultNATSConfig().SubjectPrefix
	}

	opts := []nats.Option{
		nats.Name("table-bidding"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				utils.Error("NATS disconnected", map[string]any{"error": err.Error()})
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			utils.Info("NATS reconnected", map[string]any{"url": nc.ConnectedUrl()})
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			utils.Error("NATS error", map[string]any{"error": err.Error()})
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSPublisher{nc: nc, config: cfg}, nil
}

// Subject returns the subject a change type is published on
func (p *NATSPublisher) Subject(t models.ChangeType) string {
	return fmt.Sprintf("%s.%s", p.config.SubjectPrefix, t)
}

func (p *NATSPublisher) Publish(_ context.Context, event models.ChangeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}

	msg := &nats.Msg{
		Subject: p.Subject(event.Type),
		Data:    data,
		Header:  nats.Header{"Event-Type": []string{string(event.Type)}},
	}
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish to NATS: %w", err)
	}
	return nil
}

// Relay subscribes to every change subject and forwards decoded events to
// target until ctx is done
func (p *NATSPublisher) Relay(ctx context.Context, target Publisher) error {
	subject := p.config.SubjectPrefix + ".>"
	sub, err := p.nc.Subscribe(subject, func(msg *nats.Msg) {
		var event models.ChangeEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			utils.Warn("dropping malformed change event", map[string]any{"subject": msg.Subject, "error": err.Error()})
			return
		}
		if err := target.Publish(ctx, event); err != nil {
			utils.Warn("failed to relay change event", map[string]any{"subject": msg.Subject, "error": err.Error()})
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}

	utils.Info("relaying change events from NATS", map[string]any{"subject": subject})
	<-ctx.Done()
	return sub.Unsubscribe()
}

func (p *NATSPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}
