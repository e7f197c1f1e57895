package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"table-bidding/internal/models"
	"table-bidding/utils"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	ErrBufferFull      = errors.New("audit: publish buffer full, record dropped")
	ErrPublisherClosed = errors.New("audit: publisher closed")
)

// Publisher sends accepted bids to RabbitMQ. Records are queued in memory and
// a background goroutine owns the broker connection, so recording never waits
// on the network. When the buffer is full new records are dropped.
type Publisher struct {
	url            string
	queue          string
	dialTimeout    time.Duration
	publishTimeout time.Duration

	pending chan amqp.Publishing
	cancel  context.CancelFunc
	done    chan struct{}
}

type PublisherOption func(*Publisher)

// WithBufferSize sets how many records may wait for the broker
func WithBufferSize(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.pending = make(chan amqp.Publishing, n)
		}
	}
}

// WithDialTimeout bounds connecting and the AMQP handshake
func WithDialTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		if d > 0 {
			p.dialTimeout = d
		}
	}
}

func NewPublisher(url, queue string, opts ...PublisherOption) *Publisher {
	if queue == "" {
		queue = DefaultQueue
	}
	p := &Publisher{
		url:            url,
		queue:          queue,
		dialTimeout:    5 * time.Second,
		publishTimeout: 5 * time.Second,
		pending:        make(chan amqp.Publishing, 1024),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.run(ctx)
	return p
}

// RecordAcceptedBid queues a persistent BidAcceptedEvent. It returns
// immediately; ErrBufferFull means the record was dropped.
func (p *Publisher) RecordAcceptedBid(_ context.Context, bid models.Bid, table models.Table) error {
	body, err := json.Marshal(NewBidAcceptedEvent(bid, table))
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}

	select {
	case <-p.done:
		return ErrPublisherClosed
	default:
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    bid.BidID,
		Body:         body,
	}
	select {
	case p.pending <- pub:
		return nil
	default:
		return ErrBufferFull
	}
}

// Pending reports how many records are waiting for the broker
func (p *Publisher) Pending() int {
	return len(p.pending)
}

// Close stops the background sender. Records still queued are discarded.
func (p *Publisher) Close() error {
	p.cancel()
	<-p.done
	return nil
}

func (p *Publisher) run(ctx context.Context) {
	defer close(p.done)

	backoff := time.Second
	for {
		conn, ch, err := p.connect()
		if err != nil {
			utils.Warn("audit publisher failed to reach broker", map[string]any{
				"error":    err.Error(),
				"pending":  len(p.pending),
				"retry_in": backoff.String(),
			})
			if !sleep(ctx, backoff) {
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = p.drain(ctx, ch)
		_ = ch.Close()
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		utils.Warn("audit publisher lost broker, reconnecting", map[string]any{"error": err.Error()})
	}
}

func (p *Publisher) connect() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(p.url, amqp.Config{Dial: amqp.DefaultDial(p.dialTimeout)})
	if err != nil {
		return nil, nil, fmt.Errorf("audit: dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("audit: open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("audit: declare queue %s: %w", p.queue, err)
	}
	return conn, ch, nil
}

// drain publishes queued records until the channel fails or ctx is done
func (p *Publisher) drain(ctx context.Context, ch *amqp.Channel) error {
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			return fmt.Errorf("audit: channel closed: %v", amqpErr)
		case pub := <-p.pending:
			pubCtx, cancel := context.WithTimeout(ctx, p.publishTimeout)
			err := ch.PublishWithContext(pubCtx, "", p.queue, false, false, pub)
			cancel()
			if err != nil {
				select {
				case p.pending <- pub:
				default:
				}
				return fmt.Errorf("audit: publish: %w", err)
			}
		}
	}
}
