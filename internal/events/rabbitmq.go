package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"ridebook/internal/domain"
)

const publishTimeout = 5 * time.Second

const maxReconnectDelay = 30 * time.Second

var (
	// ErrPublisherClosed is returned by Emit after Close.
	ErrPublisherClosed = errors.New("rabbitmq publisher closed")

	// ErrBrokerUnavailable is returned by Emit while the connection is being re-established.
	ErrBrokerUnavailable = errors.New("rabbitmq connection lost, reconnecting")
)

// RabbitConfig holds the broker connection settings.
type RabbitConfig struct {
	URL          string
	Exchange     string
	MaxRetries   int
	InitialDelay time.Duration
}

// RabbitPublisher publishes lifecycle events to a topic exchange with routing
// keys of the form "reservation.<kind>". A lost connection is re-dialled in the
// background; Emit fails fast with ErrBrokerUnavailable meanwhile.
type RabbitPublisher struct {
	url          string
	exchange     string
	initialDelay time.Duration

	mu     sync.Mutex // guards conn and ch; amqp channels are not safe for concurrent publishing
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
	done   chan struct{}
}

var _ Emitter = (*RabbitPublisher)(nil)

// NewRabbitPublisher dials the broker with retry and declares the exchange.
func NewRabbitPublisher(ctx context.Context, cfg RabbitConfig) (*RabbitPublisher, error) {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 10
	}
	delay := cfg.InitialDelay
	if delay <= 0 {
		delay = time.Second
	}

	p := &RabbitPublisher{
		url:          cfg.URL,
		exchange:     cfg.Exchange,
		initialDelay: delay,
		done:         make(chan struct{}),
	}

	for attempt := 1; ; attempt++ {
		err := p.connect()
		if err == nil {
			log.Printf("Connected to RabbitMQ (exchange=%s, attempt=%d)", cfg.Exchange, attempt)
			return p, nil
		}

		log.Printf("RabbitMQ connection attempt %d/%d failed: %v", attempt, maxRetries, err)
		if attempt == maxRetries {
			return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxRetries, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
			delay = nextDelay(delay)
		}
	}
}

func nextDelay(d time.Duration) time.Duration {
	d = time.Duration(float64(d) * 1.5)
	if d > maxReconnectDelay {
		d = maxReconnectDelay
	}
	return d
}

func (p *RabbitPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		p.exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}

	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = conn.Close()
		return ErrPublisherClosed
	}
	p.conn = conn
	p.ch = ch
	p.mu.Unlock()

	go p.watch(conn, connClosed, chClosed)
	return nil
}

// watch waits for conn or its channel to close and starts reconnecting,
// unless the close came from Close.
func (p *RabbitPublisher) watch(conn *amqp.Connection, connClosed, chClosed <-chan *amqp.Error) {
	var reason *amqp.Error
	select {
	case reason = <-connClosed:
	case reason = <-chClosed:
	case <-p.done:
		return
	}

	p.mu.Lock()
	if p.closed || p.conn != conn {
		p.mu.Unlock()
		return
	}
	p.conn = nil
	p.ch = nil
	p.mu.Unlock()

	// A channel-level error leaves the connection open.
	_ = conn.Close()

	log.Printf("RabbitMQ connection lost: %v; reconnecting", reason)
	p.reconnect()
}

func (p *RabbitPublisher) reconnect() {
	delay := p.initialDelay

	for attempt := 1; ; attempt++ {
		select {
		case <-p.done:
			return
		case <-time.After(delay):
		}

		err := p.connect()
		if err == nil {
			log.Printf("Reconnected to RabbitMQ (exchange=%s, attempt=%d)", p.exchange, attempt)
			return
		}
		if errors.Is(err, ErrPublisherClosed) {
			return
		}

		log.Printf("RabbitMQ reconnect attempt %d failed: %v", attempt, err)
		delay = nextDelay(delay)
	}
}

// RoutingKey returns the routing key an event is published under.
func RoutingKey(kind domain.EventKind) string {
	return "reservation." + strings.ToLower(string(kind))
}

// Emit publishes event as a persistent JSON message.
func (p *RabbitPublisher) Emit(ctx context.Context, event domain.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPublisherClosed
	}
	if p.ch == nil {
		return ErrBrokerUnavailable
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return p.ch.PublishWithContext(
		publishCtx,
		p.exchange,
		RoutingKey(event.Kind),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    event.ID,
			Type:         string(event.Kind),
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    event.OccurredAt,
		},
	)
}

// Close closes the channel and the connection.
func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)

	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
