// Package amqp publishes lead envelopes to a RabbitMQ topic exchange with
// publisher confirms.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"offerbot/internal/integrations"
	"offerbot/internal/storage"
	logx "offerbot/pkg/logx"
)

const DefaultRoutingKey = "lead.offer_confirmation"

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// channel is the part of *amqp091.Channel the publisher uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp091.Confirmation) chan amqp091.Confirmation
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	IsClosed() bool
	Close() error
}

type dialFunc func(url string) (channel, io.Closer, error)

func dialBroker(url string) (channel, io.Closer, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return ch, conn, nil
}

// Publisher keeps one confirm-mode channel and redials lazily after it breaks.
type Publisher struct {
	cfg  Config
	dial dialFunc
	log  logx.Logger
	now  func() time.Time

	mu       sync.Mutex
	ch       channel
	conn     io.Closer
	confirms chan amqp091.Confirmation
}

func New(cfg Config, log logx.Logger) (*Publisher, error) {
	return newPublisher(cfg, dialBroker, log)
}

func newPublisher(cfg Config, dial dialFunc, log logx.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp: url is required")
	}
	if cfg.Exchange == "" {
		return nil, errors.New("amqp: exchange is required")
	}
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = DefaultRoutingKey
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Publisher{cfg: cfg, dial: dial, log: log.With(logx.String("comp", "amqp")), now: time.Now}, nil
}

func (p *Publisher) Name() string { return "amqp" }

func (p *Publisher) connectLocked() error {
	if p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	p.resetLocked()
	ch, conn, err := p.dial(p.cfg.URL)
	if err != nil {
		return fmt.Errorf("amqp: dial: %w", err)
	}
	if err := ch.ExchangeDeclare(p.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp: declare exchange: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp: confirm mode: %w", err)
	}
	p.ch, p.conn = ch, conn
	p.confirms = ch.NotifyPublish(make(chan amqp091.Confirmation, 1))
	p.log.Info("amqp connected", logx.String("exchange", p.cfg.Exchange))
	return nil
}

func (p *Publisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn, p.confirms = nil, nil, nil
}

// Notify publishes c and waits for the broker to confirm it.
func (p *Publisher) Notify(ctx context.Context, c storage.Confirmation) error {
	body, err := json.Marshal(integrations.NewEnvelope(c))
	if err != nil {
		return fmt.Errorf("amqp: encode: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return err
	}
	msgID := uuid.NewString()
	err = p.ch.PublishWithContext(ctx, p.cfg.Exchange, p.cfg.RoutingKey, false, false, amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     msgID,
		CorrelationId: strconv.FormatInt(c.ID, 10),
		Type:          integrations.EventOfferConfirmation,
		Timestamp:     p.now(),
		Body:          body,
	})
	if err != nil {
		p.resetLocked()
		return fmt.Errorf("amqp: publish: %w", err)
	}

	select {
	case conf, ok := <-p.confirms:
		if !ok {
			p.resetLocked()
			return errors.New("amqp: channel closed before confirm")
		}
		if !conf.Ack {
			return fmt.Errorf("amqp: broker nacked delivery %d", conf.DeliveryTag)
		}
	case <-ctx.Done():
		// The outstanding confirm would pair with the next publish.
		p.resetLocked()
		return fmt.Errorf("amqp: waiting for confirm: %w", ctx.Err())
	}
	p.log.Debug("lead published", logx.String("message_id", msgID), logx.String("key", p.cfg.RoutingKey))
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	return nil
}
