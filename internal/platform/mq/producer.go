// Package mq publishes domain events to a RabbitMQ topic exchange.
package mq

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/entitlement/pkg/config"
)

const dialTimeout = 10 * time.Second

// Publisher is implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body any) error
	Close()
}

// EventProducer holds the RabbitMQ connection and channel for publishing messages.
type EventProducer struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	logger   *zap.SugaredLogger
}

// EventProducerFallback is a no-op publisher used when RabbitMQ is not configured or unreachable.
type EventProducerFallback struct {
	logger *zap.SugaredLogger
}

func (p *EventProducerFallback) Publish(ctx context.Context, routingKey string, body any) error {
	p.logger.Debugw("publish skipped", "mode", "fallback", "routing_key", routingKey)
	return nil
}

func (p *EventProducerFallback) Close() {}

func NewEventProducerFallback(l *zap.SugaredLogger) *EventProducerFallback {
	return &EventProducerFallback{logger: l}
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer dials RabbitMQ and opens a channel.
func NewEventProducer(amqpURL, exchange string, l *zap.SugaredLogger) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(dialTimeout)})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &EventProducer{conn: conn, channel: ch, exchange: exchange, logger: l}, nil
}

// Publish sends body as JSON to the configured exchange, reopening the channel once on failure.
func (p *EventProducer) Publish(ctx context.Context, routingKey string, body any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publish(ctx, routingKey, jsonBody)
	if err == nil {
		return nil
	}
	p.logger.Warnw("publish failed; reopening channel", "exchange", p.exchange, "routing_key", routingKey, "error", err)
	ch, chErr := p.conn.Channel()
	if chErr != nil {
		return chErr
	}
	p.channel = ch
	return p.publish(ctx, routingKey, jsonBody)
}

func (p *EventProducer) publish(ctx context.Context, routingKey string, body []byte) error {
	if err := p.channel.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

// Close closes the channel and connection.
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// NewPublisher returns a RabbitMQ producer, or the fallback when events.amqp_url is unset or
// the broker cannot be reached at startup.
func NewPublisher(lc fx.Lifecycle, cfg *config.Config, l *zap.SugaredLogger) Publisher {
	if cfg.Events.AMQPURL == "" {
		return NewEventProducerFallback(l)
	}
	p, err := NewEventProducer(cfg.Events.AMQPURL, cfg.Events.Exchange, l)
	if err != nil {
		l.Warnw("rabbitmq unavailable, events disabled", "error", err)
		return NewEventProducerFallback(l)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			p.Close()
			return nil
		},
	})
	return p
}

var Module = fx.Options(
	fx.Provide(NewPublisher),
)
