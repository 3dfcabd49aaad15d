package external

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Publisher mirrors pipeline activity onto the message broker so dashboards
// and downstream compliance consumers can subscribe out of process.
type Publisher interface {
	PublishTransactionEvent(ctx context.Context, event *TransactionEvent) error
	PublishComplianceReport(ctx context.Context, reportType string, report interface{}) error
	PublishComplianceAlert(ctx context.Context, alertType string, severity string, details map[string]interface{}) error
	Close() error
}

// TransactionEvent is the broker-side mirror of a pipeline lifecycle event.
type TransactionEvent struct {
	EventID       string                 `json:"event_id"`
	EventType     string                 `json:"event_type"`
	TransactionID string                 `json:"transaction_id"`
	UserID        int64                  `json:"user_id"`
	Timestamp     time.Time              `json:"timestamp"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
}

type PublisherConfig struct {
	URL                string
	EventExchange      string
	ComplianceExchange string
	RetryAttempts      int
	RetryDelay         time.Duration
}

type amqpPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	config  *PublisherConfig
	log     *logrus.Entry
}

func NewAMQPPublisher(config *PublisherConfig) (Publisher, error) {
	if config.RetryAttempts == 0 {
		config.RetryAttempts = 3
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 5 * time.Second
	}
	if config.EventExchange == "" {
		config.EventExchange = "pipeline.events"
	}
	if config.ComplianceExchange == "" {
		config.ComplianceExchange = "pipeline.compliance"
	}

	p := &amqpPublisher{
		config: config,
		log:    logrus.WithField("component", "amqp_publisher"),
	}

	if err := p.connect(); err != nil {
		return nil, err
	}

	if err := p.setupExchanges(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *amqpPublisher) connect() error {
	var err error
	p.conn, err = amqp.Dial(p.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	p.channel, err = p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	return nil
}

func (p *amqpPublisher) setupExchanges() error {
	for _, name := range []string{p.config.EventExchange, p.config.ComplianceExchange} {
		err := p.channel.ExchangeDeclare(
			name,    // name
			"topic", // type
			true,    // durable
			false,   // auto-deleted
			false,   // internal
			false,   // no-wait
			nil,     // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", name, err)
		}
	}

	return nil
}

func (p *amqpPublisher) PublishTransactionEvent(ctx context.Context, event *TransactionEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	routingKey := fmt.Sprintf("transaction.%s", event.EventType)
	return p.publishMessage(ctx, p.config.EventExchange, routingKey, event)
}

func (p *amqpPublisher) PublishComplianceReport(ctx context.Context, reportType string, report interface{}) error {
	routingKey := fmt.Sprintf("report.%s", reportType)
	return p.publishMessage(ctx, p.config.ComplianceExchange, routingKey, report)
}

func (p *amqpPublisher) PublishComplianceAlert(ctx context.Context, alertType string, severity string, details map[string]interface{}) error {
	alert := map[string]interface{}{
		"alert_id":   uuid.New().String(),
		"alert_type": alertType,
		"severity":   severity,
		"details":    details,
		"timestamp":  time.Now(),
	}

	routingKey := fmt.Sprintf("alert.%s", severity)
	return p.publishMessage(ctx, p.config.ComplianceExchange, routingKey, alert)
}

func (p *amqpPublisher) publishMessage(ctx context.Context, exchange, routingKey string, message interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    time.Now(),
		DeliveryMode: amqp.Persistent,
	}

	var lastErr error
	for attempt := 0; attempt < p.config.RetryAttempts; attempt++ {
		lastErr = p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, publishing)
		if lastErr == nil {
			return nil
		}

		p.log.WithError(lastErr).WithFields(logrus.Fields{
			"exchange":    exchange,
			"routing_key": routingKey,
			"attempt":     attempt + 1,
		}).Warn("Failed to publish message, retrying")

		// The connection may have dropped; try to re-establish before the
		// next attempt.
		if p.conn == nil || p.conn.IsClosed() {
			if err := p.connect(); err != nil {
				p.log.WithError(err).Warn("Failed to reconnect to RabbitMQ")
			}
		}

		if attempt < p.config.RetryAttempts-1 {
			select {
			case <-time.After(p.config.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("failed to publish to %s after %d attempts: %w", exchange, p.config.RetryAttempts, lastErr)
}

func (p *amqpPublisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// NopPublisher drops everything. Used when the broker is not configured.
type NopPublisher struct{}

func (NopPublisher) PublishTransactionEvent(ctx context.Context, event *TransactionEvent) error {
	return nil
}

func (NopPublisher) PublishComplianceReport(ctx context.Context, reportType string, report interface{}) error {
	return nil
}

func (NopPublisher) PublishComplianceAlert(ctx context.Context, alertType string, severity string, details map[string]interface{}) error {
	return nil
}

func (NopPublisher) Close() error { return nil }
