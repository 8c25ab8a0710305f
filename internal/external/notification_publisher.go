package external

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"payments-api/internal/config"
	"payments-api/internal/models"
)

// NotificationPublisher pushes transaction events onto RabbitMQ for the
// notification service. Publishing is fire and forget; a broken channel is
// re-dialed on the next publish.
type NotificationPublisher struct {
	cfg config.RabbitMQConfig

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewNotificationPublisher(cfg config.RabbitMQConfig) *NotificationPublisher {
	return &NotificationPublisher{cfg: cfg}
}

// Connect dials RabbitMQ and declares the exchange. Safe to call again after
// a connection loss.
func (p *NotificationPublisher) Connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectLocked()
}

func (p *NotificationPublisher) connectLocked() error {
	conn, err := amqp.Dial(p.cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(p.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	p.conn = conn
	p.channel = channel
	return nil
}

// NotifyTransaction publishes a transaction event routed by type and status,
// e.g. "transaction.transfer.completed".
func (p *NotificationPublisher) NotifyTransaction(ctx context.Context, txn *models.Transaction) error {
	event := map[string]interface{}{
		"transaction_number": txn.TransactionNumber,
		"type":               txn.Type,
		"status":             txn.Status,
		"amount":             txn.Amount.String(),
		"fee":                txn.Fee.String(),
		"currency":           txn.Currency,
		"sender_user_id":     txn.SenderUserID,
		"receiver_user_id":   txn.ReceiverUserID,
		"failure_reason":     txn.FailureReason,
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	routingKey := fmt.Sprintf("transaction.%s.%s", strings.ToLower(string(txn.Type)), strings.ToLower(string(txn.Status)))

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel == nil || p.channel.IsClosed() {
		if err := p.connectLocked(); err != nil {
			return err
		}
	}

	err = p.channel.PublishWithContext(ctx, p.cfg.Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"routing_key": routingKey,
		"transaction": txn.TransactionNumber,
	}).Debug("Notification published")
	return nil
}

// Close releases the channel and connection.
func (p *NotificationPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
