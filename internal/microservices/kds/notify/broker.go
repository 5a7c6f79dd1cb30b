package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"coffee-kds/internal/microservices/kds/models"
)

// AMQPPublisher is satisfied by *rabbitmq.Client.
type AMQPPublisher interface {
	Publish(ctx context.Context, exchange, key string, body []byte, headers amqp.Table, messageID string) error
}

// KafkaPublisher is satisfied by *kafka.Producer.
type KafkaPublisher interface {
	Publish(ctx context.Context, key string, value []byte, headers map[string]string) error
}

// RabbitMQNotifier publishes order events to a fanout exchange.
type RabbitMQNotifier struct {
	pub      AMQPPublisher
	exchange string
	now      func() time.Time
}

func NewRabbitMQNotifier(pub AMQPPublisher, exchange string) *RabbitMQNotifier {
	return &RabbitMQNotifier{pub: pub, exchange: exchange, now: time.Now}
}

func (n *RabbitMQNotifier) Name() string { return "rabbitmq" }

func (n *RabbitMQNotifier) OrderReceived(ctx context.Context, order models.OrderView) error {
	return n.publish(ctx, EventOrderReceived, order, "")
}

func (n *RabbitMQNotifier) StatusChanged(ctx context.Context, order models.OrderView, from models.Status) error {
	return n.publish(ctx, EventStatusChanged, order, from)
}

func (n *RabbitMQNotifier) publish(ctx context.Context, kind string, order models.OrderView, from models.Status) error {
	id := uuid.NewString()
	body, err := newEvent(kind, id, order, from, n.now()).Marshal()
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	headers := amqp.Table{"event": kind, "status": string(order.Status)}
	// fanout ignores the routing key
	if err := n.pub.Publish(ctx, n.exchange, "", body, headers, id); err != nil {
		return fmt.Errorf("publish %s to %s: %w", kind, n.exchange, err)
	}
	return nil
}

// KafkaNotifier writes order events keyed by order id, so every event of one
// order stays on one partition.
type KafkaNotifier struct {
	pub KafkaPublisher
	now func() time.Time
}

func NewKafkaNotifier(pub KafkaPublisher) *KafkaNotifier {
	return &KafkaNotifier{pub: pub, now: time.Now}
}

func (n *KafkaNotifier) Name() string { return "kafka" }

func (n *KafkaNotifier) OrderReceived(ctx context.Context, order models.OrderView) error {
	return n.publish(ctx, EventOrderReceived, order, "")
}

func (n *KafkaNotifier) StatusChanged(ctx context.Context, order models.OrderView, from models.Status) error {
	return n.publish(ctx, EventStatusChanged, order, from)
}

func (n *KafkaNotifier) publish(ctx context.Context, kind string, order models.OrderView, from models.Status) error {
	id := uuid.NewString()
	body, err := newEvent(kind, id, order, from, n.now()).Marshal()
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	headers := map[string]string{"event": kind, "message_id": id}
	return n.pub.Publish(ctx, strconv.FormatInt(order.ID, 10), body, headers)
}
