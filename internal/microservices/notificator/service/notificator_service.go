package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"coffee-kds/internal/common/logger"
	"coffee-kds/internal/microservices/kds/notify"
)

var ErrDeliveriesClosed = errors.New("delivery channel closed")

// NotificatorService logs every KDS event it receives from a broker.
type NotificatorService struct {
	log *logger.Logger
}

func NewNotificatorService(log *logger.Logger) *NotificatorService {
	return &NotificatorService{log: log}
}

// Handle decodes one event body and logs it.
func (ns *NotificatorService) Handle(_ context.Context, body []byte) error {
	var ev notify.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	if ev.Event == "" {
		return errors.New("decode event: missing event type")
	}

	fields := map[string]any{
		"event":         ev.Event,
		"message_id":    ev.MessageID,
		"kds_order_id":  ev.ID,
		"ticket_number": ev.TicketNumber,
		"status":        ev.Status,
		"items_count":   len(ev.Items),
		"waiting_time":  ev.WaitingTime,
	}
	if ev.FromStatus != "" {
		fields["from_status"] = ev.FromStatus
	}
	if ev.CustomerInfo != nil {
		fields["customer"] = ev.CustomerInfo.Name
	}
	ns.log.Info("notification_received", fields)
	return nil
}

// ConsumeAMQP acks handled deliveries and dead-letters undecodable ones
// (nack without requeue) until ctx is done or the channel closes.
func (ns *NotificatorService) ConsumeAMQP(ctx context.Context, msgs <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return ErrDeliveriesClosed
			}
			if err := ns.Handle(ctx, d.Body); err != nil {
				ns.log.Error("notification_rejected", err, map[string]any{"message_id": d.MessageId})
				_ = d.Nack(false, false)
				continue
			}
			if err := d.Ack(false); err != nil {
				ns.log.Error("ack_failed", err, map[string]any{"message_id": d.MessageId})
			}
		}
	}
}

// HandleKafka matches kafka.HandlerFunc.
func (ns *NotificatorService) HandleKafka(ctx context.Context, _, value []byte) error {
	if err := ns.Handle(ctx, value); err != nil {
		ns.log.Error("notification_rejected", err, nil)
		return err
	}
	return nil
}
