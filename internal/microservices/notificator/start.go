package notificator

import (
	"context"
	"fmt"

	"coffee-kds/internal/common/logger"
	"coffee-kds/internal/config"
	"coffee-kds/internal/connections/kafka"
	"coffee-kds/internal/connections/rabbitmq"
	"coffee-kds/internal/microservices/notificator/service"
)

// Start consumes KDS events from the configured broker and logs them until
// ctx is done.
func Start(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	svc := service.NewNotificatorService(log)

	switch cfg.KDS.Notifier {
	case config.NotifierRabbitMQ:
		rmqClient, err := rabbitmq.Dial(cfg.RabbitMQ)
		if err != nil {
			return err
		}
		defer rmqClient.Close()

		msgs, ch, err := rmqClient.Subscribe(cfg.RabbitMQ.Exchange, cfg.RabbitMQ.Queue, "kds-notificator")
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", cfg.RabbitMQ.Exchange, err)
		}
		defer ch.Close()

		log.Info("subscriber_started", map[string]any{"driver": "rabbitmq", "exchange": cfg.RabbitMQ.Exchange, "queue": cfg.RabbitMQ.Queue})
		return svc.ConsumeAMQP(ctx, msgs)

	case config.NotifierKafka:
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID)
		defer consumer.Close()

		log.Info("subscriber_started", map[string]any{"driver": "kafka", "topic": cfg.Kafka.Topic, "group": cfg.Kafka.GroupID})
		return consumer.Listen(ctx, svc.HandleKafka)

	default:
		return fmt.Errorf("notify-subscriber needs kds.notifier rabbitmq or kafka, got %q", cfg.KDS.Notifier)
	}
}
