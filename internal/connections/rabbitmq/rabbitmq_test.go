package rabbitmq

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"

	"coffee-kds/internal/config"
)

func TestURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.RabbitMQConfig
		want string
	}{
		{
			name: "default vhost",
			cfg:  config.RabbitMQConfig{Host: "mq", Port: 5672, User: "guest", Password: "guest"},
			want: "amqp://guest:guest@mq:5672/%2F",
		},
		{
			name: "named vhost over tls",
			cfg:  config.RabbitMQConfig{Host: "mq", Port: 5671, User: "kds", Password: "pw", VHost: "cafe", UseTLS: true},
			want: "amqps://kds:pw@mq:5671/cafe",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, URL(tt.cfg))
		})
	}
}

func TestAwaitConfirmSkipsStaleConfirms(t *testing.T) {
	tests := []struct {
		name    string
		queued  []amqp.Confirmation
		wantErr error
	}{
		{name: "ack", queued: []amqp.Confirmation{{DeliveryTag: 3, Ack: true}}},
		{name: "nack", queued: []amqp.Confirmation{{DeliveryTag: 3, Ack: false}}, wantErr: ErrNack},
		{
			name:   "abandoned nack before own ack",
			queued: []amqp.Confirmation{{DeliveryTag: 1, Ack: false}, {DeliveryTag: 2, Ack: false}, {DeliveryTag: 3, Ack: true}},
		},
		{
			name:    "abandoned ack before own nack",
			queued:  []amqp.Confirmation{{DeliveryTag: 2, Ack: true}, {DeliveryTag: 3, Ack: false}},
			wantErr: ErrNack,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acks := make(chan amqp.Confirmation, len(tt.queued))
			for _, c := range tt.queued {
				acks <- c
			}
			err := awaitConfirm(context.Background(), acks, 3)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
			assert.Empty(t, acks)
		})
	}
}

func TestAwaitConfirmGivesUp(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := awaitConfirm(ctx, make(chan amqp.Confirmation), 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	acks := make(chan amqp.Confirmation)
	close(acks)
	assert.Error(t, awaitConfirm(context.Background(), acks, 1))
}

func TestPingWithoutConnection(t *testing.T) {
	assert.Error(t, (&Client{}).Ping(context.Background()))
}
