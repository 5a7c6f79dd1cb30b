package kafka

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestNewProducerFlushesSingleMessages(t *testing.T) {
	p := NewProducer([]string{"localhost:9092"}, "kds.orders")
	defer p.Close()

	assert.Equal(t, "kds.orders", p.writer.Topic)
	assert.Equal(t, 1, p.writer.BatchSize)
	assert.LessOrEqual(t, p.writer.BatchTimeout, 10*time.Millisecond)
	assert.IsType(t, &kafka.Hash{}, p.writer.Balancer)
}
