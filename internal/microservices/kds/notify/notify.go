package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"coffee-kds/internal/common/logger"
	"coffee-kds/internal/common/metrics"
	"coffee-kds/internal/microservices/kds/models"
)

const (
	EventOrderReceived = "order.received"
	EventStatusChanged = "order.status_changed"
)

// Notifier is told about display changes. Implementations must not block
// for long; the ingestion job calls them inline.
type Notifier interface {
	Name() string
	OrderReceived(ctx context.Context, order models.OrderView) error
	StatusChanged(ctx context.Context, order models.OrderView, from models.Status) error
}

// Refresher is implemented by notifiers that redraw the whole list, such as
// the stream hub.
type Refresher interface {
	Refresh()
}

// Event is the broker payload. The order fields are inlined so subscribers
// get the same shape the display receives.
type Event struct {
	Event      string        `json:"event"`
	MessageID  string        `json:"message_id"`
	OccurredAt time.Time     `json:"occurred_at"`
	FromStatus models.Status `json:"from_status,omitempty"`
	models.OrderView
}

func newEvent(kind, id string, order models.OrderView, from models.Status, now time.Time) Event {
	return Event{Event: kind, MessageID: id, OccurredAt: now.UTC(), FromStatus: from, OrderView: order}
}

func (e Event) Marshal() ([]byte, error) { return json.Marshal(e) }

// Multi fans a notification out to every driver. A failing driver is logged
// and counted; the others still run.
type Multi struct {
	notifiers []Notifier
	log       *logger.Logger
	metrics   *metrics.Metrics
}

func NewMulti(log *logger.Logger, m *metrics.Metrics, notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers, log: log, metrics: m}
}

func (m *Multi) Name() string { return "multi" }

func (m *Multi) OrderReceived(ctx context.Context, order models.OrderView) error {
	return m.each(func(n Notifier) error { return n.OrderReceived(ctx, order) }, order.ID)
}

func (m *Multi) StatusChanged(ctx context.Context, order models.OrderView, from models.Status) error {
	return m.each(func(n Notifier) error { return n.StatusChanged(ctx, order, from) }, order.ID)
}

func (m *Multi) Refresh() {
	for _, n := range m.notifiers {
		if r, ok := n.(Refresher); ok {
			r.Refresh()
		}
	}
}

func (m *Multi) each(fn func(Notifier) error, orderID int64) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := fn(n); err != nil {
			m.metrics.NotifyFailures.WithLabelValues(n.Name()).Inc()
			m.log.Error("notify_failed", err, map[string]any{"driver": n.Name(), "order_id": orderID})
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
