package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"coffee-kds/internal/common/logger"
	"coffee-kds/internal/common/metrics"
	"coffee-kds/internal/microservices/kds/models"
)

// SnapshotFunc returns the current display list.
type SnapshotFunc func(ctx context.Context) (any, error)

// Hub pushes the full order list to event-stream clients. It redraws on
// every notification and on a keep-alive tick so waiting times keep moving.
// A slow client only ever holds the latest snapshot.
type Hub struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}

	refresh  chan struct{}
	snapshot SnapshotFunc
	log      *logger.Logger
	metrics  *metrics.Metrics
}

func NewHub(snapshot SnapshotFunc, log *logger.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		subs:     make(map[chan []byte]struct{}),
		refresh:  make(chan struct{}, 1),
		snapshot: snapshot,
		log:      log,
		metrics:  m,
	}
}

func (h *Hub) Name() string { return "stream" }

func (h *Hub) OrderReceived(context.Context, models.OrderView) error {
	h.Refresh()
	return nil
}

func (h *Hub) StatusChanged(context.Context, models.OrderView, models.Status) error {
	h.Refresh()
	return nil
}

// Refresh schedules a redraw; calls coalesce while one is pending.
func (h *Hub) Refresh() {
	select {
	case h.refresh <- struct{}{}:
	default:
	}
}

// Subscribe registers a client. The returned func unsubscribes and is safe
// to call more than once.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 1)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	h.metrics.StreamSubscribers.Inc()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			h.metrics.StreamSubscribers.Dec()
		})
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Snapshot renders the current list as JSON.
func (h *Hub) Snapshot(ctx context.Context) ([]byte, error) {
	v, err := h.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return b, nil
}

// Broadcast hands data to every subscriber, replacing anything unread.
func (h *Hub) Broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- data:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- data:
		default:
		}
	}
}

// Run redraws until ctx is done.
func (h *Hub) Run(ctx context.Context, keepAlive time.Duration) {
	if keepAlive <= 0 {
		keepAlive = 5 * time.Second
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.refresh:
		case <-ticker.C:
		}
		h.push(ctx)
	}
}

func (h *Hub) push(ctx context.Context) {
	if h.Subscribers() == 0 {
		return
	}
	data, err := h.Snapshot(ctx)
	if err != nil {
		h.log.Error("stream_snapshot_failed", err, nil)
		return
	}
	h.Broadcast(data)
}
