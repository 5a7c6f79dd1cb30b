package handler

import (
	"context"

	"coffee-kds/internal/common/logger"
	"coffee-kds/internal/microservices/kds/service"
)

// Poller runs one ingestion cycle on demand (scheduler.Runner).
type Poller interface {
	RunOnce(ctx context.Context) (service.IngestReport, error)
}

// Streamer feeds the event stream (notify.Hub).
type Streamer interface {
	Subscribe() (<-chan []byte, func())
	Snapshot(ctx context.Context) ([]byte, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger func(ctx context.Context) error

type Handler struct {
	KdsHandler *KdsHandler
}

func New(display service.DisplayServiceInterface, poller Poller, stream Streamer, checks map[string]Pinger, log *logger.Logger) *Handler {
	return &Handler{
		KdsHandler: NewKdsHandler(display, poller, stream, checks, log),
	}
}
