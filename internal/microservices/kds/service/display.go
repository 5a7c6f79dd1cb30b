package service

import (
	"context"
	"fmt"
	"time"

	"coffee-kds/internal/common/logger"
	"coffee-kds/internal/common/metrics"
	"coffee-kds/internal/microservices/kds/models"
	"coffee-kds/internal/microservices/kds/notify"
	"coffee-kds/internal/microservices/kds/repository"
)

type DisplayServiceInterface interface {
	CurrentOrders(ctx context.Context) ([]models.OrderView, error)
	SetStatus(ctx context.Context, id int64, status, changedBy string) (models.OrderView, bool, error)
	Timeline(ctx context.Context, id int64) ([]models.OrderEvent, error)
	ClearCompleted(ctx context.Context) (int64, error)
	ClearAll(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (repository.Stats, error)
}

type DisplayService struct {
	kds          repository.KdsRepositoryInterface
	notifier     notify.Notifier
	clearedAfter time.Duration
	log          *logger.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

func NewDisplayService(kds repository.KdsRepositoryInterface, notifier notify.Notifier,
	clearedAfter time.Duration, log *logger.Logger, m *metrics.Metrics) *DisplayService {
	return &DisplayService{
		kds:          kds,
		notifier:     notifier,
		clearedAfter: clearedAfter,
		log:          log,
		metrics:      m,
		now:          time.Now,
	}
}

// CurrentOrders lists active orders, oldest first, with waiting times as of now.
func (s *DisplayService) CurrentOrders(ctx context.Context) ([]models.OrderView, error) {
	orders, err := s.kds.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active orders: %w", err)
	}

	meta := s.metadataFor(ctx, orders...)

	now := s.now()
	views := make([]models.OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, s.view(o, now, meta))
	}
	return views, nil
}

// metadataFor loads grouping metadata for every product in orders. Grouping
// degrades to name matching when it is unavailable.
func (s *DisplayService) metadataFor(ctx context.Context, orders ...models.Order) map[string]models.ProductMetadata {
	seen := map[string]struct{}{}
	var productIDs []string
	for _, o := range orders {
		for _, it := range o.Items {
			if _, ok := seen[it.ProductID]; !ok {
				seen[it.ProductID] = struct{}{}
				productIDs = append(productIDs, it.ProductID)
			}
		}
	}
	meta, err := s.kds.ProductMetadata(ctx, productIDs)
	if err != nil {
		s.log.Warn("product_metadata_unavailable", map[string]any{"error": err.Error()})
		return nil
	}
	return meta
}

func (s *DisplayService) view(o models.Order, now time.Time, meta map[string]models.ProductMetadata) models.OrderView {
	v := models.NewOrderView(o, now, CleanName)
	groups := GroupItems(o.Items, meta)
	v.CompactDisplay = CompactLines(groups)
	v.UseCompactDisplay = UseCompact(o.Items, groups)
	return v
}

// SetStatus moves an order along the status path. Repeating the current
// status succeeds with changed == false and sends no notification.
func (s *DisplayService) SetStatus(ctx context.Context, id int64, status, changedBy string) (models.OrderView, bool, error) {
	to, err := models.ParseStatus(status)
	if err != nil {
		return models.OrderView{}, false, err
	}
	if changedBy == "" {
		changedBy = "kds"
	}

	before, err := s.kds.GetOrder(ctx, id)
	if err != nil {
		return models.OrderView{}, false, err
	}

	now := s.now()
	order, from, changed, err := s.kds.UpdateStatusTx(ctx, id, to, changedBy, now)
	if err != nil {
		if from == "" {
			from = before.Status
		}
		s.log.Warn("status_change_rejected", map[string]any{
			"kds_order_id": id,
			"from":         from,
			"to":           to,
			"error":        err.Error(),
		})
		return models.OrderView{}, false, err
	}

	order.Items = before.Items
	view := s.view(order, now, s.metadataFor(ctx, order))
	if !changed {
		return view, false, nil
	}

	s.metrics.StatusTransitions.WithLabelValues(string(to)).Inc()
	s.log.Info("status_changed", map[string]any{
		"kds_order_id": id,
		"from":         from,
		"to":           to,
		"changed_by":   changedBy,
	})
	if err := s.notifier.StatusChanged(ctx, view, from); err != nil {
		s.log.Warn("status_notification_failed", map[string]any{"kds_order_id": id, "error": err.Error()})
	}
	return view, true, nil
}

func (s *DisplayService) Timeline(ctx context.Context, id int64) ([]models.OrderEvent, error) {
	if _, err := s.kds.GetOrder(ctx, id); err != nil {
		return nil, err
	}
	return s.kds.Timeline(ctx, id)
}

// ClearCompleted removes finished orders older than the configured grace period.
func (s *DisplayService) ClearCompleted(ctx context.Context) (int64, error) {
	n, err := s.kds.ClearFinished(ctx, s.now().Add(-s.clearedAfter))
	if err != nil {
		return 0, fmt.Errorf("clear finished orders: %w", err)
	}
	s.log.Info("orders_cleared", map[string]any{"scope": "completed", "deleted": n})
	s.refresh()
	return n, nil
}

// ClearAll empties the display and moves the clear marker to now, so tickets
// rung up before this instant are not ingested again.
func (s *DisplayService) ClearAll(ctx context.Context) (int64, error) {
	n, err := s.kds.ClearAllTx(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("clear all orders: %w", err)
	}
	s.log.Info("orders_cleared", map[string]any{"scope": "all", "deleted": n})
	s.refresh()
	return n, nil
}

func (s *DisplayService) Stats(ctx context.Context) (repository.Stats, error) {
	return s.kds.Stats(ctx)
}

func (s *DisplayService) refresh() {
	if r, ok := s.notifier.(notify.Refresher); ok {
		r.Refresh()
	}
}
