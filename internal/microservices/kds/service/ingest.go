package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"coffee-kds/internal/common/logger"
	"coffee-kds/internal/common/metrics"
	"coffee-kds/internal/microservices/kds/models"
	"coffee-kds/internal/microservices/kds/notify"
	"coffee-kds/internal/microservices/kds/repository"
)

type IngestConfig struct {
	CoffeeCategory  string
	TicketType      int
	BatchLimit      int
	DefaultLookback time.Duration
	MaxLookback     time.Duration
	Retention       time.Duration
}

// IngestReport summarises one ingestion cycle.
type IngestReport struct {
	Cutoff                 time.Time `json:"cutoff"`
	TicketsFound           int       `json:"tickets_found"`
	TicketsDeferred        int       `json:"tickets_deferred"`
	OrdersCreated          int       `json:"orders_created"`
	TicketsSkippedExisting int       `json:"tickets_skipped_existing"`
	TicketsSkippedNoCoffee int       `json:"tickets_skipped_no_coffee"`
	MalformedAttributes    int       `json:"malformed_attributes"`
	OrdersPurged           int64     `json:"orders_purged"`
	CreatedOrderIDs        []int64   `json:"created_order_ids"`
	DurationMs             float64   `json:"duration_ms"`
}

// CutoffInfo explains where the next cycle will start reading.
type CutoffInfo struct {
	Now           time.Time  `json:"now"`
	LastOrderTime *time.Time `json:"last_order_time"`
	LastClearTime *time.Time `json:"last_clear_time"`
	Cutoff        time.Time  `json:"cutoff"`
	Floor         time.Time  `json:"floor"`
}

type IngestServiceInterface interface {
	Run(ctx context.Context) (IngestReport, error)
	CutoffInfo(ctx context.Context) (CutoffInfo, error)
	ResetCutoff(ctx context.Context) error
}

// IngestService mirrors new coffee tickets from the POS into the display
// queue. One Run is one cycle; callers serialise runs.
type IngestService struct {
	kds      repository.KdsRepositoryInterface
	pos      repository.PosRepositoryInterface
	notifier notify.Notifier
	cfg      IngestConfig
	log      *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewIngestService(kds repository.KdsRepositoryInterface, pos repository.PosRepositoryInterface,
	notifier notify.Notifier, cfg IngestConfig, log *logger.Logger, m *metrics.Metrics) *IngestService {
	return &IngestService{
		kds:      kds,
		pos:      pos,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		metrics:  m,
		now:      time.Now,
	}
}

func (s *IngestService) window() CutoffWindow {
	return CutoffWindow{DefaultLookback: s.cfg.DefaultLookback, MaxLookback: s.cfg.MaxLookback}
}

func (s *IngestService) Run(ctx context.Context) (rep IngestReport, err error) {
	start := s.now()
	began := time.Now()
	defer func() {
		elapsed := time.Since(began)
		rep.DurationMs = float64(elapsed.Microseconds()) / 1000
		s.metrics.IngestDuration.Observe(elapsed.Seconds())
		if err != nil {
			s.metrics.IngestRuns.WithLabelValues("error").Inc()
			s.log.Error("ingest_failed", err, map[string]any{
				"cutoff":         rep.Cutoff,
				"orders_created": rep.OrdersCreated,
			})
			return
		}
		s.metrics.IngestRuns.WithLabelValues("ok").Inc()
		s.log.Info("ingest_completed", map[string]any{
			"cutoff":                    rep.Cutoff,
			"tickets_found":             rep.TicketsFound,
			"tickets_deferred":          rep.TicketsDeferred,
			"orders_created":            rep.OrdersCreated,
			"tickets_skipped_existing":  rep.TicketsSkippedExisting,
			"tickets_skipped_no_coffee": rep.TicketsSkippedNoCoffee,
			"malformed_attributes":      rep.MalformedAttributes,
			"orders_purged":             rep.OrdersPurged,
			"duration_ms":               rep.DurationMs,
		})
	}()

	info, err := s.cutoffInfo(ctx, start)
	if err != nil {
		return rep, err
	}
	rep.Cutoff = info.Cutoff
	if info.LastClearTime != nil && info.Cutoff.Equal(*info.LastClearTime) {
		s.log.Debug("cutoff_from_clear_marker", map[string]any{"clear_time": *info.LastClearTime})
	}

	tickets, err := s.pos.FindCoffeeTickets(ctx, models.TicketQuery{
		After:      info.Cutoff,
		NotBefore:  info.Floor,
		TicketType: s.cfg.TicketType,
		Category:   s.cfg.CoffeeCategory,
		Limit:      s.cfg.BatchLimit + 1,
	})
	if err != nil {
		return rep, fmt.Errorf("find coffee tickets: %w", err)
	}
	found := len(tickets)
	tickets = holdBackTiedTail(tickets, s.cfg.BatchLimit)
	rep.TicketsFound = len(tickets)
	if found > s.cfg.BatchLimit {
		rep.TicketsDeferred = s.cfg.BatchLimit - len(tickets)
	}

	ids := make([]string, len(tickets))
	for i, t := range tickets {
		ids[i] = t.ID
	}
	existing, err := s.kds.ExistingTicketIDs(ctx, ids)
	if err != nil {
		return rep, fmt.Errorf("check existing tickets: %w", err)
	}

	for _, t := range tickets {
		if _, ok := existing[t.ID]; ok {
			rep.TicketsSkippedExisting++
			continue
		}
		order, malformed := s.buildOrder(t, start)
		rep.MalformedAttributes += malformed
		if order == nil {
			rep.TicketsSkippedNoCoffee++
			continue
		}

		stored, created, err := s.kds.CreateOrderTx(ctx, *order)
		if err != nil {
			return rep, fmt.Errorf("create order for ticket %s: %w", t.ID, err)
		}
		if !created {
			// another writer got there between the dedup check and the insert
			rep.TicketsSkippedExisting++
			continue
		}
		id := stored.ID
		rep.OrdersCreated++
		rep.CreatedOrderIDs = append(rep.CreatedOrderIDs, id)
		s.metrics.OrdersCreated.Inc()
		s.log.Info("order_created", map[string]any{
			"kds_order_id": id,
			"ticket_id":    t.ID,
			"items_count":  len(stored.Items),
		})

		view := models.NewOrderView(stored, start, CleanName)
		if err := s.notifier.OrderReceived(ctx, view); err != nil {
			s.log.Warn("order_notification_failed", map[string]any{"kds_order_id": id, "error": err.Error()})
		}
	}

	purged, err := s.kds.PurgeCompleted(ctx, start.Add(-s.cfg.Retention))
	if err != nil {
		return rep, fmt.Errorf("purge completed orders: %w", err)
	}
	rep.OrdersPurged = purged
	if purged > 0 {
		s.metrics.OrdersPurged.Add(float64(purged))
	}

	if rep.OrdersCreated > 0 || purged > 0 {
		if r, ok := s.notifier.(notify.Refresher); ok {
			r.Refresh()
		}
	}
	return rep, nil
}

// holdBackTiedTail trims tickets, read with one row beyond limit, to at most
// limit. When the row past the limit shares the receipt date of the last kept
// ticket, every kept ticket at that instant is held back too: the next cutoff
// is strictly after the newest order time, so a split instant would lose its
// remainder. A batch that is one instant throughout is kept whole.
func holdBackTiedTail(tickets []models.Ticket, limit int) []models.Ticket {
	if limit <= 0 || len(tickets) <= limit {
		return tickets
	}
	peek, last := tickets[limit].ReceiptDate, tickets[limit-1].ReceiptDate
	tickets = tickets[:limit]
	if peek == nil || last == nil || !peek.Equal(*last) {
		return tickets
	}
	n := limit
	for n > 0 && tickets[n-1].ReceiptDate != nil && tickets[n-1].ReceiptDate.Equal(*last) {
		n--
	}
	if n == 0 {
		return tickets
	}
	return tickets[:n]
}

// buildOrder keeps the coffee lines of t. It returns nil when there are none,
// along with the number of lines whose attributes could not be parsed.
func (s *IngestService) buildOrder(t models.Ticket, now time.Time) (*models.Order, int) {
	order := &models.Order{
		TicketID:     t.ID,
		TicketNumber: t.TicketNumber,
		Person:       t.Person,
		Status:       models.StatusNew,
		OrderTime:    now,
		CustomerInfo: t.Customer,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if t.ReceiptDate != nil {
		order.OrderTime = *t.ReceiptDate
	}

	malformed := 0
	for _, l := range t.Lines {
		if l.Category != s.cfg.CoffeeCategory {
			continue
		}
		item := models.OrderItem{
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			Quantity:    l.Units,
		}
		if strings.TrimSpace(item.ProductName) == "" {
			item.ProductName = models.UnknownProduct
		}
		if d := strings.TrimSpace(l.ProductDisplay); d != "" {
			display := l.ProductDisplay
			item.DisplayName = &display
		}

		attrs := ParseAttributes(l.Attributes)
		switch attrs.Kind {
		case AttributesParsed:
			item.Modifiers, item.Notes = splitNotes(attrs.Modifiers)
		case AttributesMalformed:
			malformed++
			s.metrics.MalformedAttributes.Inc()
			s.log.Warn("attributes_malformed", map[string]any{
				"ticket_id": t.ID,
				"line":      l.Line,
				"error":     attrs.Err.Error(),
			})
		}
		order.Items = append(order.Items, item)
	}
	if len(order.Items) == 0 {
		return nil, malformed
	}
	return order, malformed
}

func (s *IngestService) CutoffInfo(ctx context.Context) (CutoffInfo, error) {
	return s.cutoffInfo(ctx, s.now())
}

func (s *IngestService) cutoffInfo(ctx context.Context, now time.Time) (CutoffInfo, error) {
	info := CutoffInfo{Now: now, Floor: now.Add(-s.cfg.MaxLookback)}

	lastOrder, err := s.kds.LastOrderTime(ctx)
	if err != nil {
		return info, fmt.Errorf("read last order time: %w", err)
	}
	info.LastOrderTime = lastOrder

	lastClear, err := s.kds.LastClearTime(ctx)
	switch {
	case errors.Is(err, repository.ErrBadSetting):
		s.log.Warn("clear_marker_ignored", map[string]any{"error": err.Error()})
	case err != nil:
		return info, fmt.Errorf("read clear marker: %w", err)
	default:
		info.LastClearTime = lastClear
	}

	info.Cutoff = ComputeCutoff(now, lastOrder, info.LastClearTime, s.window())
	return info, nil
}

// ResetCutoff removes the clear marker so the next cycle falls back to the
// latest order time.
func (s *IngestService) ResetCutoff(ctx context.Context) error {
	if err := s.kds.SetLastClearTime(ctx, nil); err != nil {
		return fmt.Errorf("reset clear marker: %w", err)
	}
	s.log.Info("cutoff_reset", nil)
	return nil
}
