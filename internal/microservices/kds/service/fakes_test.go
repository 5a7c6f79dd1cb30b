package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"coffee-kds/internal/common/logger"
	"coffee-kds/internal/common/metrics"
	"coffee-kds/internal/microservices/kds/models"
	"coffee-kds/internal/microservices/kds/repository"
)

// fakeKds is an in-memory KdsRepositoryInterface.
type fakeKds struct {
	orders     map[int64]*models.Order
	nextID     int64
	nextItemID int64
	lastClear  *time.Time
	clearErr   error
	meta       map[string]models.ProductMetadata
	events     []models.OrderEvent

	createErr error
	listErr   error

	// beforeUpdate runs inside UpdateStatusTx before the row is read, standing
	// in for a concurrent writer.
	beforeUpdate func(id int64)
}

func newFakeKds() *fakeKds {
	return &fakeKds{orders: map[int64]*models.Order{}, meta: map[string]models.ProductMetadata{}}
}

func (f *fakeKds) add(o models.Order) int64 {
	f.nextID++
	o.ID = f.nextID
	f.orders[o.ID] = &o
	return o.ID
}

func (f *fakeKds) InitSchema(context.Context) error { return nil }

func (f *fakeKds) LastOrderTime(context.Context) (*time.Time, error) {
	var last *time.Time
	for _, o := range f.orders {
		if last == nil || o.OrderTime.After(*last) {
			t := o.OrderTime
			last = &t
		}
	}
	return last, nil
}

func (f *fakeKds) LastClearTime(context.Context) (*time.Time, error) {
	return f.lastClear, f.clearErr
}

func (f *fakeKds) SetLastClearTime(_ context.Context, t *time.Time) error {
	f.lastClear = t
	f.clearErr = nil
	return nil
}

func (f *fakeKds) ExistingTicketIDs(_ context.Context, ids []string) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	for _, id := range ids {
		for _, o := range f.orders {
			if o.TicketID == id {
				out[id] = struct{}{}
			}
		}
	}
	return out, nil
}

func (f *fakeKds) CreateOrderTx(_ context.Context, order models.Order) (models.Order, bool, error) {
	if f.createErr != nil {
		return models.Order{}, false, f.createErr
	}
	for _, o := range f.orders {
		if o.TicketID == order.TicketID {
			return models.Order{}, false, nil
		}
	}
	order.Items = append([]models.OrderItem(nil), order.Items...)
	id := f.add(order)
	stored := f.orders[id]
	for i := range stored.Items {
		f.nextItemID++
		stored.Items[i].ID = f.nextItemID
		stored.Items[i].OrderID = id
	}
	out := *stored
	out.Items = append([]models.OrderItem(nil), stored.Items...)
	return out, true, nil
}

func (f *fakeKds) PurgeCompleted(_ context.Context, before time.Time) (int64, error) {
	var n int64
	for id, o := range f.orders {
		if o.Status == models.StatusCompleted && o.CompletedAt != nil && o.CompletedAt.Before(before) {
			delete(f.orders, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeKds) ListActive(context.Context) ([]models.Order, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.Order
	for _, o := range f.orders {
		if o.Status.Active() {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderTime.Before(out[j].OrderTime) })
	return out, nil
}

func (f *fakeKds) GetOrder(_ context.Context, id int64) (models.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return models.Order{}, repository.ErrOrderNotFound
	}
	return *o, nil
}

func (f *fakeKds) UpdateStatusTx(_ context.Context, id int64, to models.Status, changedBy string, now time.Time) (models.Order, models.Status, bool, error) {
	if f.beforeUpdate != nil {
		f.beforeUpdate(id)
	}
	o, ok := f.orders[id]
	if !ok {
		return models.Order{}, "", false, repository.ErrOrderNotFound
	}
	from := o.Status
	next := *o
	changed, err := next.Apply(to, now)
	if err != nil || !changed {
		return *o, from, false, err
	}
	*o = next
	f.events = append(f.events, models.OrderEvent{OrderID: id, FromStatus: from, ToStatus: to, ChangedBy: changedBy, ChangedAt: now})
	return next, from, true, nil
}

func (f *fakeKds) Timeline(_ context.Context, id int64) ([]models.OrderEvent, error) {
	var out []models.OrderEvent
	for _, e := range f.events {
		if e.OrderID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeKds) ProductMetadata(_ context.Context, ids []string) (map[string]models.ProductMetadata, error) {
	out := map[string]models.ProductMetadata{}
	for _, id := range ids {
		if m, ok := f.meta[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

func (f *fakeKds) ClearFinished(_ context.Context, before time.Time) (int64, error) {
	var n int64
	for id, o := range f.orders {
		if o.Status.Terminal() && o.CompletedAt != nil && o.CompletedAt.Before(before) {
			delete(f.orders, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeKds) ClearAllTx(_ context.Context, now time.Time) (int64, error) {
	n := int64(len(f.orders))
	f.orders = map[int64]*models.Order{}
	f.lastClear = &now
	return n, nil
}

func (f *fakeKds) Stats(context.Context) (repository.Stats, error) {
	st := repository.Stats{ByStatus: map[models.Status]int{}}
	for _, o := range f.orders {
		st.ByStatus[o.Status]++
	}
	st.LastOrderTime, _ = f.LastOrderTime(context.Background())
	return st, nil
}

// fakePos applies the time bounds, ordering (ties by id) and limit of the real query but
// not the category filter, so the job's own line filter is exercised.
type fakePos struct {
	tickets []models.Ticket
	queries []models.TicketQuery
	err     error
}

func (f *fakePos) FindCoffeeTickets(_ context.Context, q models.TicketQuery) ([]models.Ticket, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Ticket
	for _, t := range f.tickets {
		if t.TicketType != q.TicketType {
			continue
		}
		if t.ReceiptDate != nil && (!t.ReceiptDate.After(q.After) || !t.ReceiptDate.After(q.NotBefore)) {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ReceiptDate == nil || out[j].ReceiptDate == nil {
			return false
		}
		if out[i].ReceiptDate.Equal(*out[j].ReceiptDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].ReceiptDate.Before(*out[j].ReceiptDate)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

type statusChange struct {
	order models.OrderView
	from  models.Status
}

type recordingNotifier struct {
	received  []models.OrderView
	changes   []statusChange
	refreshes int
	err       error
}

func (n *recordingNotifier) Name() string { return "recording" }

func (n *recordingNotifier) OrderReceived(_ context.Context, o models.OrderView) error {
	n.received = append(n.received, o)
	return n.err
}

func (n *recordingNotifier) StatusChanged(_ context.Context, o models.OrderView, from models.Status) error {
	n.changes = append(n.changes, statusChange{order: o, from: from})
	return n.err
}

func (n *recordingNotifier) Refresh() { n.refreshes++ }

var errBoom = errors.New("boom")

var testNow = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func testIngestConfig() IngestConfig {
	return IngestConfig{
		CoffeeCategory:  "081",
		TicketType:      0,
		BatchLimit:      50,
		DefaultLookback: 24 * time.Hour,
		MaxLookback:     2 * time.Hour,
		Retention:       24 * time.Hour,
	}
}

func newTestIngest(kds *fakeKds, pos *fakePos, n *recordingNotifier) *IngestService {
	s := NewIngestService(kds, pos, n, testIngestConfig(), logger.NewNop(), metrics.New(nil))
	s.now = func() time.Time { return testNow }
	return s
}

func newTestDisplay(kds *fakeKds, n *recordingNotifier) *DisplayService {
	s := NewDisplayService(kds, n, time.Hour, logger.NewNop(), metrics.New(nil))
	s.now = func() time.Time { return testNow }
	return s
}

func at(d time.Duration) *time.Time {
	t := testNow.Add(d)
	return &t
}

func coffeeLine(ticket string, line int, product, name string, units float64) models.TicketLine {
	return models.TicketLine{TicketID: ticket, Line: line, ProductID: product, Units: units, ProductName: name, Category: "081"}
}
