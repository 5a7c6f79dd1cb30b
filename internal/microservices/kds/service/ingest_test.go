package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coffee-kds/internal/microservices/kds/models"
	"coffee-kds/internal/microservices/kds/repository"
)

func TestIngestTwoCoffeeLinesMakeOneOrder(t *testing.T) {
	kds := newFakeKds()
	pos := &fakePos{tickets: []models.Ticket{{
		ID:           "T-1",
		TicketNumber: 1042,
		TicketType:   0,
		Person:       "barista",
		ReceiptDate:  at(-5 * time.Minute),
		Lines: []models.TicketLine{
			coffeeLine("T-1", 0, "p-flat", "Flat White", 1),
			coffeeLine("T-1", 1, "p-latte", "Latte", 2),
		},
	}}}
	n := &recordingNotifier{}

	rep, err := newTestIngest(kds, pos, n).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, rep.TicketsFound)
	assert.Equal(t, 1, rep.OrdersCreated)
	require.Len(t, kds.orders, 1)

	o := kds.orders[rep.CreatedOrderIDs[0]]
	assert.Equal(t, models.StatusNew, o.Status)
	assert.Equal(t, "T-1", o.TicketID)
	assert.Equal(t, 1042, o.TicketNumber)
	assert.True(t, o.OrderTime.Equal(*at(-5 * time.Minute)))
	require.Len(t, o.Items, 2)
	assert.Equal(t, 1.0, o.Items[0].Quantity)
	assert.Equal(t, 2.0, o.Items[1].Quantity)

	require.Len(t, n.received, 1)
	assert.Equal(t, o.ID, n.received[0].ID)
	assert.Equal(t, "5:00", n.received[0].WaitingTime)
	assert.Equal(t, 1, n.refreshes)

	items := n.received[0].Items
	require.Len(t, items, 2)
	assert.Equal(t, o.Items[0].ID, items[0].ID)
	assert.Equal(t, o.Items[1].ID, items[1].ID)
	assert.NotZero(t, items[0].ID)
	assert.NotEqual(t, items[0].ID, items[1].ID)
}

func TestIngestIsIdempotent(t *testing.T) {
	kds := newFakeKds()
	pos := &fakePos{tickets: []models.Ticket{{
		ID:          "T-1",
		ReceiptDate: at(-time.Minute),
		Lines:       []models.TicketLine{coffeeLine("T-1", 0, "p-1", "Mocha", 1)},
	}}}
	n := &recordingNotifier{}
	svc := newTestIngest(kds, pos, n)

	_, err := svc.Run(context.Background())
	require.NoError(t, err)

	// the fake clock does not move, so the cutoff still admits the ticket
	kds.orders[1].OrderTime = testNow.Add(-2 * time.Minute)
	rep, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, rep.OrdersCreated)
	assert.Equal(t, 1, rep.TicketsSkippedExisting)
	assert.Len(t, kds.orders, 1)
	assert.Len(t, n.received, 1)
}

func TestIngestSkipsTicketsWithoutCoffee(t *testing.T) {
	kds := newFakeKds()
	pastry := models.TicketLine{TicketID: "T-2", ProductID: "p-cake", ProductName: "Cake", Units: 1, Category: "050"}
	pos := &fakePos{tickets: []models.Ticket{
		{ID: "T-2", ReceiptDate: at(-time.Minute), Lines: []models.TicketLine{pastry}},
		{ID: "T-3", ReceiptDate: at(-time.Minute), Lines: []models.TicketLine{
			pastry,
			coffeeLine("T-3", 1, "p-esp", "Espresso", 1),
		}},
	}}

	rep, err := newTestIngest(kds, pos, &recordingNotifier{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, rep.TicketsSkippedNoCoffee)
	assert.Equal(t, 1, rep.OrdersCreated)
	o := kds.orders[rep.CreatedOrderIDs[0]]
	assert.Equal(t, "T-3", o.TicketID)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "p-esp", o.Items[0].ProductID)
}

func TestIngestMalformedAttributesDoNotBlockSiblings(t *testing.T) {
	kds := newFakeKds()
	good := coffeeLine("T-4", 0, "p-1", "Latte", 1)
	good.Attributes = []byte(`<properties><entry key="milk">oat</entry><entry key="notes">extra hot</entry></properties>`)
	bad := coffeeLine("T-4", 1, "p-2", "Cortado", 1)
	bad.Attributes = []byte(`<properties><entry key="size">`)
	pos := &fakePos{tickets: []models.Ticket{{ID: "T-4", ReceiptDate: at(-time.Minute), Lines: []models.TicketLine{good, bad}}}}

	rep, err := newTestIngest(kds, pos, &recordingNotifier{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, rep.MalformedAttributes)
	o := kds.orders[rep.CreatedOrderIDs[0]]
	require.Len(t, o.Items, 2)
	assert.Equal(t, models.Modifiers{"milk": "oat"}, o.Items[0].Modifiers)
	require.NotNil(t, o.Items[0].Notes)
	assert.Equal(t, "extra hot", *o.Items[0].Notes)
	assert.Nil(t, o.Items[1].Modifiers)
}

func TestIngestFallbacks(t *testing.T) {
	kds := newFakeKds()
	line := coffeeLine("T-5", 0, "p-gone", "", 1)
	line.ProductDisplay = "<html>Flat<br>White"
	pos := &fakePos{tickets: []models.Ticket{{
		ID:       "T-5",
		Customer: &models.CustomerInfo{Name: "Ada", SearchKey: "ADA01"},
		Lines:    []models.TicketLine{line},
	}}}

	rep, err := newTestIngest(kds, pos, &recordingNotifier{}).Run(context.Background())
	require.NoError(t, err)

	o := kds.orders[rep.CreatedOrderIDs[0]]
	assert.True(t, o.OrderTime.Equal(testNow), "no receipt date falls back to now")
	assert.Equal(t, &models.CustomerInfo{Name: "Ada", SearchKey: "ADA01"}, o.CustomerInfo)
	assert.Equal(t, models.UnknownProduct, o.Items[0].ProductName)
	require.NotNil(t, o.Items[0].DisplayName)
	assert.Equal(t, "<html>Flat<br>White", o.Items[0].Label())
}

func TestIngestQueryBounds(t *testing.T) {
	tests := []struct {
		name      string
		lastOrder *time.Time
		lastClear *time.Time
		wantAfter time.Time
	}{
		{name: "no orders uses the lookback floor", wantAfter: testNow.Add(-2 * time.Hour)},
		{name: "last order", lastOrder: at(-30 * time.Minute), wantAfter: testNow.Add(-30 * time.Minute)},
		{name: "clear marker after last order", lastOrder: at(-30 * time.Minute), lastClear: at(-10 * time.Minute), wantAfter: testNow.Add(-10 * time.Minute)},
		{name: "old order is clamped", lastOrder: at(-5 * time.Hour), wantAfter: testNow.Add(-2 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kds := newFakeKds()
			if tt.lastOrder != nil {
				kds.add(models.Order{TicketID: "old", Status: models.StatusReady, OrderTime: *tt.lastOrder})
			}
			kds.lastClear = tt.lastClear
			pos := &fakePos{}

			rep, err := newTestIngest(kds, pos, &recordingNotifier{}).Run(context.Background())
			require.NoError(t, err)

			require.Len(t, pos.queries, 1)
			q := pos.queries[0]
			assert.True(t, tt.wantAfter.Equal(q.After), "after = %s", q.After)
			assert.True(t, testNow.Add(-2*time.Hour).Equal(q.NotBefore))
			assert.Equal(t, "081", q.Category)
			assert.Equal(t, 0, q.TicketType)
			assert.Equal(t, 51, q.Limit, "one row past the batch to detect a split instant")
			assert.True(t, tt.wantAfter.Equal(rep.Cutoff))
		})
	}
}

func TestIngestBatchLimitTakesOldestFirst(t *testing.T) {
	kds := newFakeKds()
	pos := &fakePos{}
	for i := 0; i < 60; i++ {
		id := fmt.Sprintf("T-%02d", i)
		pos.tickets = append(pos.tickets, models.Ticket{
			ID:          id,
			ReceiptDate: at(-time.Hour + time.Duration(i)*time.Second),
			Lines:       []models.TicketLine{coffeeLine(id, 0, "p", "Latte", 1)},
		})
	}

	rep, err := newTestIngest(kds, pos, &recordingNotifier{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50, rep.OrdersCreated)

	rep, err = newTestIngest(kds, pos, &recordingNotifier{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, rep.OrdersCreated, "the next cycle picks up the rest")
}

func TestIngestDoesNotSplitAReceiptInstant(t *testing.T) {
	kds := newFakeKds()
	ticket := func(id string, d time.Duration) models.Ticket {
		return models.Ticket{ID: id, ReceiptDate: at(d), Lines: []models.TicketLine{coffeeLine(id, 0, "p", "Latte", 1)}}
	}
	pos := &fakePos{tickets: []models.Ticket{
		ticket("T-1", -10*time.Minute),
		ticket("T-2", -5*time.Minute),
		ticket("T-3", -5*time.Minute),
		ticket("T-4", -5*time.Minute),
	}}
	svc := newTestIngest(kds, pos, &recordingNotifier{})
	svc.cfg.BatchLimit = 2

	rep, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.OrdersCreated)
	assert.Equal(t, 1, rep.TicketsDeferred)

	// the tied instant fills the whole batch, so it is taken as is
	rep, err = svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.OrdersCreated)
	assert.Equal(t, 0, rep.TicketsDeferred)

	tickets := map[string]bool{}
	for _, o := range kds.orders {
		tickets[o.TicketID] = true
	}
	assert.Equal(t, map[string]bool{"T-1": true, "T-2": true, "T-3": true}, tickets)
}

func TestHoldBackTiedTail(t *testing.T) {
	ticket := func(id string, d time.Duration) models.Ticket { return models.Ticket{ID: id, ReceiptDate: at(d)} }
	ids := func(ts []models.Ticket) []string {
		out := make([]string, len(ts))
		for i, tk := range ts {
			out[i] = tk.ID
		}
		return out
	}
	tests := []struct {
		name    string
		tickets []models.Ticket
		want    []string
	}{
		{name: "under the limit", tickets: []models.Ticket{ticket("a", -3), ticket("b", -2)}, want: []string{"a", "b"}},
		{name: "peek at a later instant", tickets: []models.Ticket{ticket("a", -3), ticket("b", -2), ticket("c", -1)}, want: []string{"a", "b"}},
		{name: "peek ties the last", tickets: []models.Ticket{ticket("a", -3), ticket("b", -2), ticket("c", -2)}, want: []string{"a"}},
		{name: "one instant throughout", tickets: []models.Ticket{ticket("a", -2), ticket("b", -2), ticket("c", -2)}, want: []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(holdBackTiedTail(tt.tickets, 2)))
		})
	}
}

func TestIngestRetentionSweep(t *testing.T) {
	kds := newFakeKds()
	expired := kds.add(models.Order{TicketID: "a", Status: models.StatusCompleted, OrderTime: *at(-26 * time.Hour), CompletedAt: at(-24*time.Hour - time.Second)})
	fresh := kds.add(models.Order{TicketID: "b", Status: models.StatusCompleted, OrderTime: *at(-25 * time.Hour), CompletedAt: at(-23 * time.Hour)})
	stale := kds.add(models.Order{TicketID: "c", Status: models.StatusReady, OrderTime: *at(-30 * time.Hour)})
	n := &recordingNotifier{}

	rep, err := newTestIngest(kds, &fakePos{}, n).Run(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 1, rep.OrdersPurged)
	assert.NotContains(t, kds.orders, expired)
	assert.Contains(t, kds.orders, fresh)
	assert.Contains(t, kds.orders, stale, "only completed orders are swept")
	assert.Equal(t, 1, n.refreshes)
}

func TestIngestErrors(t *testing.T) {
	t.Run("pos failure aborts", func(t *testing.T) {
		_, err := newTestIngest(newFakeKds(), &fakePos{err: errBoom}, &recordingNotifier{}).Run(context.Background())
		assert.ErrorIs(t, err, errBoom)
	})

	t.Run("insert failure aborts but keeps earlier orders", func(t *testing.T) {
		kds := newFakeKds()
		kds.createErr = errBoom
		pos := &fakePos{tickets: []models.Ticket{{ID: "T-1", ReceiptDate: at(-time.Minute), Lines: []models.TicketLine{coffeeLine("T-1", 0, "p", "Latte", 1)}}}}
		rep, err := newTestIngest(kds, pos, &recordingNotifier{}).Run(context.Background())
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 0, rep.OrdersCreated)
	})

	t.Run("bad clear marker is ignored", func(t *testing.T) {
		kds := newFakeKds()
		kds.lastClear = nil
		kds.clearErr = fmt.Errorf("%w: last_clear_time=%q", repository.ErrBadSetting, "soon")
		pos := &fakePos{}
		rep, err := newTestIngest(kds, pos, &recordingNotifier{}).Run(context.Background())
		require.NoError(t, err)
		assert.True(t, testNow.Add(-2*time.Hour).Equal(rep.Cutoff))
	})

	t.Run("notifier failure is not fatal", func(t *testing.T) {
		kds := newFakeKds()
		pos := &fakePos{tickets: []models.Ticket{{ID: "T-1", ReceiptDate: at(-time.Minute), Lines: []models.TicketLine{coffeeLine("T-1", 0, "p", "Latte", 1)}}}}
		rep, err := newTestIngest(kds, pos, &recordingNotifier{err: errBoom}).Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, rep.OrdersCreated)
	})
}

func TestResetCutoffAndInfo(t *testing.T) {
	kds := newFakeKds()
	kds.lastClear = at(-10 * time.Minute)
	svc := newTestIngest(kds, &fakePos{}, &recordingNotifier{})

	info, err := svc.CutoffInfo(context.Background())
	require.NoError(t, err)
	assert.True(t, info.Cutoff.Equal(*at(-10 * time.Minute)))

	require.NoError(t, svc.ResetCutoff(context.Background()))
	assert.Nil(t, kds.lastClear)

	info, err = svc.CutoffInfo(context.Background())
	require.NoError(t, err)
	assert.True(t, info.Cutoff.Equal(info.Floor))
}
