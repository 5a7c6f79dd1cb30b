package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coffee-kds/internal/microservices/kds/models"
)

var (
	ErrOrderNotFound = errors.New("kds order not found")
	ErrBadSetting    = errors.New("malformed kds setting")
)

const settingLastClearTime = "last_clear_time"

type KdsRepositoryInterface interface {
	InitSchema(ctx context.Context) error

	// Cutoff inputs
	LastOrderTime(ctx context.Context) (*time.Time, error)
	LastClearTime(ctx context.Context) (*time.Time, error)
	SetLastClearTime(ctx context.Context, t *time.Time) error

	// Ingestion
	ExistingTicketIDs(ctx context.Context, ticketIDs []string) (map[string]struct{}, error)
	CreateOrderTx(ctx context.Context, order models.Order) (stored models.Order, created bool, err error)
	PurgeCompleted(ctx context.Context, before time.Time) (int64, error)

	// Display
	ListActive(ctx context.Context) ([]models.Order, error)
	GetOrder(ctx context.Context, id int64) (models.Order, error)
	UpdateStatusTx(ctx context.Context, id int64, to models.Status, changedBy string, now time.Time) (order models.Order, from models.Status, changed bool, err error)
	Timeline(ctx context.Context, id int64) ([]models.OrderEvent, error)
	ProductMetadata(ctx context.Context, productIDs []string) (map[string]models.ProductMetadata, error)

	// Staff clear actions
	ClearFinished(ctx context.Context, before time.Time) (int64, error)
	ClearAllTx(ctx context.Context, now time.Time) (int64, error)

	Stats(ctx context.Context) (Stats, error)
}

// Stats is a snapshot for the diagnose command.
type Stats struct {
	ByStatus      map[models.Status]int
	LastOrderTime *time.Time
	LastCreatedAt *time.Time
}

type KdsRepository struct {
	db *pgxpool.Pool
}

func NewKdsRepository(db *pgxpool.Pool) *KdsRepository {
	return &KdsRepository{db: db}
}

func (r *KdsRepository) LastOrderTime(ctx context.Context) (*time.Time, error) {
	var t *time.Time
	if err := r.db.QueryRow(ctx, `SELECT max(order_time) FROM kds_orders`).Scan(&t); err != nil {
		return nil, fmt.Errorf("last order time: %w", err)
	}
	return t, nil
}

func (r *KdsRepository) LastClearTime(ctx context.Context) (*time.Time, error) {
	var v *string
	err := r.db.QueryRow(ctx, `SELECT value FROM kds_settings WHERE key=$1`, settingLastClearTime).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last clear time: %w", err)
	}
	if v == nil || *v == "" {
		return nil, nil
	}
	t, err := parseSettingTime(*v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s=%q", ErrBadSetting, settingLastClearTime, *v)
	}
	return &t, nil
}

// SetLastClearTime stores the marker; nil clears it.
func (r *KdsRepository) SetLastClearTime(ctx context.Context, t *time.Time) error {
	var v *string
	if t != nil {
		s := t.UTC().Format(time.RFC3339Nano)
		v = &s
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO kds_settings (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, settingLastClearTime, v)
	return err
}

func (r *KdsRepository) ExistingTicketIDs(ctx context.Context, ticketIDs []string) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(ticketIDs))
	if len(ticketIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `SELECT ticket_id FROM kds_orders WHERE ticket_id = ANY($1)`, ticketIDs)
	if err != nil {
		return nil, fmt.Errorf("existing ticket ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// CreateOrderTx inserts the order and its items in one transaction and returns
// it with the generated order and item ids. A ticket that already has an order
// is left alone and reported with created == false.
func (r *KdsRepository) CreateOrderTx(ctx context.Context, order models.Order) (models.Order, bool, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Order{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	customer, err := marshalNullable(order.CustomerInfo)
	if err != nil {
		return models.Order{}, false, fmt.Errorf("encode customer info: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO kds_orders (ticket_id, ticket_number, person, status, order_time, customer_info, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (ticket_id) DO NOTHING
		RETURNING id
	`, order.TicketID, order.TicketNumber, nullIfEmpty(order.Person), string(order.Status), order.OrderTime, customer).Scan(&order.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Order{}, false, nil
	}
	if err != nil {
		return models.Order{}, false, fmt.Errorf("insert kds order for ticket %s: %w", order.TicketID, err)
	}

	items := make([]models.OrderItem, len(order.Items))
	for i, item := range order.Items {
		var mods []byte
		if item.Modifiers != nil {
			if mods, err = json.Marshal(item.Modifiers); err != nil {
				return models.Order{}, false, fmt.Errorf("encode modifiers: %w", err)
			}
		}
		item.OrderID = order.ID
		if err := tx.QueryRow(ctx, `
			INSERT INTO kds_order_items (kds_order_id, product_id, product_name, display_name, quantity, modifiers, notes, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			RETURNING id
		`, order.ID, item.ProductID, item.ProductName, item.DisplayName, item.Quantity, mods, item.Notes).Scan(&item.ID); err != nil {
			return models.Order{}, false, fmt.Errorf("insert kds item %s: %w", item.ProductID, err)
		}
		items[i] = item
	}
	order.Items = items

	if err := tx.Commit(ctx); err != nil {
		return models.Order{}, false, err
	}
	return order, true, nil
}

func (r *KdsRepository) PurgeCompleted(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM kds_orders WHERE status = 'completed' AND completed_at < $1
	`, before)
	if err != nil {
		return 0, fmt.Errorf("purge completed: %w", err)
	}
	return tag.RowsAffected(), nil
}

const orderColumns = `id, ticket_id, ticket_number, COALESCE(person, ''), status, order_time,
	viewed_at, started_at, ready_at, completed_at, prep_time_seconds, customer_info, created_at, updated_at`

func scanOrder(row pgx.Row) (models.Order, error) {
	var (
		o        models.Order
		status   string
		customer []byte
	)
	err := row.Scan(&o.ID, &o.TicketID, &o.TicketNumber, &o.Person, &status, &o.OrderTime,
		&o.ViewedAt, &o.StartedAt, &o.ReadyAt, &o.CompletedAt, &o.PrepTime, &customer, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return models.Order{}, err
	}
	o.Status = models.Status(status)
	if len(customer) > 0 {
		var ci models.CustomerInfo
		if err := json.Unmarshal(customer, &ci); err == nil {
			o.CustomerInfo = &ci
		}
	}
	return o, nil
}

func (r *KdsRepository) ListActive(ctx context.Context) ([]models.Order, error) {
	statuses := make([]string, 0, len(models.ActiveStatuses))
	for _, s := range models.ActiveStatuses {
		statuses = append(statuses, string(s))
	}

	rows, err := r.db.Query(ctx, `SELECT `+orderColumns+`
		FROM kds_orders WHERE status = ANY($1) ORDER BY order_time ASC, id ASC`, statuses)
	if err != nil {
		return nil, fmt.Errorf("list active orders: %w", err)
	}
	defer rows.Close()

	var (
		orders []models.Order
		ids    []int64
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items, err := r.itemsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func (r *KdsRepository) GetOrder(ctx context.Context, id int64) (models.Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM kds_orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Order{}, ErrOrderNotFound
	}
	if err != nil {
		return models.Order{}, err
	}
	items, err := r.itemsFor(ctx, []int64{id})
	if err != nil {
		return models.Order{}, err
	}
	o.Items = items[id]
	return o, nil
}

func (r *KdsRepository) itemsFor(ctx context.Context, orderIDs []int64) (map[int64][]models.OrderItem, error) {
	out := make(map[int64][]models.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, kds_order_id, product_id, product_name, display_name, quantity::float8, modifiers, notes
		FROM kds_order_items WHERE kds_order_id = ANY($1)
		ORDER BY kds_order_id, id
	`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it   models.OrderItem
			mods []byte
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.DisplayName, &it.Quantity, &mods, &it.Notes); err != nil {
			return nil, err
		}
		if len(mods) > 0 {
			_ = json.Unmarshal(mods, &it.Modifiers)
		}
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, rows.Err()
}

// UpdateStatusTx locks the order row, applies the transition and logs it.
// from is the status read under the row lock, the same value written to the
// event log. changed == false means the order already had the requested status.
func (r *KdsRepository) UpdateStatusTx(ctx context.Context, id int64, to models.Status, changedBy string, now time.Time) (models.Order, models.Status, bool, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Order{}, "", false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM kds_orders WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Order{}, "", false, ErrOrderNotFound
	}
	if err != nil {
		return models.Order{}, "", false, err
	}

	from := o.Status
	changed, err := o.Apply(to, now)
	if err != nil {
		return o, from, false, err
	}
	if !changed {
		return o, from, false, tx.Commit(ctx) // ничего не меняем
	}

	if _, err := tx.Exec(ctx, `
		UPDATE kds_orders
		SET status=$2, viewed_at=$3, started_at=$4, ready_at=$5, completed_at=$6, prep_time_seconds=$7, updated_at=$8
		WHERE id=$1
	`, id, string(o.Status), o.ViewedAt, o.StartedAt, o.ReadyAt, o.CompletedAt, o.PrepTime, now); err != nil {
		return models.Order{}, "", false, fmt.Errorf("update kds order %d: %w", id, err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO kds_order_events (order_id, from_status, to_status, changed_by, changed_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id, string(from), string(o.Status), changedBy, now); err != nil {
		return models.Order{}, "", false, fmt.Errorf("log kds order %d: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Order{}, "", false, err
	}
	return o, from, true, nil
}

func (r *KdsRepository) Timeline(ctx context.Context, id int64) ([]models.OrderEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT order_id, from_status, to_status, changed_by, changed_at
		FROM kds_order_events WHERE order_id=$1
		ORDER BY changed_at ASC, id ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.OrderEvent, 0)
	for rows.Next() {
		var (
			e        models.OrderEvent
			from, to string
		)
		if err := rows.Scan(&e.OrderID, &from, &to, &e.ChangedBy, &e.ChangedAt); err != nil {
			return nil, err
		}
		e.FromStatus, e.ToStatus = models.Status(from), models.Status(to)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *KdsRepository) ProductMetadata(ctx context.Context, productIDs []string) (map[string]models.ProductMetadata, error) {
	out := make(map[string]models.ProductMetadata, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT product_id, type, short_name, COALESCE(group_name, ''), display_order
		FROM coffee_product_metadata
		WHERE is_active AND product_id = ANY($1)
	`, productIDs)
	if err != nil {
		return nil, fmt.Errorf("product metadata: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m models.ProductMetadata
		if err := rows.Scan(&m.ProductID, &m.Type, &m.ShortName, &m.GroupName, &m.DisplayOrder); err != nil {
			return nil, err
		}
		out[m.ProductID] = m
	}
	return out, rows.Err()
}

// ClearFinished removes completed and cancelled orders that finished, or were
// last touched, before the given instant.
func (r *KdsRepository) ClearFinished(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM kds_orders
		WHERE status IN ('completed', 'cancelled')
		  AND (completed_at < $1 OR updated_at < $1)
	`, before)
	if err != nil {
		return 0, fmt.Errorf("clear finished: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ClearAllTx deletes every order and moves the clear marker to now, so the
// next ingestion cycle does not re-import what was just cleared.
func (r *KdsRepository) ClearAllTx(ctx context.Context, now time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM kds_orders`)
	if err != nil {
		return 0, fmt.Errorf("clear all: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO kds_settings (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, settingLastClearTime, now.UTC().Format(time.RFC3339Nano)); err != nil {
		return 0, fmt.Errorf("set clear marker: %w", err)
	}
	return tag.RowsAffected(), tx.Commit(ctx)
}

func (r *KdsRepository) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByStatus: map[models.Status]int{}}
	rows, err := r.db.Query(ctx, `SELECT status, count(*) FROM kds_orders GROUP BY status`)
	if err != nil {
		return st, err
	}
	for rows.Next() {
		var (
			s string
			n int
		)
		if err := rows.Scan(&s, &n); err != nil {
			rows.Close()
			return st, err
		}
		st.ByStatus[models.Status(s)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, err
	}

	err = r.db.QueryRow(ctx, `SELECT max(order_time), max(created_at) FROM kds_orders`).
		Scan(&st.LastOrderTime, &st.LastCreatedAt)
	return st, err
}

var settingTimeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}

func parseSettingTime(v string) (time.Time, error) {
	var err error
	for _, layout := range settingTimeLayouts {
		var t time.Time
		if t, err = time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

func marshalNullable(v *models.CustomerInfo) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
