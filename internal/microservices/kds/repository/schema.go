package repository

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS kds_orders (
		id                BIGSERIAL PRIMARY KEY,
		ticket_id         TEXT NOT NULL,
		ticket_number     INTEGER NOT NULL DEFAULT 0,
		person            TEXT,
		status            TEXT NOT NULL DEFAULT 'new'
		                  CHECK (status IN ('new','viewed','preparing','ready','completed','cancelled')),
		order_time        TIMESTAMPTZ NOT NULL,
		viewed_at         TIMESTAMPTZ,
		started_at        TIMESTAMPTZ,
		ready_at          TIMESTAMPTZ,
		completed_at      TIMESTAMPTZ,
		prep_time_seconds INTEGER,
		customer_info     JSONB,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS kds_orders_ticket_id_key ON kds_orders (ticket_id)`,
	`CREATE INDEX IF NOT EXISTS kds_orders_status_order_time_idx ON kds_orders (status, order_time)`,
	`CREATE TABLE IF NOT EXISTS kds_order_items (
		id           BIGSERIAL PRIMARY KEY,
		kds_order_id BIGINT NOT NULL REFERENCES kds_orders(id) ON DELETE CASCADE,
		product_id   TEXT NOT NULL,
		product_name TEXT NOT NULL,
		display_name TEXT,
		quantity     NUMERIC(8,3) NOT NULL,
		modifiers    JSONB,
		notes        TEXT,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS kds_order_items_order_idx ON kds_order_items (kds_order_id)`,
	`CREATE TABLE IF NOT EXISTS kds_order_events (
		id          BIGSERIAL PRIMARY KEY,
		order_id    BIGINT NOT NULL REFERENCES kds_orders(id) ON DELETE CASCADE,
		from_status TEXT NOT NULL,
		to_status   TEXT NOT NULL,
		changed_by  TEXT NOT NULL DEFAULT '',
		changed_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS kds_order_events_order_idx ON kds_order_events (order_id, changed_at)`,
	`CREATE TABLE IF NOT EXISTS kds_settings (
		key        TEXT PRIMARY KEY,
		value      TEXT,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS coffee_product_metadata (
		product_id    TEXT PRIMARY KEY,
		type          TEXT NOT NULL CHECK (type IN ('coffee','option')),
		short_name    TEXT NOT NULL,
		group_name    TEXT,
		display_order INTEGER NOT NULL DEFAULT 0,
		is_active     BOOLEAN NOT NULL DEFAULT TRUE
	)`,
}

// InitSchema creates the KDS tables if they don't exist.
func (r *KdsRepository) InitSchema(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
