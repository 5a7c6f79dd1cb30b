package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Order is one kitchen ticket on the coffee display (kds_orders).
type Order struct {
	ID           int64         `json:"id"`
	TicketID     string        `json:"ticket_id"`     // TICKETS.ID in the POS
	TicketNumber int           `json:"ticket_number"` // display number
	Person       string        `json:"person,omitempty"`
	Status       Status        `json:"status"`
	OrderTime    time.Time     `json:"order_time"`
	ViewedAt     *time.Time    `json:"viewed_at,omitempty"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	ReadyAt      *time.Time    `json:"ready_at,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	PrepTime     *int          `json:"prep_time,omitempty"` // seconds between started and ready
	CustomerInfo *CustomerInfo `json:"customer_info,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Items        []OrderItem   `json:"items,omitempty"`
}

// OrderItem is an immutable coffee line of an Order (kds_order_items).
type OrderItem struct {
	ID          int64     `json:"id"`
	OrderID     int64     `json:"kds_order_id"`
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name"`
	DisplayName *string   `json:"display_name,omitempty"`
	Quantity    float64   `json:"quantity"`
	Modifiers   Modifiers `json:"modifiers,omitempty"`
	Notes       *string   `json:"notes,omitempty"`
}

// Modifiers are the flattened key/value customisations of a line (size, milk...).
type Modifiers map[string]string

type CustomerInfo struct {
	Name      string `json:"name"`
	SearchKey string `json:"searchkey"`
}

// OrderEvent is one accepted status change (kds_order_events).
type OrderEvent struct {
	OrderID    int64     `json:"order_id"`
	FromStatus Status    `json:"from_status"`
	ToStatus   Status    `json:"to_status"`
	ChangedBy  string    `json:"changed_by"`
	ChangedAt  time.Time `json:"changed_at"`
}

// ProductMetadata classifies POS products for grouped display.
type ProductMetadata struct {
	ProductID    string `json:"product_id"`
	Type         string `json:"type"` // coffee | option
	ShortName    string `json:"short_name"`
	GroupName    string `json:"group_name"`
	DisplayOrder int    `json:"display_order"`
}

const (
	MetadataCoffee = "coffee"
	MetadataOption = "option"

	UnknownProduct = "Unknown Product"
)

// Label is what the display shows for an item.
func (i OrderItem) Label() string {
	if i.DisplayName != nil && strings.TrimSpace(*i.DisplayName) != "" {
		return *i.DisplayName
	}
	return i.ProductName
}

// FormattedQuantity drops the fraction for whole quantities and keeps three
// decimals otherwise: 2 -> "2", 0.5 -> "0.500".
func (i OrderItem) FormattedQuantity() string {
	return FormatQuantity(i.Quantity)
}

func FormatQuantity(q float64) string {
	if q == float64(int64(q)) {
		return strconv.FormatInt(int64(q), 10)
	}
	return strconv.FormatFloat(q, 'f', 3, 64)
}

// WaitingTime is measured from order time to completion, readiness, or now.
func (o Order) WaitingTime(now time.Time) time.Duration {
	if o.OrderTime.IsZero() {
		return 0
	}
	end := now
	switch {
	case o.CompletedAt != nil:
		end = *o.CompletedAt
	case o.ReadyAt != nil:
		end = *o.ReadyAt
	}
	if end.Before(o.OrderTime) {
		return 0
	}
	return end.Sub(o.OrderTime).Truncate(time.Second)
}

// FormatWaiting renders a duration as m:ss.
func FormatWaiting(d time.Duration) string {
	secs := int(d / time.Second)
	if secs <= 0 {
		return "0:00"
	}
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
