package models

import "time"

// OrderView is the display/broadcast shape of an order.
type OrderView struct {
	ID                int64         `json:"id"`
	TicketNumber      int           `json:"ticket_number"`
	Status            Status        `json:"status"`
	OrderTime         string        `json:"order_time"` // 15:04:05
	OrderedAt         time.Time     `json:"ordered_at"`
	WaitingSeconds    int           `json:"waiting_seconds"`
	WaitingTime       string        `json:"waiting_time"` // m:ss
	Items             []ItemView    `json:"items"`
	CustomerInfo      *CustomerInfo `json:"customer_info"`
	CompactDisplay    []string      `json:"compact_display,omitempty"`
	UseCompactDisplay bool          `json:"use_compact_display"`
}

type ItemView struct {
	ID          int64     `json:"id"`
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name"`
	Quantity    string    `json:"quantity"`
	Modifiers   Modifiers `json:"modifiers"`
	Notes       *string   `json:"notes"`
}

// NewOrderView renders o as of now. Item labels go through clean so markup
// stored in POS display names never reaches the client.
func NewOrderView(o Order, now time.Time, clean func(string) string) OrderView {
	wait := o.WaitingTime(now)
	v := OrderView{
		ID:             o.ID,
		TicketNumber:   o.TicketNumber,
		Status:         o.Status,
		OrderTime:      o.OrderTime.Local().Format("15:04:05"),
		OrderedAt:      o.OrderTime,
		WaitingSeconds: int(wait / time.Second),
		WaitingTime:    FormatWaiting(wait),
		Items:          make([]ItemView, 0, len(o.Items)),
		CustomerInfo:   o.CustomerInfo,
	}
	for _, it := range o.Items {
		name := it.Label()
		if clean != nil {
			name = clean(name)
		}
		v.Items = append(v.Items, ItemView{
			ID:          it.ID,
			ProductID:   it.ProductID,
			ProductName: name,
			Quantity:    it.FormattedQuantity(),
			Modifiers:   it.Modifiers,
			Notes:       it.Notes,
		})
	}
	return v
}
