package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"coffee-kds/internal/microservices/kds/models"
)

// PosRepositoryInterface is the read-only view of the uniCenta tables.
type PosRepositoryInterface interface {
	FindCoffeeTickets(ctx context.Context, q models.TicketQuery) ([]models.Ticket, error)
}

type PosRepository struct {
	db *sql.DB
}

func NewPosRepository(db *sql.DB) *PosRepository {
	return &PosRepository{db: db}
}

// FindCoffeeTickets returns sales of q.TicketType with a receipt after both
// bounds that contain at least one line in q.Category, oldest first (ties by
// ticket id). Every
// line of each ticket is loaded; category filtering of lines is left to the
// caller.
func (r *PosRepository) FindCoffeeTickets(ctx context.Context, q models.TicketQuery) ([]models.Ticket, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.ID, COALESCE(t.TICKETID, 0), t.TICKETTYPE, COALESCE(t.PERSON, ''), r.DATENEW,
		       c.ID, c.NAME, c.SEARCHKEY
		FROM TICKETS t
		JOIN RECEIPTS r ON r.ID = t.ID
		LEFT JOIN CUSTOMERS c ON c.ID = t.CUSTOMER
		WHERE t.TICKETTYPE = ?
		  AND r.DATENEW > ?
		  AND r.DATENEW > ?
		  AND EXISTS (
		      SELECT 1 FROM TICKETLINES tl
		      JOIN PRODUCTS p ON p.ID = tl.PRODUCT
		      WHERE tl.TICKET = t.ID AND p.CATEGORY = ?
		  )
		ORDER BY r.DATENEW ASC, t.ID ASC
		LIMIT ?
	`, q.TicketType, q.After, q.NotBefore, q.Category, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("query pos tickets: %w", err)
	}
	defer rows.Close()

	var (
		tickets []models.Ticket
		ids     []string
	)
	for rows.Next() {
		var (
			t                    models.Ticket
			dateNew              sql.NullTime
			custID, name, search sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.TicketNumber, &t.TicketType, &t.Person, &dateNew, &custID, &name, &search); err != nil {
			return nil, fmt.Errorf("scan pos ticket: %w", err)
		}
		if dateNew.Valid {
			d := dateNew.Time
			t.ReceiptDate = &d
		}
		if custID.Valid {
			t.Customer = &models.CustomerInfo{Name: name.String, SearchKey: search.String}
		}
		tickets = append(tickets, t)
		ids = append(ids, t.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return tickets, nil
	}

	lines, err := r.linesFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range tickets {
		tickets[i].Lines = lines[tickets[i].ID]
	}
	return tickets, nil
}

func (r *PosRepository) linesFor(ctx context.Context, ticketIDs []string) (map[string][]models.TicketLine, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ticketIDs)), ",")
	args := make([]any, len(ticketIDs))
	for i, id := range ticketIDs {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT tl.TICKET, tl.LINE, COALESCE(tl.PRODUCT, ''), tl.UNITS, tl.ATTRIBUTES,
		       COALESCE(p.NAME, ''), COALESCE(p.DISPLAY, ''), COALESCE(p.CATEGORY, '')
		FROM TICKETLINES tl
		LEFT JOIN PRODUCTS p ON p.ID = tl.PRODUCT
		WHERE tl.TICKET IN (`+placeholders+`)
		ORDER BY tl.TICKET, tl.LINE
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query pos ticket lines: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]models.TicketLine, len(ticketIDs))
	for rows.Next() {
		var l models.TicketLine
		if err := rows.Scan(&l.TicketID, &l.Line, &l.ProductID, &l.Units, &l.Attributes,
			&l.ProductName, &l.ProductDisplay, &l.Category); err != nil {
			return nil, fmt.Errorf("scan pos ticket line: %w", err)
		}
		out[l.TicketID] = append(out[l.TicketID], l)
	}
	return out, rows.Err()
}
