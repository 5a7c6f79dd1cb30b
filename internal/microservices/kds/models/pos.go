package models

import "time"

// Ticket is a read-only POS sale (TICKETS joined with RECEIPTS and CUSTOMERS).
type Ticket struct {
	ID           string
	TicketNumber int
	TicketType   int
	Person       string
	ReceiptDate  *time.Time
	Customer     *CustomerInfo
	Lines        []TicketLine
}

// TicketLine is a TICKETLINES row joined with its PRODUCTS row. Product
// fields are empty when the product no longer exists.
type TicketLine struct {
	TicketID       string
	Line           int
	ProductID      string
	Units          float64
	Attributes     []byte
	ProductName    string
	ProductDisplay string
	Category       string
}

// TicketQuery bounds one ingestion read from the POS.
type TicketQuery struct {
	After      time.Time // receipt date strictly after the cutoff
	NotBefore  time.Time // receipt date strictly after the hard lookback bound
	TicketType int
	Category   string
	Limit      int
}
