package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Currency is an ISO 4217 currency code
type Currency string

const (
	CurrencyEUR Currency = "EUR"
	CurrencyUSD Currency = "USD"
	CurrencyDKK Currency = "DKK"
	CurrencySEK Currency = "SEK"
	CurrencyGBP Currency = "GBP"
)

// Currencies lists every supported currency
var Currencies = []Currency{CurrencyEUR, CurrencyUSD, CurrencyDKK, CurrencySEK, CurrencyGBP}

// Valid reports whether c is a supported currency
func (c Currency) Valid() bool {
	for _, known := range Currencies {
		if c == known {
			return true
		}
	}
	return false
}

// Money is an amount in minor units tagged with its currency
type Money struct {
	AmountCents int64    `json:"amount_cents"`
	Currency    Currency `json:"currency"`
}

func (m Money) String() string {
	return fmt.Sprintf("%d.%02d %s", m.AmountCents/100, abs(m.AmountCents%100), m.Currency)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// InvoiceStatus represents the persisted status of an invoice
type InvoiceStatus string

const (
	InvoiceStatusPending InvoiceStatus = "PENDING"
	InvoiceStatusPaid    InvoiceStatus = "PAID"
	InvoiceStatusError   InvoiceStatus = "ERROR"
)

// ErrInvalidStatus is returned when parsing an unknown invoice status
var ErrInvalidStatus = errors.New("invalid invoice status")

// Valid reports whether s is one of the known statuses
func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusPending, InvoiceStatusPaid, InvoiceStatusError:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition happens from s
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusError
}

// ParseInvoiceStatus parses a status case-insensitively
func ParseInvoiceStatus(value string) (InvoiceStatus, error) {
	status := InvoiceStatus(strings.ToUpper(strings.TrimSpace(value)))
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, value)
	}
	return status, nil
}

// Invoice is the subset of an invoice the billing engine reads.
// The engine only ever changes Status, and only through the store.
type Invoice struct {
	ID         int64         `json:"id"`
	CustomerID int64         `json:"customer_id"`
	Amount     Money         `json:"amount"`
	Status     InvoiceStatus `json:"status"`
}

// Customer owns invoices. The engine never reads customers; the store uses
// them for seeding and referential integrity.
type Customer struct {
	ID       int64    `json:"id"`
	Currency Currency `json:"currency"`
}

// ChargeState is the in-memory state of an invoice while it is being charged
type ChargeState string

const (
	ChargeStatePending  ChargeState = "PENDING"
	ChargeStateCharging ChargeState = "CHARGING"
	ChargeStatePaid     ChargeState = "PAID"
	ChargeStateError    ChargeState = "ERROR"
)

// PaymentProvider charges invoices against an external payment gateway.
//
// Charge returns true when the customer was charged and false when the
// gateway declined. Failures are reported as *ChargeError values carrying a
// FailureKind; any other error is treated as unclassified.
type PaymentProvider interface {
	Charge(ctx context.Context, invoice *Invoice) (bool, error)
}

// PaymentProviderFunc adapts a function to PaymentProvider
type PaymentProviderFunc func(ctx context.Context, invoice *Invoice) (bool, error)

// Charge calls f
func (f PaymentProviderFunc) Charge(ctx context.Context, invoice *Invoice) (bool, error) {
	return f(ctx, invoice)
}

// InvoiceStore persists invoices. UpdateInvoiceStatus must be atomic for a
// single invoice and must return an error rather than silently doing nothing.
type InvoiceStore interface {
	FetchInvoices(ctx context.Context) ([]*Invoice, error)
	UpdateInvoiceStatus(ctx context.Context, id int64, status InvoiceStatus) error
	ResetInvoiceStatuses(ctx context.Context) (int64, error)
}

// CycleReport summarises one billing cycle.
//
// Failed counts invoices moved to ERROR for a classified failure (customer not
// found, currency mismatch, retries exhausted). Unresolved counts invoices the
// cycle could not resolve: an unclassified provider failure, a store error or
// cancellation. Their errors are joined in Err.
type CycleReport struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Fetched    int       `json:"fetched"`
	Pending    int       `json:"pending"`
	Paid       int       `json:"paid"`
	Declined   int       `json:"declined"`
	Failed     int       `json:"failed"`
	Unresolved int       `json:"unresolved"`
	Err        error     `json:"-"`
}

// Duration returns how long the cycle took
func (r *CycleReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Resolved returns how many pending invoices reached a terminal status
func (r *CycleReport) Resolved() int {
	return r.Paid + r.Declined + r.Failed
}
