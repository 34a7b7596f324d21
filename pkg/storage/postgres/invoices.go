package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kri5t/antaeus/pkg/billing"
	"github.com/kri5t/antaeus/pkg/observability"
	"github.com/kri5t/antaeus/pkg/storage"
)

// Placeholders are numbered and appear in order in every query, which both
// lib/pq and go-sqlite3 bind positionally.

var schema = map[string][]string{
	storage.DriverPostgres: {
		`CREATE TABLE IF NOT EXISTS customers (
			id BIGSERIAL PRIMARY KEY,
			currency VARCHAR(3) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS invoices (
			id BIGSERIAL PRIMARY KEY,
			customer_id BIGINT NOT NULL REFERENCES customers(id),
			amount_cents BIGINT NOT NULL,
			currency VARCHAR(3) NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'PENDING'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_invoices_status ON invoices(status)`,
	},
	storage.DriverSQLite: {
		`CREATE TABLE IF NOT EXISTS customers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			currency TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS invoices (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			customer_id INTEGER NOT NULL REFERENCES customers(id),
			amount_cents INTEGER NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'PENDING'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_invoices_status ON invoices(status)`,
	},
}

// InvoiceStore persists customers and invoices and implements billing.InvoiceStore
type InvoiceStore struct {
	db      *sql.DB
	driver  string
	metrics *observability.Metrics
	logger  logrus.FieldLogger
}

// NewInvoiceStore creates an InvoiceStore over db. metrics may be nil.
func NewInvoiceStore(db *sql.DB, driver string, metrics *observability.Metrics, logger logrus.FieldLogger) *InvoiceStore {
	return &InvoiceStore{
		db:      db,
		driver:  driver,
		metrics: metrics,
		logger:  logger.WithField("component", "invoice_store"),
	}
}

func (s *InvoiceStore) observe(operation string, start time.Time, err error) {
	s.metrics.RecordStorageOperation(operation, time.Since(start), err)
}

// Migrate creates the schema if it does not exist
func (s *InvoiceStore) Migrate(ctx context.Context) (err error) {
	defer func(start time.Time) { s.observe("migrate", start, err) }(time.Now())

	statements, ok := schema[s.driver]
	if !ok {
		return fmt.Errorf("no schema for driver %q", s.driver)
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}

// FetchInvoices returns every invoice ordered by id
func (s *InvoiceStore) FetchInvoices(ctx context.Context) (invoices []*billing.Invoice, err error) {
	defer func(start time.Time) { s.observe("fetch_invoices", start, err) }(time.Now())

	query := `
		SELECT id, customer_id, amount_cents, currency, status
		FROM invoices
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, invoice)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invoices: %w", err)
	}

	return invoices, nil
}

// FetchInvoice returns one invoice
func (s *InvoiceStore) FetchInvoice(ctx context.Context, id int64) (invoice *billing.Invoice, err error) {
	defer func(start time.Time) { s.observe("fetch_invoice", start, err) }(time.Now())

	query := `
		SELECT id, customer_id, amount_cents, currency, status
		FROM invoices
		WHERE id = $1
	`

	invoice, err = scanInvoice(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", storage.ErrInvoiceNotFound, id)
	}
	return invoice, err
}

// UpdateInvoiceStatus sets the status of a single invoice
func (s *InvoiceStore) UpdateInvoiceStatus(ctx context.Context, id int64, status billing.InvoiceStatus) (err error) {
	defer func(start time.Time) { s.observe("update_status", start, err) }(time.Now())

	if !status.Valid() {
		return fmt.Errorf("%w: %q", billing.ErrInvalidStatus, status)
	}

	query := `UPDATE invoices SET status = $1 WHERE id = $2`
	result, err := s.db.ExecContext(ctx, query, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update invoice %d: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %d", storage.ErrInvoiceNotFound, id)
	}
	return nil
}

// ResetInvoiceStatuses moves every invoice back to PENDING
func (s *InvoiceStore) ResetInvoiceStatuses(ctx context.Context) (n int64, err error) {
	defer func(start time.Time) { s.observe("reset_statuses", start, err) }(time.Now())

	query := `UPDATE invoices SET status = $1`
	result, err := s.db.ExecContext(ctx, query, string(billing.InvoiceStatusPending))
	if err != nil {
		return 0, fmt.Errorf("failed to reset invoices: %w", err)
	}

	n, err = result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}

// CreateCustomer inserts a customer and returns it with its id
func (s *InvoiceStore) CreateCustomer(ctx context.Context, currency billing.Currency) (customer *billing.Customer, err error) {
	defer func(start time.Time) { s.observe("create_customer", start, err) }(time.Now())

	if !currency.Valid() {
		return nil, fmt.Errorf("unsupported currency %q", currency)
	}

	customer = &billing.Customer{Currency: currency}
	query := `INSERT INTO customers (currency) VALUES ($1) RETURNING id`
	if err := s.db.QueryRowContext(ctx, query, string(currency)).Scan(&customer.ID); err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}
	return customer, nil
}

// FetchCustomer returns one customer
func (s *InvoiceStore) FetchCustomer(ctx context.Context, id int64) (customer *billing.Customer, err error) {
	defer func(start time.Time) { s.observe("fetch_customer", start, err) }(time.Now())

	var currency string
	query := `SELECT id, currency FROM customers WHERE id = $1`
	customer = &billing.Customer{}
	err = s.db.QueryRowContext(ctx, query, id).Scan(&customer.ID, &currency)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", storage.ErrCustomerNotFound, id)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	customer.Currency = billing.Currency(currency)
	return customer, nil
}

// CreateInvoice inserts an invoice for customerID and returns it with its id
func (s *InvoiceStore) CreateInvoice(ctx context.Context, amount billing.Money, customerID int64, status billing.InvoiceStatus) (invoice *billing.Invoice, err error) {
	defer func(start time.Time) { s.observe("create_invoice", start, err) }(time.Now())

	invoice, err = insertInvoice(ctx, s.db, amount, customerID, status)
	return invoice, err
}

// SeedInitialData fills an empty database with 100 customers holding ten
// invoices each. Every customer's last invoice is PENDING, the rest PAID.
// A database that already holds customers is left untouched.
func (s *InvoiceStore) SeedInitialData(ctx context.Context, rng *rand.Rand) (err error) {
	defer func(start time.Time) { s.observe("seed", start, err) }(time.Now())

	var existing int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM customers`).Scan(&existing); err != nil {
		return fmt.Errorf("failed to count customers: %w", err)
	}
	if existing > 0 {
		s.logger.WithField("customers", existing).Info("Database already seeded")
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer tx.Rollback()

	for c := 0; c < seedCustomers; c++ {
		currency := billing.Currencies[rng.Intn(len(billing.Currencies))]

		var customerID int64
		query := `INSERT INTO customers (currency) VALUES ($1) RETURNING id`
		if err := tx.QueryRowContext(ctx, query, string(currency)).Scan(&customerID); err != nil {
			return fmt.Errorf("failed to seed customer: %w", err)
		}

		for i := 0; i < seedInvoicesPerCustomer; i++ {
			status := billing.InvoiceStatusPaid
			if i == seedInvoicesPerCustomer-1 {
				status = billing.InvoiceStatusPending
			}
			amount := billing.Money{
				AmountCents: int64(rng.Intn(491)+10) * 100,
				Currency:    currency,
			}
			if _, err := insertInvoice(ctx, tx, amount, customerID, status); err != nil {
				return fmt.Errorf("failed to seed invoice: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seed transaction: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"customers": seedCustomers,
		"invoices":  seedCustomers * seedInvoicesPerCustomer,
	}).Info("Seeded initial data")
	return nil
}

const (
	seedCustomers           = 100
	seedInvoicesPerCustomer = 10
)

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func insertInvoice(ctx context.Context, q queryRower, amount billing.Money, customerID int64, status billing.InvoiceStatus) (*billing.Invoice, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", billing.ErrInvalidStatus, status)
	}

	invoice := &billing.Invoice{
		CustomerID: customerID,
		Amount:     amount,
		Status:     status,
	}
	query := `
		INSERT INTO invoices (customer_id, amount_cents, currency, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	err := q.QueryRowContext(ctx, query,
		customerID,
		amount.AmountCents,
		string(amount.Currency),
		string(status),
	).Scan(&invoice.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}
	return invoice, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanInvoice(row scanner) (*billing.Invoice, error) {
	var (
		invoice  billing.Invoice
		currency string
		status   string
	)
	if err := row.Scan(&invoice.ID, &invoice.CustomerID, &invoice.Amount.AmountCents, &currency, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan invoice: %w", err)
	}

	parsed, err := billing.ParseInvoiceStatus(status)
	if err != nil {
		return nil, fmt.Errorf("invoice %d: %w", invoice.ID, err)
	}
	invoice.Status = parsed
	invoice.Amount.Currency = billing.Currency(currency)
	return &invoice, nil
}
