package postgres

import (
	"context"
	"database/sql"
	"errors"
	"math/rand"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kri5t/antaeus/pkg/billing"
	"github.com/kri5t/antaeus/pkg/observability"
	"github.com/kri5t/antaeus/pkg/storage"
)

var invoiceColumns = []string{"id", "customer_id", "amount_cents", "currency", "status"}

func newMockStore(t *testing.T) (*InvoiceStore, sqlmock.Sqlmock, *observability.Metrics) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger, _ := test.NewNullLogger()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return NewInvoiceStore(db, storage.DriverPostgres, metrics, logger), mock, metrics
}

func TestInvoiceStore_FetchInvoices(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		store, mock, metrics := newMockStore(t)

		rows := sqlmock.NewRows(invoiceColumns).
			AddRow(1, 10, 12300, "EUR", "PENDING").
			AddRow(2, 10, 4500, "EUR", "PAID").
			AddRow(3, 11, 900, "DKK", "ERROR")
		mock.ExpectQuery(`SELECT id, customer_id, amount_cents, currency, status\s+FROM invoices\s+ORDER BY id`).
			WillReturnRows(rows)

		invoices, err := store.FetchInvoices(context.Background())
		require.NoError(t, err)
		require.Len(t, invoices, 3)

		assert.Equal(t, &billing.Invoice{
			ID:         1,
			CustomerID: 10,
			Amount:     billing.Money{AmountCents: 12300, Currency: billing.CurrencyEUR},
			Status:     billing.InvoiceStatusPending,
		}, invoices[0])
		assert.Equal(t, billing.InvoiceStatusPaid, invoices[1].Status)
		assert.Equal(t, billing.InvoiceStatusError, invoices[2].Status)
		assert.Equal(t, billing.CurrencyDKK, invoices[2].Amount.Currency)

		assert.NoError(t, mock.ExpectationsWereMet())
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.StorageOperationsTotal.WithLabelValues("fetch_invoices", "success")))
	})

	t.Run("empty", func(t *testing.T) {
		store, mock, _ := newMockStore(t)
		mock.ExpectQuery(`SELECT id, customer_id`).WillReturnRows(sqlmock.NewRows(invoiceColumns))

		invoices, err := store.FetchInvoices(context.Background())
		require.NoError(t, err)
		assert.Empty(t, invoices)
	})

	t.Run("query error", func(t *testing.T) {
		store, mock, metrics := newMockStore(t)
		mock.ExpectQuery(`SELECT id, customer_id`).WillReturnError(errors.New("connection reset"))

		_, err := store.FetchInvoices(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to query invoices")
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.StorageOperationsTotal.WithLabelValues("fetch_invoices", "error")))
	})

	t.Run("unknown status", func(t *testing.T) {
		store, mock, _ := newMockStore(t)
		mock.ExpectQuery(`SELECT id, customer_id`).
			WillReturnRows(sqlmock.NewRows(invoiceColumns).AddRow(1, 10, 100, "EUR", "REFUNDED"))

		_, err := store.FetchInvoices(context.Background())
		assert.ErrorIs(t, err, billing.ErrInvalidStatus)
	})

	t.Run("row error", func(t *testing.T) {
		store, mock, _ := newMockStore(t)
		rows := sqlmock.NewRows(invoiceColumns).
			AddRow(1, 10, 100, "EUR", "PENDING").
			RowError(0, errors.New("bad row"))
		mock.ExpectQuery(`SELECT id, customer_id`).WillReturnRows(rows)

		_, err := store.FetchInvoices(context.Background())
		assert.Error(t, err)
	})
}

func TestInvoiceStore_FetchInvoice(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		store, mock, _ := newMockStore(t)
		mock.ExpectQuery(`WHERE id = \$1`).
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows(invoiceColumns).AddRow(5, 2, 100, "USD", "PAID"))

		invoice, err := store.FetchInvoice(context.Background(), 5)
		require.NoError(t, err)
		assert.Equal(t, int64(5), invoice.ID)
		assert.Equal(t, billing.CurrencyUSD, invoice.Amount.Currency)
	})

	t.Run("not found", func(t *testing.T) {
		store, mock, _ := newMockStore(t)
		mock.ExpectQuery(`WHERE id = \$1`).
			WithArgs(int64(99)).
			WillReturnError(sql.ErrNoRows)

		_, err := store.FetchInvoice(context.Background(), 99)
		assert.ErrorIs(t, err, storage.ErrInvoiceNotFound)
	})
}

func TestInvoiceStore_UpdateInvoiceStatus(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		store, mock, metrics := newMockStore(t)
		mock.ExpectExec(`UPDATE invoices SET status = \$1 WHERE id = \$2`).
			WithArgs("PAID", int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.UpdateInvoiceStatus(context.Background(), 1, billing.InvoiceStatusPaid))
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.StorageOperationsTotal.WithLabelValues("update_status", "success")))
	})

	t.Run("missing invoice", func(t *testing.T) {
		store, mock, _ := newMockStore(t)
		mock.ExpectExec(`UPDATE invoices SET status`).
			WithArgs("ERROR", int64(42)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.UpdateInvoiceStatus(context.Background(), 42, billing.InvoiceStatusError)
		assert.ErrorIs(t, err, storage.ErrInvoiceNotFound)
	})

	t.Run("exec error", func(t *testing.T) {
		store, mock, _ := newMockStore(t)
		mock.ExpectExec(`UPDATE invoices SET status`).WillReturnError(errors.New("deadlock"))

		err := store.UpdateInvoiceStatus(context.Background(), 1, billing.InvoiceStatusPaid)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "deadlock")
	})

	t.Run("invalid status", func(t *testing.T) {
		store, mock, _ := newMockStore(t)

		err := store.UpdateInvoiceStatus(context.Background(), 1, billing.InvoiceStatus("CHARGING"))
		assert.ErrorIs(t, err, billing.ErrInvalidStatus)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestInvoiceStore_ResetInvoiceStatuses(t *testing.T) {
	store, mock, _ := newMockStore(t)
	mock.ExpectExec(`UPDATE invoices SET status = \$1$`).
		WithArgs("PENDING").
		WillReturnResult(sqlmock.NewResult(0, 1000))

	n, err := store.ResetInvoiceStatuses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1000), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceStore_CreateCustomer(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		store, mock, _ := newMockStore(t)
		mock.ExpectQuery(`INSERT INTO customers \(currency\) VALUES \(\$1\) RETURNING id`).
			WithArgs("SEK").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

		customer, err := store.CreateCustomer(context.Background(), billing.CurrencySEK)
		require.NoError(t, err)
		assert.Equal(t, &billing.Customer{ID: 7, Currency: billing.CurrencySEK}, customer)
	})

	t.Run("unsupported currency", func(t *testing.T) {
		store, _, _ := newMockStore(t)
		_, err := store.CreateCustomer(context.Background(), billing.Currency("XYZ"))
		assert.Error(t, err)
	})
}

func TestInvoiceStore_FetchCustomer(t *testing.T) {
	store, mock, _ := newMockStore(t)
	mock.ExpectQuery(`SELECT id, currency FROM customers WHERE id = \$1`).
		WithArgs(int64(3)).
		WillReturnError(sql.ErrNoRows)

	_, err := store.FetchCustomer(context.Background(), 3)
	assert.ErrorIs(t, err, storage.ErrCustomerNotFound)
}

func TestInvoiceStore_CreateInvoice(t *testing.T) {
	store, mock, _ := newMockStore(t)
	mock.ExpectQuery(`INSERT INTO invoices`).
		WithArgs(int64(7), int64(2500), "GBP", "PENDING").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(70))

	amount := billing.Money{AmountCents: 2500, Currency: billing.CurrencyGBP}
	invoice, err := store.CreateInvoice(context.Background(), amount, 7, billing.InvoiceStatusPending)
	require.NoError(t, err)
	assert.Equal(t, int64(70), invoice.ID)
	assert.Equal(t, int64(7), invoice.CustomerID)
	assert.Equal(t, amount, invoice.Amount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceStore_Migrate(t *testing.T) {
	store, mock, _ := newMockStore(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS customers`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS invoices`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_invoices_status`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())

	logger, _ := test.NewNullLogger()
	unknown := NewInvoiceStore(nil, "mysql", nil, logger)
	assert.Error(t, unknown.Migrate(context.Background()))
}

func TestInvoiceStore_SeedInitialDataSkipsSeededDatabase(t *testing.T) {
	store, mock, _ := newMockStore(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM customers`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(100))

	require.NoError(t, store.SeedInitialData(context.Background(), rand.New(rand.NewSource(1))))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceStore_SeedInitialDataRollsBack(t *testing.T) {
	store, mock, _ := newMockStore(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM customers`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO customers`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.SeedInitialData(context.Background(), rand.New(rand.NewSource(1)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}
