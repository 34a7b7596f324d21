package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kri5t/antaeus/pkg/observability"
)

const (
	// DefaultBaseTimeout is the backoff step between network retries
	DefaultBaseTimeout = 1000 * time.Millisecond
	// DefaultMaxRetries is the number of retries after the first network failure
	DefaultMaxRetries = 5

	tracerName = "github.com/kri5t/antaeus/pkg/billing"
)

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// Runner resolves every PENDING invoice to PAID or ERROR
type Runner struct {
	store          InvoiceStore
	provider       PaymentProvider
	logger         logrus.FieldLogger
	baseTimeout    time.Duration
	maxRetries     int
	maxConcurrency int
	metrics        *observability.Metrics
	tracer         trace.Tracer
	sleep          Sleeper
	now            func() time.Time
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithBaseTimeout sets the linear backoff step. Only tests shorten it.
func WithBaseTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d >= 0 {
			r.baseTimeout = d
		}
	}
}

// WithMaxRetries sets how many times a network failure is retried.
// Only tests change it.
func WithMaxRetries(n int) RunnerOption {
	return func(r *Runner) {
		if n >= 0 {
			r.maxRetries = n
		}
	}
}

// WithMaxConcurrency bounds the number of invoices charged at once.
// Zero or less means every pending invoice is charged concurrently.
func WithMaxConcurrency(n int) RunnerOption {
	return func(r *Runner) {
		r.maxConcurrency = n
	}
}

// WithMetrics records runner activity in Prometheus metrics
func WithMetrics(m *observability.Metrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithTracer overrides the OpenTelemetry tracer
func WithTracer(t trace.Tracer) RunnerOption {
	return func(r *Runner) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithSleeper overrides how the runner waits between retries
func WithSleeper(s Sleeper) RunnerOption {
	return func(r *Runner) {
		if s != nil {
			r.sleep = s
		}
	}
}

// NewRunner creates a Runner
func NewRunner(store InvoiceStore, provider PaymentProvider, logger logrus.FieldLogger, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:       store,
		provider:    provider,
		logger:      logger.WithField("component", "billing"),
		baseTimeout: DefaultBaseTimeout,
		maxRetries:  DefaultMaxRetries,
		tracer:      otel.Tracer(tracerName),
		sleep:       sleepContext,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunBillingCycle charges every invoice that is PENDING when the cycle starts
// and returns once each of them has been resolved or has failed to resolve.
//
// It never returns an error and never panics: failures are logged and
// summarised in the returned report so a bad run cannot stop the scheduler.
func (r *Runner) RunBillingCycle(ctx context.Context) (report *CycleReport) {
	report = &CycleReport{
		RunID:     uuid.NewString(),
		StartedAt: r.now(),
	}
	ctx, span := r.tracer.Start(ctx, "billing.cycle", trace.WithAttributes(
		attribute.String("run_id", report.RunID),
	))
	defer span.End()
	logger := observability.WithTraceContext(ctx, r.logger.WithField("run_id", report.RunID))

	defer func() {
		report.FinishedAt = r.now()
		status := "success"
		if report.Err != nil {
			status = "error"
			span.RecordError(report.Err)
			span.SetStatus(codes.Error, "billing cycle finished with errors")
		}
		r.metrics.RecordCycle(status, report.Duration(), report.FinishedAt)
		logger.WithFields(logrus.Fields{
			"fetched":    report.Fetched,
			"pending":    report.Pending,
			"paid":       report.Paid,
			"declined":   report.Declined,
			"failed":     report.Failed,
			"unresolved": report.Unresolved,
			"duration":   report.Duration(),
		}).Info("Billing cycle finished")
	}()
	defer observability.RecoverPanicWithCallback(logger, "billing cycle", func(rec interface{}) {
		report.Err = errors.Join(report.Err, observability.MustRecover(rec))
	})

	invoices, err := r.store.FetchInvoices(ctx)
	if err != nil {
		logger.WithError(err).Error("Failed to fetch invoices")
		report.Err = fmt.Errorf("fetch invoices: %w", err)
		return report
	}
	report.Fetched = len(invoices)

	pending := make([]*Invoice, 0, len(invoices))
	for _, invoice := range invoices {
		if invoice != nil && invoice.Status == InvoiceStatusPending {
			pending = append(pending, invoice)
		}
	}
	report.Pending = len(pending)
	span.SetAttributes(attribute.Int("invoices.pending", len(pending)))
	logger.Infof("Charging %d pending invoices out of %d", len(pending), len(invoices))

	outcomes := make([]chargeOutcome, len(pending))
	errs := make([]error, len(pending))

	var g errgroup.Group
	if r.maxConcurrency > 0 {
		g.SetLimit(r.maxConcurrency)
	}
	for i, invoice := range pending {
		g.Go(func() error {
			outcomes[i], errs[i] = r.chargeTask(ctx, invoice, logger)
			return nil
		})
	}
	_ = g.Wait()

	for i, outcome := range outcomes {
		switch outcome {
		case outcomePaid:
			report.Paid++
		case outcomeDeclined:
			report.Declined++
		case outcomeCustomerNotFound, outcomeCurrencyMismatch, outcomeRetriesExhausted:
			report.Failed++
		default:
			report.Unresolved++
			r.metrics.RecordInvoiceOutcome(string(outcomeUnresolved))
			logger.WithError(errs[i]).WithFields(logrus.Fields{
				"invoice_id":  pending[i].ID,
				"customer_id": pending[i].CustomerID,
			}).Error("Invoice left unresolved")
		}
	}
	report.Err = errors.Join(errs...)

	return report
}

// chargeTask runs the state machine for one invoice. A panic inside the
// provider or store is contained here and reported as unclassified.
func (r *Runner) chargeTask(ctx context.Context, invoice *Invoice, logger logrus.FieldLogger) (outcome chargeOutcome, err error) {
	logger = logger.WithFields(logrus.Fields{
		"invoice_id":  invoice.ID,
		"customer_id": invoice.CustomerID,
	})
	defer r.metrics.ChargeStarted()()

	ctx, span := r.tracer.Start(ctx, "billing.charge", trace.WithAttributes(
		attribute.Int64("invoice.id", invoice.ID),
		attribute.Int64("customer.id", invoice.CustomerID),
		attribute.String("invoice.currency", string(invoice.Amount.Currency)),
	))
	defer span.End()

	defer observability.RecoverPanicWithCallback(logger, "charge invoice", func(rec interface{}) {
		outcome = outcomeUnresolved
		err = fmt.Errorf("%w: invoice %d: %w", ErrUnclassified, invoice.ID, observability.MustRecover(rec))
	})

	return r.charge(ctx, newChargeAttempt(invoice), logger)
}

// ResetInvoices forces every invoice back to PENDING, bypassing the charge
// state machine. It exists to re-run billing in test and demo environments.
func (r *Runner) ResetInvoices(ctx context.Context) (int64, error) {
	n, err := r.store.ResetInvoiceStatuses(ctx)
	if err != nil {
		r.logger.WithError(err).Error("Failed to reset invoices")
		return 0, fmt.Errorf("reset invoices: %w", err)
	}
	r.logger.Infof("Reset %d invoices to %s", n, InvoiceStatusPending)
	return n, nil
}
