package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// chargeOutcome is how a single charge task ended
type chargeOutcome string

const (
	outcomePaid             chargeOutcome = "paid"
	outcomeDeclined         chargeOutcome = "declined"
	outcomeCustomerNotFound chargeOutcome = "customer_not_found"
	outcomeCurrencyMismatch chargeOutcome = "currency_mismatch"
	outcomeRetriesExhausted chargeOutcome = "retries_exhausted"
	outcomeUnresolved       chargeOutcome = "unresolved"
)

// chargeAttempt tracks one invoice through the charge state machine.
// It lives only as long as the charge task that owns it.
type chargeAttempt struct {
	invoice *Invoice
	state   ChargeState
	retries int
	calls   int
	delay   time.Duration
}

func newChargeAttempt(invoice *Invoice) *chargeAttempt {
	return &chargeAttempt{
		invoice: invoice,
		state:   ChargeStatePending,
	}
}

// charge drives an invoice from PENDING to a terminal status.
//
// Network failures are retried after attempt*baseTimeout, attempt starting
// at zero, until maxRetries retries have been made. Failures of unknown kind
// are returned wrapped in ErrUnclassified and leave the invoice untouched.
func (r *Runner) charge(ctx context.Context, a *chargeAttempt, logger logrus.FieldLogger) (chargeOutcome, error) {
	span := trace.SpanFromContext(ctx)

	for {
		a.state = ChargeStateCharging
		a.calls++
		paid, err := r.provider.Charge(ctx, a.invoice)
		span.AddEvent("charge", trace.WithAttributes(
			attribute.Int("attempt", a.retries),
			attribute.Bool("paid", paid),
		))

		if err == nil {
			if paid {
				r.metrics.RecordChargeAttempt("paid")
				return r.resolve(ctx, a, InvoiceStatusPaid, outcomePaid, logger)
			}
			r.metrics.RecordChargeAttempt("declined")
			logger.Warn("Payment provider declined invoice")
			return r.resolve(ctx, a, InvoiceStatusError, outcomeDeclined, logger)
		}

		kind := KindOf(err)
		r.metrics.RecordChargeAttempt(kind.String())

		switch {
		case kind == FailureCustomerNotFound:
			logger.WithError(err).Errorf("Payment provider was not able to identify customer %d on invoice %d",
				a.invoice.CustomerID, a.invoice.ID)
			return r.resolve(ctx, a, InvoiceStatusError, outcomeCustomerNotFound, logger)

		case kind == FailureCurrencyMismatch:
			logger.WithError(err).Errorf("Currency mismatch on invoice %d (%s)", a.invoice.ID, a.invoice.Amount.Currency)
			return r.resolve(ctx, a, InvoiceStatusError, outcomeCurrencyMismatch, logger)

		case kind.Retryable():
			if a.retries >= r.maxRetries {
				logger.WithError(err).WithField("attempt", a.retries).
					Errorf("Failed to pay invoice %d after %d retries", a.invoice.ID, a.retries)
				return r.resolve(ctx, a, InvoiceStatusError, outcomeRetriesExhausted, logger)
			}

			a.state = ChargeStatePending
			a.delay = time.Duration(a.retries) * r.baseTimeout
			logger.WithError(err).WithFields(logrus.Fields{
				"attempt": a.retries,
				"delay":   a.delay,
			}).Warn("Network failure charging invoice, retrying")
			r.metrics.RecordRetryWait(a.delay)

			if err := r.sleep(ctx, a.delay); err != nil {
				span.SetStatus(codes.Error, "retry wait aborted")
				return outcomeUnresolved, fmt.Errorf("%w: invoice %d: retry wait aborted: %w", ErrUnclassified, a.invoice.ID, err)
			}
			a.retries++

		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, "unclassified failure")
			return outcomeUnresolved, fmt.Errorf("%w: invoice %d: %w", ErrUnclassified, a.invoice.ID, err)
		}
	}
}

// resolve moves the invoice to a terminal status and persists it with
// exactly one store update.
func (r *Runner) resolve(ctx context.Context, a *chargeAttempt, status InvoiceStatus, outcome chargeOutcome, logger logrus.FieldLogger) (chargeOutcome, error) {
	if status == InvoiceStatusPaid {
		a.state = ChargeStatePaid
	} else {
		a.state = ChargeStateError
	}

	// The provider call already happened, so the outcome is persisted even
	// when the run is being cancelled.
	if err := r.store.UpdateInvoiceStatus(context.WithoutCancel(ctx), a.invoice.ID, status); err != nil {
		logger.WithError(err).WithField("status", status).Error("Failed to persist invoice status")
		trace.SpanFromContext(ctx).RecordError(err)
		return outcomeUnresolved, fmt.Errorf("update invoice %d to %s: %w", a.invoice.ID, status, err)
	}

	logger.WithFields(logrus.Fields{
		"status":  status,
		"outcome": outcome,
		"calls":   a.calls,
	}).Info("Invoice resolved")
	r.metrics.RecordInvoiceOutcome(string(outcome))
	return outcome, nil
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
