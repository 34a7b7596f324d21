package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kri5t/antaeus/pkg/billing"
	"github.com/kri5t/antaeus/pkg/observability"
)

// ErrOutcomeUnknown reports a provider call that outlived its deadline. The
// gateway may still complete the charge, so it must not be retried.
var ErrOutcomeUnknown = errors.New("payment outcome unknown")

// WithTimeout bounds every call to provider by d. A call that runs past the
// deadline fails with ErrOutcomeUnknown, which the runner does not classify:
// the invoice stays PENDING and is not charged again in the same cycle. The
// wrapped call keeps running in the background if the provider ignores its
// context. A non-positive d returns provider unchanged.
func WithTimeout(provider billing.PaymentProvider, d time.Duration) billing.PaymentProvider {
	if d <= 0 {
		return provider
	}

	type result struct {
		paid bool
		err  error
	}

	return billing.PaymentProviderFunc(func(ctx context.Context, invoice *billing.Invoice) (bool, error) {
		callCtx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		done := make(chan result, 1)
		go func() {
			var res result
			defer func() {
				if err := observability.MustRecover(recover()); err != nil {
					res = result{err: err}
				}
				done <- res
			}()
			res.paid, res.err = provider.Charge(callCtx, invoice)
		}()

		select {
		case res := <-done:
			if res.err != nil && ctx.Err() == nil && callCtx.Err() == context.DeadlineExceeded && billing.KindOf(res.err) == billing.FailureOther {
				return false, fmt.Errorf("%w: provider call exceeded %s: %w", ErrOutcomeUnknown, d, res.err)
			}
			return res.paid, res.err
		case <-callCtx.Done():
			if err := ctx.Err(); err != nil {
				return false, err
			}
			return false, fmt.Errorf("%w: provider call exceeded %s: %w", ErrOutcomeUnknown, d, callCtx.Err())
		}
	})
}
