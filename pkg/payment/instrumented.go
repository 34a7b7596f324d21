package payment

import (
	"context"
	"time"

	"github.com/kri5t/antaeus/pkg/billing"
	"github.com/kri5t/antaeus/pkg/observability"
)

// Instrumented records the result and duration of every provider call
func Instrumented(provider billing.PaymentProvider, metrics *observability.Metrics) billing.PaymentProvider {
	if metrics == nil {
		return provider
	}
	return billing.PaymentProviderFunc(func(ctx context.Context, invoice *billing.Invoice) (bool, error) {
		start := time.Now()
		paid, err := provider.Charge(ctx, invoice)
		metrics.RecordProviderCall(callResult(paid, err), time.Since(start))
		return paid, err
	})
}

func callResult(paid bool, err error) string {
	switch {
	case err != nil:
		return billing.KindOf(err).String()
	case paid:
		return "paid"
	default:
		return "declined"
	}
}
