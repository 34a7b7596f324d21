// Package payment provides billing.PaymentProvider implementations and
// decorators.
//
// SimulatedProvider stands in for the external payment gateway. WithTimeout
// bounds every provider call and Instrumented records call metrics; both wrap
// any billing.PaymentProvider:
//
//	provider, err := payment.NewSimulatedProvider(payment.DefaultSimulatedConfig())
//	if err != nil {
//		return err
//	}
//	p := payment.Instrumented(payment.WithTimeout(provider, 5*time.Second), metrics)
package payment
