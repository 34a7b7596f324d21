// Package billing charges outstanding invoices through a payment provider.
//
// # Overview
//
// A billing cycle fetches every invoice from the store, keeps the PENDING ones
// and charges them concurrently. Each invoice is resolved to a terminal status
// (PAID or ERROR) by its own charge task; the cycle returns once every task has
// finished.
//
// # Charge State Machine
//
//	PENDING -> CHARGING -> PAID     provider accepted the charge
//	                    -> ERROR    declined, customer not found, currency mismatch
//	                    -> CHARGING network failure, retried with linear backoff
//
// Network failures are retried up to DefaultMaxRetries times, waiting
// attempt*DefaultBaseTimeout before each retry (the first retry is
// immediate). The binary never overrides this policy. Any
// failure the provider reports outside the known kinds is not converted to
// ERROR; it is logged against the invoice and surfaced in the CycleReport.
//
// # Usage Example
//
//	runner := billing.NewRunner(store, provider, logger,
//		billing.WithMaxConcurrency(32),
//	)
//	report := runner.RunBillingCycle(ctx)
//	fmt.Printf("paid=%d failed=%d\n", report.Paid, report.Failed)
//
// # Related Packages
//
//   - pkg/scheduler: Fires RunBillingCycle on billing days
//   - pkg/payment: Provider implementations and decorators
//   - pkg/storage/postgres: SQL invoice store
package billing
