// Package scheduler fires the billing run once per qualifying calendar day.
//
// # Overview
//
// A cron entry ticks at the start of every local calendar day (the "@midnight"
// descriptor). On each tick the billing predicate is evaluated against the
// local date; when it holds and the day has not been claimed yet, the trigger
// runs. Errors and panics raised by the trigger are logged and the cron loop
// keeps going, so one failed run never prevents the next one.
//
// # Usage Example
//
//	s := scheduler.New(logger,
//		scheduler.WithPredicate(scheduler.FirstDayOfMonth),
//		scheduler.WithDayMarker(redisClient),
//	)
//	if err := s.Schedule(func(ctx context.Context) error {
//		return runner.RunBillingCycle(ctx).Err
//	}); err != nil {
//		log.Fatal(err)
//	}
//	s.Start(ctx)
//	defer func() { <-s.Stop().Done() }()
//
// # Related Packages
//
//   - pkg/billing: The billing runner triggered by the scheduler
//   - pkg/storage/postgres: Redis-backed DayMarker
package scheduler
