// Package async runs background goroutines that cannot crash the process.
//
//	errCh := async.SafeGo(ctx, logger, "ops server", 0, func(ctx context.Context) error {
//		return server.ListenAndServe()
//	})
//
// A panic in the task is recovered, logged with its stack and delivered on
// the returned channel as an error.
package async
