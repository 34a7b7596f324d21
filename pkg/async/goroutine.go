package async

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kri5t/antaeus/pkg/observability"
)

// SafeGo executes fn in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Optional timeout enforcement (zero means no deadline)
// - Error logging
//
// The returned channel receives the task's error, if any, and is closed when
// the task returns. Callers that don't care about the result may ignore it.
func SafeGo(parentCtx context.Context, logger logrus.FieldLogger, taskName string, timeout time.Duration, fn func(context.Context) error) <-chan error {
	errCh := make(chan error, 1)
	logger = logger.WithField("task", taskName)

	go func() {
		defer close(errCh)

		ctx, cancel := parentCtx, context.CancelFunc(func() {})
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(parentCtx, timeout)
		}
		defer cancel()

		defer observability.RecoverPanicWithCallback(logger, taskName, func(r interface{}) {
			errCh <- observability.MustRecover(r)
		})

		if err := fn(ctx); err != nil {
			// Log error but don't crash
			logger.WithError(err).Error("Background task failed")
			errCh <- err
		}
	}()

	return errCh
}

// SafeGoNoError is like SafeGo but for functions that don't return errors
func SafeGoNoError(parentCtx context.Context, logger logrus.FieldLogger, taskName string, timeout time.Duration, fn func(context.Context)) <-chan error {
	return SafeGo(parentCtx, logger, taskName, timeout, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}
