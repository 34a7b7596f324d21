package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// ShutdownManager handles graceful shutdown of services
type ShutdownManager struct {
	logger          logrus.FieldLogger
	server          *http.Server
	drainFuncs      []namedShutdownFunc
	shutdownFuncs   []namedShutdownFunc
	shutdownTimeout time.Duration
	mu              sync.Mutex
}

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

type namedShutdownFunc struct {
	name string
	fn   ShutdownFunc
}

// NewShutdownManager creates a new shutdown manager. server may be nil.
func NewShutdownManager(logger logrus.FieldLogger, server *http.Server, timeout time.Duration) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:          logger,
		server:          server,
		shutdownTimeout: timeout,
	}
}

// RegisterDrainFunc registers a function that must return before any
// shutdown func starts. Drain funcs run one at a time in registration order;
// use them to wait for in-flight work that still needs the resources the
// shutdown funcs release.
func (sm *ShutdownManager) RegisterDrainFunc(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.drainFuncs = append(sm.drainFuncs, namedShutdownFunc{name: name, fn: fn})
}

// RegisterShutdownFunc registers a function to call during shutdown
func (sm *ShutdownManager) RegisterShutdownFunc(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.shutdownFuncs = append(sm.shutdownFuncs, namedShutdownFunc{name: name, fn: fn})
}

// WaitForShutdown blocks until SIGINT, SIGTERM or ctx is done, then shuts down
func (sm *ShutdownManager) WaitForShutdown(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		sm.logger.Infof("Received signal %s, starting graceful shutdown", sig)
	case <-ctx.Done():
		sm.logger.Info("Context done, starting graceful shutdown")
	}

	return sm.Shutdown()
}

// Shutdown stops the HTTP server, runs the drain funcs in order, then runs
// every shutdown func concurrently, all within the shutdown timeout
func (sm *ShutdownManager) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), sm.shutdownTimeout)
	defer cancel()

	if sm.server != nil {
		sm.logger.Info("Shutting down HTTP server")
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).Error("HTTP server shutdown error")
			return fmt.Errorf("HTTP server shutdown failed: %w", err)
		}
		sm.logger.Info("HTTP server shutdown complete")
	}

	sm.mu.Lock()
	drains := sm.drainFuncs
	funcs := sm.shutdownFuncs
	sm.mu.Unlock()

	var drainErrs []error
	for _, f := range drains {
		if err := sm.run(ctx, f); err != nil {
			drainErrs = append(drainErrs, err)
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, len(funcs))

	for i, f := range funcs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = sm.run(ctx, f)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sm.logger.Warn("Shutdown timeout reached, forcing shutdown")
		return errors.New("shutdown timeout reached")
	}

	if err := errors.Join(append(drainErrs, errs...)...); err != nil {
		return fmt.Errorf("shutdown completed with errors: %w", err)
	}

	sm.logger.Info("Graceful shutdown complete")
	return nil
}

func (sm *ShutdownManager) run(ctx context.Context, f namedShutdownFunc) (err error) {
	logger := sm.logger.WithField("shutdown", f.name)
	defer RecoverPanicWithCallback(logger, "shutdown "+f.name, func(r interface{}) {
		err = fmt.Errorf("%s: %w", f.name, MustRecover(r))
	})

	if err := f.fn(ctx); err != nil {
		logger.WithError(err).Error("Shutdown function failed")
		return fmt.Errorf("%s: %w", f.name, err)
	}
	logger.Info("Shutdown function complete")
	return nil
}
