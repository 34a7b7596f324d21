package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/kri5t/antaeus/pkg/observability"
)

// DefaultSpec ticks at the start of every calendar day
const DefaultSpec = "@midnight"

const dayLayout = "2006-01-02"

// Tick decisions, also used as metric labels
const (
	DecisionSkipped          = "not_billing_day"
	DecisionAlreadyTriggered = "already_triggered"
	DecisionTriggered        = "triggered"
)

// ErrAlreadyScheduled is returned when Schedule is called twice
var ErrAlreadyScheduled = errors.New("scheduler: trigger already scheduled")

// Trigger starts a billing run
type Trigger func(ctx context.Context) error

// Scheduler ticks once a day and fires the trigger on billing days
type Scheduler struct {
	logger    logrus.FieldLogger
	spec      string
	location  *time.Location
	predicate Predicate
	clock     func() time.Time
	marker    DayMarker
	local     *MemoryDayMarker
	metrics   *observability.Metrics

	cron     *cron.Cron
	schedule cron.Schedule

	mu      sync.Mutex
	trigger Trigger
	ctx     context.Context
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithPredicate sets the billing day predicate
func WithPredicate(p Predicate) Option {
	return func(s *Scheduler) {
		if p != nil {
			s.predicate = p
		}
	}
}

// WithClock overrides the time source used to evaluate the predicate
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithSpec overrides the cron spec. Any spec accepted by cron.ParseStandard works.
func WithSpec(spec string) Option {
	return func(s *Scheduler) {
		if spec != "" {
			s.spec = spec
		}
	}
}

// WithLocation sets the time zone calendar days are computed in
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithDayMarker sets a durable marker so restarts on a billing day do not fire twice
func WithDayMarker(m DayMarker) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.marker = m
		}
	}
}

// WithMetrics records tick decisions and trigger failures
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// New creates a Scheduler. It does nothing until Schedule and Start are called.
func New(logger logrus.FieldLogger, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:    logger.WithField("component", "scheduler"),
		spec:      DefaultSpec,
		location:  time.Local,
		predicate: FirstDayOfMonth,
		clock:     time.Now,
		local:     NewMemoryDayMarker(),
		ctx:       context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}

	cronLogger := NewCronLogger(s.logger)
	s.cron = cron.New(
		cron.WithLocation(s.location),
		cron.WithLogger(cronLogger),
		cron.WithChain(
			cron.Recover(cronLogger),
			cron.SkipIfStillRunning(cronLogger),
		),
	)
	return s
}

// Schedule registers trigger with the cron loop
func (s *Scheduler) Schedule(trigger Trigger) error {
	if trigger == nil {
		return errors.New("scheduler: nil trigger")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trigger != nil {
		return ErrAlreadyScheduled
	}

	schedule, err := cron.ParseStandard(s.spec)
	if err != nil {
		return fmt.Errorf("parse cron spec %q: %w", s.spec, err)
	}
	if _, err := s.cron.AddFunc(s.spec, func() {
		s.Tick(s.baseContext())
	}); err != nil {
		return fmt.Errorf("register cron job: %w", err)
	}
	s.schedule = schedule
	s.trigger = trigger

	now := s.clock().In(s.location)
	next := schedule.Next(now)
	s.logger.WithFields(logrus.Fields{
		"spec": s.spec,
		"next": next,
	}).Infof("Schedule check will run in %d seconds", int64(next.Sub(now).Seconds()))
	return nil
}

// Start runs the cron loop in the background. Ticks use ctx, so cancelling it
// aborts an in-progress billing run without stopping future ticks.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("Scheduler started")
}

// Stop halts the cron loop. The returned context is done once any running
// tick has returned.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("Stopping scheduler")
	return s.cron.Stop()
}

// NextTick reports when the next tick is due, or the zero time before Schedule
func (s *Scheduler) NextTick() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule == nil {
		return time.Time{}
	}
	return s.schedule.Next(s.clock().In(s.location))
}

// Tick evaluates the billing predicate for the current day and fires the
// trigger when it holds and the day has not been claimed yet. It returns the
// decision taken. Trigger errors and panics are logged, never propagated.
func (s *Scheduler) Tick(ctx context.Context) string {
	now := s.clock().In(s.location)
	day := now.Format(dayLayout)
	logger := s.logger.WithField("day", day)

	if !s.predicate(now) {
		logger.Info("Today is not a billing day, skipping billing")
		s.metrics.RecordSchedulerTick(DecisionSkipped)
		return DecisionSkipped
	}

	if !s.claim(ctx, day, logger) {
		logger.Info("Billing already triggered today, skipping")
		s.metrics.RecordSchedulerTick(DecisionAlreadyTriggered)
		return DecisionAlreadyTriggered
	}

	s.metrics.RecordSchedulerTick(DecisionTriggered)
	s.fire(ctx, logger)
	return DecisionTriggered
}

// claim reserves day in the process-local marker first, then in the durable
// one. A failing durable marker does not block billing.
func (s *Scheduler) claim(ctx context.Context, day string, logger logrus.FieldLogger) bool {
	if ok, _ := s.local.Claim(ctx, day); !ok {
		return false
	}
	if s.marker == nil {
		return true
	}

	ok, err := s.marker.Claim(ctx, day)
	if err != nil {
		logger.WithError(err).Warn("Failed to claim billing day, running anyway")
		return true
	}
	return ok
}

func (s *Scheduler) fire(ctx context.Context, logger logrus.FieldLogger) {
	s.mu.Lock()
	trigger := s.trigger
	s.mu.Unlock()
	if trigger == nil {
		logger.Warn("Billing day but no trigger is scheduled")
		return
	}

	defer observability.RecoverPanicWithCallback(logger, "billing trigger", func(interface{}) {
		s.metrics.RecordTriggerFailure()
	})

	start := time.Now()
	logger.Info("Today is a billing day, triggering billing")
	if err := trigger(ctx); err != nil {
		s.metrics.RecordTriggerFailure()
		logger.WithError(err).WithField("duration", time.Since(start)).Error("Billing run finished with errors")
		return
	}
	logger.WithField("duration", time.Since(start)).Info("Billing run completed")
}

func (s *Scheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}
