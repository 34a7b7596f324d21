package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kri5t/antaeus/pkg/observability"
)

type failingMarker struct {
	calls int
}

func (m *failingMarker) Claim(ctx context.Context, day string) (bool, error) {
	m.calls++
	return false, errors.New("redis unavailable")
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestScheduler(t *testing.T, clock *fakeClock, opts ...Option) (*Scheduler, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	opts = append([]Option{WithClock(clock.Now), WithLocation(time.UTC)}, opts...)
	return New(logger, opts...), hook
}

func countingTrigger(n *int32, err error) Trigger {
	return func(ctx context.Context) error {
		atomic.AddInt32(n, 1)
		return err
	}
}

func TestTick_NotBillingDay(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)}
	s, hook := newTestScheduler(t, clock)

	var fired int32
	require.NoError(t, s.Schedule(countingTrigger(&fired, nil)))

	assert.Equal(t, DecisionSkipped, s.Tick(context.Background()))
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Contains(t, entry.Message, "not a billing day")
}

func TestTick_FirstDayOfMonthTriggers(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 4, 1, 0, 0, 1, 0, time.UTC)}
	s, _ := newTestScheduler(t, clock)

	var fired int32
	require.NoError(t, s.Schedule(countingTrigger(&fired, nil)))

	assert.Equal(t, DecisionTriggered, s.Tick(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestTick_AtMostOncePerDay(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	s, _ := newTestScheduler(t, clock)

	var fired int32
	require.NoError(t, s.Schedule(countingTrigger(&fired, nil)))

	assert.Equal(t, DecisionTriggered, s.Tick(context.Background()))
	clock.now = clock.now.Add(6 * time.Hour)
	assert.Equal(t, DecisionAlreadyTriggered, s.Tick(context.Background()))
	clock.now = clock.now.Add(17 * time.Hour)
	assert.Equal(t, DecisionAlreadyTriggered, s.Tick(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))

	// Next month fires again
	clock.now = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, DecisionTriggered, s.Tick(context.Background()))
	assert.Equal(t, int32(2), atomic.LoadInt32(&fired))
}

func TestTick_SharedMarkerSurvivesRestart(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)}
	marker := NewMemoryDayMarker()

	var fired int32
	first, _ := newTestScheduler(t, clock, WithDayMarker(marker))
	require.NoError(t, first.Schedule(countingTrigger(&fired, nil)))
	assert.Equal(t, DecisionTriggered, first.Tick(context.Background()))

	restarted, _ := newTestScheduler(t, clock, WithDayMarker(marker))
	require.NoError(t, restarted.Schedule(countingTrigger(&fired, nil)))
	assert.Equal(t, DecisionAlreadyTriggered, restarted.Tick(context.Background()))

	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestTick_MarkerErrorFailsOpen(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)}
	marker := &failingMarker{}
	s, hook := newTestScheduler(t, clock, WithDayMarker(marker))

	var fired int32
	require.NoError(t, s.Schedule(countingTrigger(&fired, nil)))

	assert.Equal(t, DecisionTriggered, s.Tick(context.Background()))
	assert.Equal(t, DecisionAlreadyTriggered, s.Tick(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
	assert.Equal(t, 1, marker.calls)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "Failed to claim billing day, running anyway" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestTick_TriggerErrorIsContained(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)}
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	s, hook := newTestScheduler(t, clock, WithMetrics(metrics))

	var fired int32
	require.NoError(t, s.Schedule(countingTrigger(&fired, errors.New("provider down"))))

	assert.Equal(t, DecisionTriggered, s.Tick(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SchedulerTriggerFailuresTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SchedulerTicksTotal.WithLabelValues(DecisionTriggered)))

	// The scheduler keeps working after a failed run
	clock.now = time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, DecisionTriggered, s.Tick(context.Background()))
	assert.Equal(t, int32(2), atomic.LoadInt32(&fired))
}

func TestTick_TriggerPanicIsContained(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)}
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	s, hook := newTestScheduler(t, clock, WithMetrics(metrics))

	require.NoError(t, s.Schedule(func(ctx context.Context) error {
		panic("boom")
	}))

	assert.NotPanics(t, func() {
		assert.Equal(t, DecisionTriggered, s.Tick(context.Background()))
	})
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SchedulerTriggerFailuresTotal))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "PANIC recovered", entry.Message)
	assert.Equal(t, "boom", entry.Data["panic"])
}

func TestTick_PassesContext(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	s, _ := newTestScheduler(t, clock)

	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "run")

	var got interface{}
	require.NoError(t, s.Schedule(func(ctx context.Context) error {
		got = ctx.Value(key{})
		return nil
	}))
	s.Tick(ctx)
	assert.Equal(t, "run", got)
}

func TestTick_UsesLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	// 31 Jan 20:00 UTC is already 1 Feb in Tokyo
	clock := &fakeClock{now: time.Date(2024, 1, 31, 20, 0, 0, 0, time.UTC)}

	var fired int32
	utc, _ := newTestScheduler(t, clock)
	require.NoError(t, utc.Schedule(countingTrigger(&fired, nil)))
	assert.Equal(t, DecisionSkipped, utc.Tick(context.Background()))

	local, _ := newTestScheduler(t, clock, WithLocation(tokyo))
	require.NoError(t, local.Schedule(countingTrigger(&fired, nil)))
	assert.Equal(t, DecisionTriggered, local.Tick(context.Background()))
}

func TestSchedule(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 2, 10, 15, 30, 0, 0, time.UTC)}
	s, _ := newTestScheduler(t, clock)

	assert.True(t, s.NextTick().IsZero())

	var fired int32
	require.NoError(t, s.Schedule(countingTrigger(&fired, nil)))
	want := time.Date(2024, 2, 11, 0, 0, 0, 0, time.UTC)
	assert.True(t, want.Equal(s.NextTick()), "next tick %s", s.NextTick())

	err := s.Schedule(countingTrigger(&fired, nil))
	assert.ErrorIs(t, err, ErrAlreadyScheduled)

	assert.Error(t, s.Schedule(nil))
}

func TestSchedule_InvalidSpec(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	s, _ := newTestScheduler(t, clock, WithSpec("not a spec"))

	var fired int32
	err := s.Schedule(countingTrigger(&fired, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse cron spec")
}

func TestScheduler_StartStop(t *testing.T) {
	if testing.Short() {
		t.Skip("waits on the cron loop")
	}

	// The cron loop ticks every second; the day only fires once.
	clock := &fakeClock{now: time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)}
	s, _ := newTestScheduler(t, clock, WithSpec("@every 1s"), WithPredicate(Always))

	var fired int32
	require.NoError(t, s.Schedule(countingTrigger(&fired, nil)))

	s.Start(context.Background())
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fired) == 1
	}, 3*time.Second, 50*time.Millisecond)
	time.Sleep(1500 * time.Millisecond)

	select {
	case <-s.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}
