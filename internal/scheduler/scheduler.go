// Package scheduler drives the three interleaved periodic jobs — discover,
// reschedule, dispatch-due — plus a heartbeat tick, each on its own timer
// with an independent reentrancy guard and consecutive-failure backoff.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tummerk/video-stats/internal/enrich"
	"github.com/tummerk/video-stats/internal/log"
	"github.com/tummerk/video-stats/internal/store"
	"github.com/tummerk/video-stats/internal/upstream"
)

const maxConsecutiveFailures = 5

// Config holds the four job cadences and the tuning knobs named in the
// environment table.
type Config struct {
	DiscoverInterval   time.Duration
	RescheduleInterval time.Duration
	DispatchInterval   time.Duration
	HeartbeatInterval  time.Duration
	ReelsLimit         int
	DispatchBatchSize  int
	InterAccountDelay  time.Duration
	InterMetricDelay   time.Duration
	WorkerName         string
}

// DefaultConfig returns production cadences per the environment table
// defaults, with test-mode compression left to the caller (config.Load).
func DefaultConfig() Config {
	return Config{
		DiscoverInterval:   6 * time.Hour,
		RescheduleInterval: time.Hour,
		DispatchInterval:   time.Minute,
		HeartbeatInterval:  30 * time.Second,
		ReelsLimit:         50,
		DispatchBatchSize:  20,
		InterAccountDelay:  10 * time.Second,
		InterMetricDelay:   500 * time.Millisecond,
		WorkerName:         "video-stats-worker",
	}
}

// Scheduler owns the four job loops, each running in its own goroutine.
type Scheduler struct {
	store    *store.Store
	upstream upstream.Client
	enricher *enrich.Enricher
	cfg      Config
	clock    Clock
	logger   zerolog.Logger

	jobs []*jobState
	wg   sync.WaitGroup
}

type jobState struct {
	name       string
	interval   func(cfg Config) time.Duration
	run        func(s *Scheduler, ctx context.Context) error
	running    atomic.Bool
	failures   atomic.Int32
	pauseTicks atomic.Int32
}

// New builds a Scheduler against its three collaborators and a cadence
// configuration. The upstream client is expected to already be
// authenticated by the caller's bootstrap sequence before Start runs.
func New(st *store.Store, up upstream.Client, enricher *enrich.Enricher, cfg Config) *Scheduler {
	s := &Scheduler{
		store:    st,
		upstream: up,
		enricher: enricher,
		cfg:      cfg,
		clock:    RealClock{},
		logger:   log.WithComponent("scheduler"),
	}
	s.jobs = []*jobState{
		{name: "discover", interval: func(c Config) time.Duration { return c.DiscoverInterval }, run: (*Scheduler).runDiscover},
		{name: "reschedule", interval: func(c Config) time.Duration { return c.RescheduleInterval }, run: (*Scheduler).runReschedule},
		{name: "dispatch-due", interval: func(c Config) time.Duration { return c.DispatchInterval }, run: (*Scheduler).runDispatchDue},
		{name: "heartbeat", interval: func(c Config) time.Duration { return c.HeartbeatInterval }, run: (*Scheduler).runHeartbeat},
	}
	return s
}

// WithClock overrides the production clock, for tests.
func (s *Scheduler) WithClock(c Clock) *Scheduler {
	s.clock = c
	return s
}

// Start launches one goroutine per job. It returns immediately; jobs stop
// when ctx is cancelled. Start also launches the periodic lease reaper.
func (s *Scheduler) Start(ctx context.Context) {
	for _, j := range s.jobs {
		job := j
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runJobLoop(ctx, job)
		}()
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runPeriodicReaper(ctx)
	}()
}

// Shutdown waits for all job goroutines to observe ctx cancellation and
// return. The caller is responsible for cancelling ctx first.
func (s *Scheduler) Shutdown() {
	s.wg.Wait()
}

func (s *Scheduler) runJobLoop(ctx context.Context, job *jobState) {
	interval := job.interval(s.cfg)
	timer := s.clock.NewTimer(interval)
	defer timer.Stop()

	logger := s.logger.With().Str("job", job.name).Logger()
	logger.Info().Dur("interval", interval).Msg("job loop started")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("job loop stopping")
			return
		case <-timer.C():
			timer.Reset(job.interval(s.cfg))

			if job.pauseTicks.Load() > 0 {
				job.pauseTicks.Add(-1)
				logger.Warn().Msg("tick skipped, job paused after repeated failures")
				continue
			}

			if !job.running.CompareAndSwap(false, true) {
				jobSkippedTotal.WithLabelValues(job.name).Inc()
				logger.Info().Msg("tick skipped, previous invocation still running")
				continue
			}

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer job.running.Store(false)
				s.runOnce(ctx, job, logger)
			}()
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job *jobState, logger zerolog.Logger) {
	start := time.Now()
	err := s.runWithRecover(ctx, job)
	duration := time.Since(start)
	jobDuration.WithLabelValues(job.name).Observe(duration.Seconds())

	if err != nil {
		failures := job.failures.Add(1)
		jobConsecutiveFailures.WithLabelValues(job.name).Set(float64(failures))
		jobRunsTotal.WithLabelValues(job.name, "error").Inc()
		logger.Error().Err(err).Int32("consecutive_failures", failures).Dur("duration", duration).Msg("job run failed")

		if failures > maxConsecutiveFailures {
			job.pauseTicks.Store(1)
			logger.Warn().Int32("consecutive_failures", failures).Msg("pausing job for one interval after repeated failures")
		}
		return
	}

	job.failures.Store(0)
	jobConsecutiveFailures.WithLabelValues(job.name).Set(0)
	jobRunsTotal.WithLabelValues(job.name, "success").Inc()
	logger.Debug().Dur("duration", duration).Msg("job run completed")
}

func (s *Scheduler) runWithRecover(ctx context.Context, job *jobState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("job", job.name).Interface("panic", r).Msg("job panicked, recovered")
			err = errPanic
		}
	}()
	return job.run(s, ctx)
}

var errPanic = panicError{}

type panicError struct{}

func (panicError) Error() string { return "job panicked" }

func (s *Scheduler) runPeriodicReaper(ctx context.Context) {
	interval := 10 * s.cfg.DispatchInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	timer := s.clock.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C():
			timer.Reset(interval)
			s.reapOnce(ctx, "periodic")
		}
	}
}

// ReapStaleLeasesOnStartup runs the lease reaper once, synchronously,
// before the scheduler's job loops start. Call it from bootstrap so a
// crash between claim and release does not strand a schedule in 'running'
// for up to lease_timeout before the first periodic sweep.
func (s *Scheduler) ReapStaleLeasesOnStartup(ctx context.Context) error {
	return s.reapOnce(ctx, "startup")
}

func (s *Scheduler) reapOnce(ctx context.Context, trigger string) error {
	leaseTimeout := 10 * s.cfg.DispatchInterval
	if leaseTimeout <= 0 {
		leaseTimeout = 10 * time.Minute
	}
	olderThan := s.clock.Now().Add(-leaseTimeout)

	count, err := s.store.ReapExpiredLeases(ctx, olderThan)
	if err != nil {
		s.logger.Error().Err(err).Str("trigger", trigger).Msg("lease reap failed")
		return err
	}
	if count > 0 {
		reapedLeasesTotal.WithLabelValues(trigger).Add(float64(count))
		s.logger.Info().Int64("count", count).Str("trigger", trigger).Msg("reclaimed stale leases")
	}
	return nil
}
