// internal/services/sweeper.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/checkout-backend/internal/lock"
	"github.com/javajoker/checkout-backend/internal/metrics"
)

const sweepJobName = "reconciliation-sweep"

// Sweeper runs the reconciler's sweep on a fixed interval. With a shared
// locker only one process sweeps per tick.
type Sweeper struct {
	scheduler  gocron.Scheduler
	reconciler *ReconcilerService
	interval   time.Duration
	metrics    *metrics.Metrics
	log        logrus.FieldLogger
}

func NewSweeper(reconciler *ReconcilerService, interval time.Duration, locker lock.Locker, m *metrics.Metrics, log logrus.FieldLogger) (*Sweeper, error) {
	var opts []gocron.SchedulerOption
	if locker != nil {
		opts = append(opts, gocron.WithDistributedLocker(&sweepLocker{locker: locker, ttl: interval}))
	}

	sched, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	s := &Sweeper{
		scheduler:  sched,
		reconciler: reconciler,
		interval:   interval,
		metrics:    m,
		log:        log,
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.run),
		gocron.WithName(sweepJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule sweep: %w", err)
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.log.WithField("interval", s.interval.String()).Info("Reconciliation sweeper started")
	s.scheduler.Start()
}

func (s *Sweeper) Shutdown() error {
	return s.scheduler.Shutdown()
}

// RunOnce sweeps immediately, outside the schedule.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepReport, error) {
	report, err := s.reconciler.Sweep(ctx)
	if purged := s.reconciler.purchases.PurgeExpired(); purged > 0 {
		s.log.WithField("entries", purged).Debug("Purged expired cache entries")
	}
	switch {
	case err != nil:
		s.metrics.Sweep("error")
	case report.Errors > 0:
		s.metrics.Sweep("partial")
	default:
		s.metrics.Sweep("ok")
	}
	return report, err
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	if _, err := s.RunOnce(ctx); err != nil {
		s.log.WithError(err).Error("Reconciliation sweep failed")
	}
}

// sweepLocker lets gocron take the checkout locker as its distributed lock.
type sweepLocker struct {
	locker lock.Locker
	ttl    time.Duration
}

func (l *sweepLocker) Lock(ctx context.Context, key string) (gocron.Lock, error) {
	lk, err := l.locker.Obtain(ctx, "sweep:"+key, l.ttl)
	if err != nil {
		return nil, err
	}
	return &sweepLock{lock: lk}, nil
}

type sweepLock struct {
	lock lock.Lock
}

func (l *sweepLock) Unlock(ctx context.Context) error {
	return l.lock.Release(ctx)
}
