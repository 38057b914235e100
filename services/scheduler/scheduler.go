package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/pkg/errors"

	"github.com/nithadya/classsync/core"
	"github.com/nithadya/classsync/core/points"
)

// Reconciler is implemented by points.Service.
type Reconciler interface {
	Reconcile(ctx context.Context, repair bool) ([]points.Mismatch, error)
}

// Scheduler runs the periodic score reconciliation.
type Scheduler struct {
	scheduler  *gocron.Scheduler
	reconciler Reconciler
	logger     core.Logger
	interval   time.Duration
	timeout    time.Duration
}

func New(reconciler Reconciler, logger core.Logger, conf *core.Config) *Scheduler {
	interval := conf.Points.ReconcileInterval
	timeout := interval
	if timeout <= 0 || timeout > 10*time.Minute {
		timeout = 10 * time.Minute
	}
	return &Scheduler{
		scheduler:  gocron.NewScheduler(time.UTC),
		reconciler: reconciler,
		logger:     logger,
		interval:   interval,
		timeout:    timeout,
	}
}

// Start schedules the reconcile job and returns immediately.
// A zero interval disables the job.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		s.logger.Info("score reconciliation disabled")
		return nil
	}
	s.scheduler.SingletonModeAll()
	if _, err := s.scheduler.Every(s.interval).WaitForSchedule().Do(s.reconcile); err != nil {
		return errors.Wrap(err, "scheduling score reconciliation")
	}
	s.scheduler.StartAsync()
	s.logger.Info(fmt.Sprintf("score reconciliation every %s", s.interval))
	return nil
}

func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

func (s *Scheduler) reconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	mismatches, err := s.reconciler.Reconcile(ctx, true)
	if err != nil {
		s.logger.Error("reconciling scores: "+err.Error(), err)
		return
	}
	if len(mismatches) > 0 {
		s.logger.Warn(fmt.Sprintf("repaired %d scores", len(mismatches)))
	}
}
