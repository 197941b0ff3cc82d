// Package jobs runs periodic maintenance work next to the HTTP server.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidJob reports a job without a name, interval or body.
var ErrInvalidJob = errors.New("jobs: invalid job")

// Job is a unit of periodic work. Run errors are logged and the job runs again
// on the next tick.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs every registered job on its own ticker.
type Scheduler struct {
	jobs   []Job
	logger *zap.Logger
}

// NewScheduler validates jobs and returns a Scheduler.
func NewScheduler(logger *zap.Logger, jobs ...Job) (*Scheduler, error) {
	for _, job := range jobs {
		if job.Name == "" || job.Interval <= 0 || job.Run == nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidJob, job.Name)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{jobs: jobs, logger: logger.Named("jobs")}, nil
}

// Run blocks until ctx is cancelled. A panicking job stops the scheduler and
// its error is returned.
func (scheduler *Scheduler) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, job := range scheduler.jobs {
		group.Go(func() error {
			return scheduler.loop(groupCtx, job)
		})
	}
	return group.Wait()
}

func (scheduler *Scheduler) loop(ctx context.Context, job Job) error {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	scheduler.logger.Info("job scheduled", zap.String("job", job.Name), zap.Duration("interval", job.Interval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := scheduler.runOnce(ctx, job); err != nil {
				return err
			}
		}
	}
}

func (scheduler *Scheduler) runOnce(ctx context.Context, job Job) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			scheduler.logger.Error("job panicked", zap.String("job", job.Name), zap.Any("panic", recovered))
			err = fmt.Errorf("job %s panicked: %v", job.Name, recovered)
		}
	}()
	started := time.Now()
	if runErr := job.Run(ctx); runErr != nil {
		if ctx.Err() != nil {
			return nil
		}
		scheduler.logger.Error("job failed", zap.String("job", job.Name), zap.Duration("elapsed", time.Since(started)), zap.Error(runErr))
		return nil
	}
	scheduler.logger.Debug("job finished", zap.String("job", job.Name), zap.Duration("elapsed", time.Since(started)))
	return nil
}
