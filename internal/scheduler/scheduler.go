// Package scheduler runs the engine's periodic maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// TaskFunc is one run of a job.
type TaskFunc func(ctx context.Context) error

type Scheduler struct {
	scheduler gocron.Scheduler
}

func New() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{scheduler: s}, nil
}

func (s *Scheduler) Start() {
	s.scheduler.Start()
}

func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}

// Every registers fn to run every interval. A run that is still going when
// the next one is due makes the next one wait for the following slot.
func (s *Scheduler) Every(name string, interval time.Duration, fn TaskFunc, startImmediately bool) error {
	opts := []gocron.JobOption{
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if startImmediately {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}

	if _, err := s.scheduler.NewJob(gocron.DurationJob(interval), gocron.NewTask(wrap(name, fn)), opts...); err != nil {
		return fmt.Errorf("create job %q: %w", name, err)
	}
	return nil
}

// wrap logs each run and keeps a panicking job from taking the process down.
func wrap(name string, fn TaskFunc) func(ctx context.Context) {
	return func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic recovered in scheduler job",
					"job", name,
					"panic", r,
					"stacktrace", string(debug.Stack()),
				)
			}
		}()

		start := time.Now()
		if err := fn(ctx); err != nil {
			slog.Error("job failed", "job", name, "err", err)
			return
		}
		slog.Debug("job completed", "job", name, "elapsed", time.Since(start))
	}
}

// OrphanScanner is the engine operation the orphan job runs.
type OrphanScanner interface {
	ScanOrphans(ctx context.Context) (int, error)
}

// OrphanScan returns a task that scans every ledger for orphaned entries.
func OrphanScan(e OrphanScanner) TaskFunc {
	return func(ctx context.Context) error {
		n, err := e.ScanOrphans(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			slog.Warn("orphan scan found entries without a structure", "count", n)
		}
		return nil
	}
}
