// Package scheduler triggers pipeline cycles on a fixed interval and on
// demand through a bounded queue.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/sdr-cli/internal/config"
	"github.com/sells-group/sdr-cli/internal/pipeline"
)

// Runner runs one cycle of the given kind.
type Runner interface {
	RunCycle(ctx context.Context, kind pipeline.Kind) (*pipeline.CycleReport, error)
}

// CycleFailure is published when a queued or scheduled cycle fails.
type CycleFailure struct {
	Kind   pipeline.Kind
	Report *pipeline.CycleReport
	Err    error
	At     time.Time
}

// Config controls the scheduler.
type Config struct {
	Interval   time.Duration
	QueueSize  int
	Workers    int
	RunOnStart bool
}

// ConfigFrom extracts scheduler settings from the application config.
func ConfigFrom(cfg config.SchedulerConfig) Config {
	return Config{
		Interval:   cfg.Interval,
		QueueSize:  cfg.QueueSize,
		RunOnStart: cfg.RunOnStart,
	}
}

// Scheduler submits every cycle kind on each tick and drains on-demand
// submissions with a small worker pool. Submissions never block.
type Scheduler struct {
	runner   Runner
	cfg      Config
	queue    chan pipeline.Kind
	failures chan CycleFailure
}

// New creates a Scheduler.
func New(runner Runner, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 8
	}
	if cfg.Workers <= 0 {
		cfg.Workers = len(pipeline.Kinds())
	}
	return &Scheduler{
		runner:   runner,
		cfg:      cfg,
		queue:    make(chan pipeline.Kind, cfg.QueueSize),
		failures: make(chan CycleFailure, cfg.QueueSize),
	}
}

// Submit queues a cycle without waiting. It returns false when the queue
// is full and the submission was dropped.
func (s *Scheduler) Submit(kind pipeline.Kind) bool {
	select {
	case s.queue <- kind:
		return true
	default:
		zap.L().Warn("scheduler: queue full, dropping cycle", zap.String("kind", string(kind)))
		return false
	}
}

// Failures delivers failed cycles. Failures are dropped when nobody reads.
func (s *Scheduler) Failures() <-chan CycleFailure {
	return s.failures
}

// Start runs the ticker and workers until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	zap.L().Info("scheduler: starting",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("workers", s.cfg.Workers),
	)

	g, gCtx := errgroup.WithContext(ctx)
	for range s.cfg.Workers {
		g.Go(func() error {
			s.work(gCtx)
			return nil
		})
	}
	g.Go(func() error {
		s.tick(gCtx)
		return nil
	})

	err := g.Wait()
	zap.L().Info("scheduler: stopped")
	return err
}

func (s *Scheduler) tick(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	if s.cfg.RunOnStart {
		s.submitAll()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.submitAll()
		}
	}
}

func (s *Scheduler) submitAll() {
	for _, k := range pipeline.Kinds() {
		s.Submit(k)
	}
}

func (s *Scheduler) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case kind := <-s.queue:
			s.run(ctx, kind)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, kind pipeline.Kind) {
	report, err := s.runner.RunCycle(ctx, kind)
	if err == nil && (report == nil || !report.Failed()) {
		return
	}
	f := CycleFailure{Kind: kind, Report: report, Err: err, At: time.Now()}
	select {
	case s.failures <- f:
	default:
		zap.L().Warn("scheduler: failure channel full", zap.String("kind", string(kind)))
	}
}
