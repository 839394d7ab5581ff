package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Kind selects which stage sequence a cycle runs.
type Kind string

const (
	// KindNewLeads runs Enrich, Draft then Dispatch.
	KindNewLeads Kind = "new-leads"
	// KindExistingLeads runs Promote, FollowUp then Dispatch.
	KindExistingLeads Kind = "existing-leads"
)

// Kinds returns every cycle kind.
func Kinds() []Kind {
	return []Kind{KindNewLeads, KindExistingLeads}
}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", eris.Errorf("pipeline: unknown cycle kind %q", s)
}

// CycleReport describes one cycle. Skipped is set when a cycle of the same
// kind was already running.
type CycleReport struct {
	Kind       Kind          `json:"kind"`
	StartedAt  time.Time     `json:"started_at"`
	DurationMs int64         `json:"duration_ms"`
	Skipped    bool          `json:"skipped"`
	Stages     []StageResult `json:"stages,omitempty"`
	Err        string        `json:"error,omitempty"`
}

// Failed reports whether a stage failed and cut the cycle short.
func (r *CycleReport) Failed() bool {
	return r.Err != ""
}

type stage struct {
	name string
	run  func(ctx context.Context) (StageResult, error)
}

// Orchestrator runs cycles with at most one in flight per kind. The two
// kinds do not exclude each other.
type Orchestrator struct {
	stages  map[Kind][]stage
	running map[Kind]*atomic.Bool
	timeout time.Duration

	mu   sync.Mutex
	last map[Kind]CycleReport
}

// NewOrchestrator wires the pipeline stages into the two cycle kinds.
// timeout bounds a whole cycle; zero disables it.
func NewOrchestrator(p *Pipeline, timeout time.Duration) *Orchestrator {
	return newOrchestrator(map[Kind][]stage{
		KindNewLeads: {
			{StageEnrich, p.Enrich},
			{StageDraft, p.Draft},
			{StageDispatch, p.Dispatch},
		},
		KindExistingLeads: {
			{StagePromote, p.Promote},
			{StageFollowUp, p.FollowUp},
			{StageDispatch, p.Dispatch},
		},
	}, timeout)
}

func newOrchestrator(stages map[Kind][]stage, timeout time.Duration) *Orchestrator {
	running := make(map[Kind]*atomic.Bool, len(stages))
	for k := range stages {
		running[k] = new(atomic.Bool)
	}
	return &Orchestrator{
		stages:  stages,
		running: running,
		timeout: timeout,
		last:    make(map[Kind]CycleReport),
	}
}

// RunCycle runs the stages of kind in order. If a cycle of that kind is
// already running it returns a skipped report immediately. A stage failure
// stops the cycle and is recorded in the report; the returned error is
// only set for an unknown kind.
func (o *Orchestrator) RunCycle(ctx context.Context, kind Kind) (*CycleReport, error) {
	flag, ok := o.running[kind]
	if !ok {
		return nil, eris.Errorf("pipeline: unknown cycle kind %q", kind)
	}

	log := zap.L().With(zap.String("kind", string(kind)))
	report := &CycleReport{Kind: kind, StartedAt: time.Now()}

	if !flag.CompareAndSwap(false, true) {
		log.Info("pipeline: cycle already running, skipping")
		report.Skipped = true
		return report, nil
	}
	defer flag.Store(false)

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	log.Info("pipeline: cycle starting")
	for _, s := range o.stages[kind] {
		res, err := runStage(ctx, s)
		res.Name = s.name
		report.Stages = append(report.Stages, res)
		if err != nil {
			report.Err = err.Error()
			log.Error("pipeline: cycle aborted", zap.String("stage", s.name), zap.Error(err))
			break
		}
	}
	report.DurationMs = time.Since(report.StartedAt).Milliseconds()
	log.Info("pipeline: cycle finished",
		zap.Int64("duration_ms", report.DurationMs),
		zap.Bool("failed", report.Failed()),
	)

	o.mu.Lock()
	o.last[kind] = *report
	o.mu.Unlock()

	return report, nil
}

// runStage converts a panic inside a stage into a stage failure.
func runStage(ctx context.Context, s stage) (res StageResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("pipeline: stage %s panicked: %v", s.name, r)
			res.Error = err.Error()
		}
	}()
	return s.run(ctx)
}

// Running reports whether a cycle of kind is in flight.
func (o *Orchestrator) Running(kind Kind) bool {
	flag, ok := o.running[kind]
	return ok && flag.Load()
}

// TriggerNewLeadCycle runs a new-leads cycle unless one is in flight.
func (o *Orchestrator) TriggerNewLeadCycle(ctx context.Context) *CycleReport {
	report, _ := o.RunCycle(ctx, KindNewLeads)
	return report
}

// TriggerExistingLeadCycle runs an existing-leads cycle unless one is in
// flight.
func (o *Orchestrator) TriggerExistingLeadCycle(ctx context.Context) *CycleReport {
	report, _ := o.RunCycle(ctx, KindExistingLeads)
	return report
}

// LastReports returns the most recent completed report per kind.
func (o *Orchestrator) LastReports() map[Kind]CycleReport {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[Kind]CycleReport, len(o.last))
	for k, r := range o.last {
		out[k] = r
	}
	return out
}
