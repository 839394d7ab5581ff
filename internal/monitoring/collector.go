// Package monitoring reports pipeline health and raises webhook alerts.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sdr-cli/internal/model"
	"github.com/sells-group/sdr-cli/internal/pipeline"
	"github.com/sells-group/sdr-cli/internal/store"
)

// Snapshot holds a point-in-time view of the lead lifecycle.
type Snapshot struct {
	Leads    map[model.LeadStatus]int    `json:"leads"`
	Messages map[model.MessageStatus]int `json:"messages"`

	// PendingBacklog is the number of messages awaiting dispatch.
	PendingBacklog int `json:"pending_backlog"`
	// DueFollowUps is the number of sent messages inside the follow-up
	// lookahead window.
	DueFollowUps int `json:"due_follow_ups"`

	Cycles   map[pipeline.Kind]pipeline.CycleReport `json:"cycles"`
	Breakers map[string]string                      `json:"breakers,omitempty"`

	CollectedAt time.Time `json:"collected_at"`
}

// ReportSource exposes the latest cycle report per kind.
type ReportSource interface {
	LastReports() map[pipeline.Kind]pipeline.CycleReport
}

// BreakerSource exposes circuit breaker states by service.
type BreakerSource interface {
	States() map[string]string
}

// Collector gathers a Snapshot from the store and the orchestrator.
type Collector struct {
	store     store.Store
	reports   ReportSource
	breakers  BreakerSource
	lookahead time.Duration
	now       func() time.Time
}

// NewCollector creates a Collector. reports and breakers may be nil.
func NewCollector(st store.Store, reports ReportSource, breakers BreakerSource, lookahead time.Duration) *Collector {
	if lookahead <= 0 {
		lookahead = 24 * time.Hour
	}
	return &Collector{
		store:     st,
		reports:   reports,
		breakers:  breakers,
		lookahead: lookahead,
		now:       time.Now,
	}
}

// Collect gathers a snapshot.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		Cycles:      map[pipeline.Kind]pipeline.CycleReport{},
		CollectedAt: now,
	}

	leads, err := c.store.CountLeadsByStatus(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count leads")
	}
	snap.Leads = leads

	msgs, err := c.store.CountMessagesByStatus(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count messages")
	}
	snap.Messages = msgs
	snap.PendingBacklog = msgs[model.MessageStatusPending]

	due, err := c.store.FindMessagesDue(ctx, now.Add(c.lookahead))
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: find messages due")
	}
	snap.DueFollowUps = len(due)

	if c.reports != nil {
		snap.Cycles = c.reports.LastReports()
	}
	if c.breakers != nil {
		snap.Breakers = c.breakers.States()
	}
	return snap, nil
}
