// Package pipeline runs the lead lifecycle: enrichment, first-contact
// drafting, dispatch, follow-up promotion and follow-up drafting.
package pipeline

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/sdr-cli/internal/config"
	"github.com/sells-group/sdr-cli/internal/mailer"
	"github.com/sells-group/sdr-cli/internal/store"
	"github.com/sells-group/sdr-cli/internal/textgen"
)

// Stage names used in logs and reports.
const (
	StageEnrich   = "enrich"
	StageDraft    = "draft"
	StageDispatch = "dispatch"
	StagePromote  = "promote"
	StageFollowUp = "follow_up"
)

// Config controls stage paging and follow-up timing.
type Config struct {
	PageSize          int
	FollowUpInterval  time.Duration
	FollowUpLookahead time.Duration
	PublicURL         string
}

// ConfigFrom extracts the pipeline settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		PageSize:          cfg.Pipeline.PageSize,
		FollowUpInterval:  cfg.Pipeline.FollowUpInterval,
		FollowUpLookahead: cfg.Pipeline.FollowUpLookahead,
		PublicURL:         cfg.App.PublicURL,
	}
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = 20
	}
	if c.FollowUpInterval <= 0 {
		c.FollowUpInterval = 48 * time.Hour
	}
	if c.FollowUpLookahead <= 0 {
		c.FollowUpLookahead = 24 * time.Hour
	}
	return c
}

// StageResult summarizes one stage run.
type StageResult struct {
	Name       string `json:"name"`
	Selected   int    `json:"selected"`
	Processed  int    `json:"processed"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Pipeline holds the collaborators shared by all stages. Items within a
// stage are processed one at a time.
type Pipeline struct {
	cfg      Config
	leads    store.LeadStore
	messages store.MessageStore
	gen      textgen.Generator
	mail     mailer.Transport
	now      func() time.Time

	// dispatchMu serializes dispatch across cycle kinds so a pending
	// message is selected by one run only.
	dispatchMu sync.Mutex
}

// New creates a Pipeline.
func New(cfg Config, st store.Store, gen textgen.Generator, mail mailer.Transport) *Pipeline {
	return &Pipeline{
		cfg:      cfg.withDefaults(),
		leads:    st,
		messages: st,
		gen:      gen,
		mail:     mail,
		now:      time.Now,
	}
}

// meetingLink is the confirmation URL a lead follows to request a meeting.
func (p *Pipeline) meetingLink(leadID string) string {
	return fmt.Sprintf("%s/meeting/ready/%s", strings.TrimRight(p.cfg.PublicURL, "/"), leadID)
}

// withMeetingLink appends the confirmation link to an HTML body. Plain-text
// bodies, such as the fallbacks, are wrapped in a paragraph first.
func (p *Pipeline) withMeetingLink(body, leadID string) string {
	body = strings.TrimSpace(body)
	if !strings.HasPrefix(body, "<") {
		body = "<p>" + html.EscapeString(body) + "</p>"
	}
	return fmt.Sprintf(`%s<p>If you'd like to discuss further, please <a href="%s">confirm here</a>.</p>`,
		body, html.EscapeString(p.meetingLink(leadID)))
}

// track runs a stage and logs its summary.
func track(ctx context.Context, name string, fn func(ctx context.Context) (StageResult, error)) (StageResult, error) {
	start := time.Now()
	res, err := fn(ctx)
	res.Name = name
	res.DurationMs = time.Since(start).Milliseconds()

	fields := []zap.Field{
		zap.String("stage", name),
		zap.Int("selected", res.Selected),
		zap.Int("processed", res.Processed),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
		zap.Int64("duration_ms", res.DurationMs),
	}
	if err != nil {
		res.Error = err.Error()
		zap.L().Error("pipeline: stage failed", append(fields, zap.Error(err))...)
		return res, err
	}
	zap.L().Info("pipeline: stage complete", fields...)
	return res, nil
}
