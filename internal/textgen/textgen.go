// Package textgen scores leads and drafts outreach email with the Anthropic
// API.
package textgen

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sdr-cli/internal/model"
	"github.com/sells-group/sdr-cli/internal/resilience"
	"github.com/sells-group/sdr-cli/pkg/anthropic"
)

// ErrMalformedResponse is returned when the model output cannot be parsed.
var ErrMalformedResponse = eris.New("textgen: malformed response")

// Score is the enrichment result for a lead.
type Score struct {
	LeadScore int    `json:"lead_score"`
	Insight   string `json:"insight"`
}

// Draft is a generated email.
type Draft struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// FirstContactFallback is used when a first-contact draft cannot be generated.
func FirstContactFallback() Draft {
	return Draft{
		Subject: "Hello from Our Company",
		Body:    "Hi, we wanted to connect and explore potential opportunities.",
	}
}

// FollowUpFallback is used when a follow-up draft cannot be generated.
func FollowUpFallback() Draft {
	return Draft{
		Subject: "Following Up on My Previous Email",
		Body:    "Just checking in to see if you had a chance to review my previous message.",
	}
}

// Generator produces scores and drafts for leads.
type Generator interface {
	ScoreLead(ctx context.Context, p model.Profile) (*Score, error)
	DraftFirstContact(ctx context.Context, p model.Profile) (*Draft, error)
	DraftFollowUp(ctx context.Context, p model.Profile) (*Draft, error)
}

// Config configures the Anthropic-backed generator.
type Config struct {
	Model      string
	MaxTokens  int64
	SenderName string
}

// Service implements Generator on top of an anthropic.Client.
type Service struct {
	client anthropic.Client
	cfg    Config
	guard  *resilience.Guard
}

// New creates a Service. guard may be nil to call the client directly.
func New(client anthropic.Client, cfg Config, guard *resilience.Guard) *Service {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.SenderName == "" {
		cfg.SenderName = "Our Company"
	}
	return &Service{client: client, cfg: cfg, guard: guard}
}

// ScoreLead asks the model for a lead score and insight.
func (s *Service) ScoreLead(ctx context.Context, p model.Profile) (*Score, error) {
	text, err := s.complete(ctx, "score", p.LeadID,
		fmt.Sprintf(scoreSystemPrompt, s.cfg.SenderName),
		fmt.Sprintf(scoreUserPrompt, renderProfile(p, false)),
		0.2,
	)
	if err != nil {
		return nil, err
	}
	return parseScore(text)
}

// DraftFirstContact writes the first outreach email for a lead.
func (s *Service) DraftFirstContact(ctx context.Context, p model.Profile) (*Draft, error) {
	text, err := s.complete(ctx, "draft_first_contact", p.LeadID,
		fmt.Sprintf(draftSystemPrompt, s.cfg.SenderName),
		fmt.Sprintf(firstContactPrompt, s.cfg.SenderName, s.cfg.SenderName, renderProfile(p, true)),
		0.7,
	)
	if err != nil {
		return nil, err
	}
	return parseDraft(text, FirstContactFallback())
}

// DraftFollowUp writes a follow-up email for a lead that has not replied.
func (s *Service) DraftFollowUp(ctx context.Context, p model.Profile) (*Draft, error) {
	text, err := s.complete(ctx, "draft_follow_up", p.LeadID,
		fmt.Sprintf(draftSystemPrompt, s.cfg.SenderName),
		fmt.Sprintf(followUpPrompt, s.cfg.SenderName, renderProfile(p, true)),
		0.7,
	)
	if err != nil {
		return nil, err
	}
	return parseDraft(text, FollowUpFallback())
}

func (s *Service) complete(ctx context.Context, operation, leadID, system, prompt string, temperature float64) (string, error) {
	req := anthropic.MessageRequest{
		Model:       s.cfg.Model,
		MaxTokens:   s.cfg.MaxTokens,
		System:      system,
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temperature,
	}

	call := func(ctx context.Context) (*anthropic.MessageResponse, error) {
		resp, err := s.client.CreateMessage(ctx, req)
		if err != nil {
			if code := anthropic.StatusCode(err); resilience.IsTransientHTTPStatus(code) {
				return nil, resilience.NewTransientError(err, code)
			}
			return nil, err
		}
		return resp, nil
	}

	var resp *anthropic.MessageResponse
	var err error
	if s.guard != nil {
		resp, err = resilience.Call(ctx, s.guard, operation, call)
	} else {
		resp, err = call(ctx)
	}
	if err != nil {
		return "", eris.Wrapf(err, "textgen: %s", operation)
	}

	resp.Usage.LogCost(s.cfg.Model, operation, leadID)
	text := resp.Text()
	if text == "" {
		zap.L().Warn("textgen: empty response",
			zap.String("operation", operation),
			zap.String("lead_id", leadID),
			zap.String("stop_reason", resp.StopReason),
		)
	}
	return text, nil
}
