package textgen

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/rotisserie/eris"
)

// cleanJSON strips markdown fences and surrounding prose from a model
// response, leaving the outermost JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	for _, fence := range []string{"```json", "```"} {
		if strings.HasPrefix(text, fence) {
			text = strings.TrimPrefix(text, fence)
			if idx := strings.LastIndex(text, "```"); idx >= 0 {
				text = text[:idx]
			}
			break
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

type scoreResponse struct {
	LeadScore *float64 `json:"lead_score"`
	Insight   string   `json:"insight"`
}

func parseScore(text string) (*Score, error) {
	var resp scoreResponse
	if err := json.Unmarshal([]byte(cleanJSON(text)), &resp); err != nil {
		return nil, eris.Wrapf(ErrMalformedResponse, "textgen: parse score: %v", err)
	}
	if resp.LeadScore == nil {
		return nil, eris.Wrap(ErrMalformedResponse, "textgen: parse score: missing lead_score")
	}
	// Clamp before converting: out-of-range floats have no defined int value.
	score := math.Round(math.Max(0, math.Min(100, *resp.LeadScore)))
	if math.IsNaN(score) {
		score = 0
	}
	return &Score{
		LeadScore: int(score),
		Insight:   strings.TrimSpace(resp.Insight),
	}, nil
}

type draftResponse struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// parseDraft decodes a draft, filling empty fields from fallback.
func parseDraft(text string, fallback Draft) (*Draft, error) {
	var resp draftResponse
	if err := json.Unmarshal([]byte(cleanJSON(text)), &resp); err != nil {
		return nil, eris.Wrapf(ErrMalformedResponse, "textgen: parse draft: %v", err)
	}
	d := &Draft{
		Subject: strings.TrimSpace(resp.Subject),
		Body:    strings.TrimSpace(resp.Body),
	}
	if d.Subject == "" {
		d.Subject = fallback.Subject
	}
	if d.Body == "" {
		d.Body = fallback.Body
	}
	return d, nil
}
