package store

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sdr-cli/internal/model"
)

var leadColumns = []string{
	"id", "name", "email", "phone", "age", "role", "company", "industry",
	"experience", "location", "linkedin", "source", "category",
	"preferred_channel", "interests", "status", "checked", "ready_to_meet",
	"lead_score", "insight", "meeting_link", "meeting_date", "version",
	"created_at", "updated_at",
}

var messageColumns = []string{
	"id", "lead_id", "lead_email", "subject", "body", "status",
	"next_touch_at", "version", "created_at", "updated_at",
}

var (
	leadSelect    = strings.Join(leadColumns, ", ")
	messageSelect = strings.Join(messageColumns, ", ")
)

type scannable interface {
	Scan(dest ...any) error
}

// prepareNewLead fills server-assigned fields and checks invariants before
// an insert.
func prepareNewLead(l *model.Lead, now time.Time) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.Status == "" {
		l.Status = model.LeadStatusNew
	}
	l.LeadScore = model.ClampScore(l.LeadScore)
	if err := l.Validate(); err != nil {
		return err
	}
	l.Version = 1
	l.CreatedAt = now
	l.UpdatedAt = now
	return nil
}

func prepareNewMessage(m *model.Message, now time.Time) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.LeadID == "" {
		return eris.New("store: message has no lead id")
	}
	if !m.Status.Valid() {
		return eris.Errorf("store: invalid message status %q", m.Status)
	}
	m.Version = 1
	m.CreatedAt = now
	m.UpdatedAt = now
	return nil
}

func encodeInterests(in []string) ([]byte, error) {
	if in == nil {
		in = []string{}
	}
	b, err := json.Marshal(in)
	return b, eris.Wrap(err, "store: marshal interests")
}

func decodeInterests(b []byte) ([]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal interests")
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
