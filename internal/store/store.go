package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sdr-cli/internal/model"
)

var (
	// ErrNotFound is returned when a lead or message does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrVersionConflict is returned when a save loses an optimistic
	// concurrency race with another writer.
	ErrVersionConflict = eris.New("store: version conflict")
	// ErrDuplicate is returned when a write violates a unique constraint
	// (lead email or phone, one message per lead).
	ErrDuplicate = eris.New("store: duplicate")
)

// LeadFilter narrows FindLeadsByStatus. Nil fields are not applied.
type LeadFilter struct {
	Checked *bool `json:"checked,omitempty"`
	// MessageStatus keeps leads whose message has this status.
	MessageStatus *model.MessageStatus `json:"message_status,omitempty"`
}

// Checked is a convenience for building a LeadFilter on the checked flag.
func Checked(v bool) LeadFilter {
	return LeadFilter{Checked: &v}
}

// WithMessageStatus returns a copy of f that also requires the lead's
// message to have status st.
func (f LeadFilter) WithMessageStatus(st model.MessageStatus) LeadFilter {
	f.MessageStatus = &st
	return f
}

// LeadStore persists leads.
type LeadStore interface {
	FindLeadsNeedingEnrichment(ctx context.Context, limit int) ([]model.Lead, error)
	FindLeadsByStatus(ctx context.Context, status model.LeadStatus, filter LeadFilter, limit int) ([]model.Lead, error)
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	SaveLead(ctx context.Context, lead *model.Lead) error
	CreateLead(ctx context.Context, lead *model.Lead) error
	InsertLeads(ctx context.Context, leads []model.Lead) (int, error)
	ListLeadEmails(ctx context.Context, emails []string) ([]string, error)
	CountLeadsByStatus(ctx context.Context) (map[model.LeadStatus]int, error)
}

// MessageStore persists outreach messages.
type MessageStore interface {
	FindMessagesByStatus(ctx context.Context, status model.MessageStatus, limit int) ([]model.Message, error)
	FindMessagesDue(ctx context.Context, cutoff time.Time) ([]model.Message, error)
	FindMessageByLead(ctx context.Context, leadID string) (*model.Message, error)
	CreateMessage(ctx context.Context, msg *model.Message) error
	SaveMessage(ctx context.Context, msg *model.Message) error
	CountMessagesByStatus(ctx context.Context) (map[model.MessageStatus]int, error)
}

// Store defines the persistence interface for the lead lifecycle.
type Store interface {
	LeadStore
	MessageStore

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
