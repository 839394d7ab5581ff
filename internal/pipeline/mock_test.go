package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/sells-group/sdr-cli/internal/model"
	"github.com/sells-group/sdr-cli/internal/store"
	"github.com/sells-group/sdr-cli/internal/textgen"
)

// --- Generator Mock ---

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) ScoreLead(ctx context.Context, p model.Profile) (*textgen.Score, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*textgen.Score), args.Error(1)
}

func (m *mockGenerator) DraftFirstContact(ctx context.Context, p model.Profile) (*textgen.Draft, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*textgen.Draft), args.Error(1)
}

func (m *mockGenerator) DraftFollowUp(ctx context.Context, p model.Profile) (*textgen.Draft, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*textgen.Draft), args.Error(1)
}

// --- Transport Mock ---

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Send(ctx context.Context, to, subject, htmlBody string) error {
	args := m.Called(ctx, to, subject, htmlBody)
	return args.Error(0)
}

// --- In-memory store ---

// memStore is a minimal store.Store with the same selection and version
// semantics as the SQL stores.
type memStore struct {
	mu       sync.Mutex
	leads    map[string]*model.Lead
	messages map[string]*model.Message

	findErr   error
	saveLeadF func(l *model.Lead) error
	creates   int
}

var _ store.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		leads:    make(map[string]*model.Lead),
		messages: make(map[string]*model.Message),
	}
}

func (s *memStore) addLead(l model.Lead) *model.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Status == "" {
		l.Status = model.LeadStatusNew
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().Add(time.Duration(len(s.leads)) * time.Millisecond)
	}
	l.Version = 1
	cp := l
	s.leads[l.ID] = &cp
	return &cp
}

func (s *memStore) addMessage(m model.Message) *model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.Version = 1
	cp := m
	s.messages[m.ID] = &cp
	return &cp
}

func (s *memStore) lead(id string) model.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.leads[id]
}

func (s *memStore) messageFor(leadID string) *model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.LeadID == leadID {
			cp := *m
			return &cp
		}
	}
	return nil
}

func (s *memStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *memStore) sortedLeads(keep func(*model.Lead) bool, limit int) []model.Lead {
	var out []model.Lead
	for _, l := range s.leads {
		if keep(l) {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *memStore) FindLeadsNeedingEnrichment(_ context.Context, limit int) ([]model.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.sortedLeads(func(l *model.Lead) bool { return l.NeedsEnrichment() }, limit), nil
}

func (s *memStore) FindLeadsByStatus(_ context.Context, status model.LeadStatus, f store.LeadFilter, limit int) ([]model.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.sortedLeads(func(l *model.Lead) bool {
		if l.Status != status {
			return false
		}
		if f.Checked != nil && *f.Checked != l.Checked {
			return false
		}
		return f.MessageStatus == nil || s.hasMessage(l.ID, *f.MessageStatus)
	}, limit), nil
}

// hasMessage must be called with s.mu held.
func (s *memStore) hasMessage(leadID string, status model.MessageStatus) bool {
	for _, m := range s.messages {
		if m.LeadID == leadID && m.Status == status {
			return true
		}
	}
	return false
}

func (s *memStore) GetLead(_ context.Context, id string) (*model.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *memStore) SaveLead(_ context.Context, l *model.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveLeadF != nil {
		if err := s.saveLeadF(l); err != nil {
			return err
		}
	}
	cur, ok := s.leads[l.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != l.Version {
		return store.ErrVersionConflict
	}
	l.LeadScore = model.ClampScore(l.LeadScore)
	l.Version++
	cp := *l
	s.leads[l.ID] = &cp
	return nil
}

func (s *memStore) CreateLead(_ context.Context, l *model.Lead) error {
	s.addLead(*l)
	return nil
}

func (s *memStore) InsertLeads(_ context.Context, leads []model.Lead) (int, error) {
	for _, l := range leads {
		s.addLead(l)
	}
	return len(leads), nil
}

func (s *memStore) ListLeadEmails(context.Context, []string) ([]string, error) {
	return nil, nil
}

func (s *memStore) CountLeadsByStatus(context.Context) (map[model.LeadStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[model.LeadStatus]int)
	for _, l := range s.leads {
		out[l.Status]++
	}
	return out, nil
}

func (s *memStore) FindMessagesByStatus(_ context.Context, status model.MessageStatus, limit int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	var out []model.Message
	for _, m := range s.messages {
		if m.Status == status {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) FindMessagesDue(_ context.Context, cutoff time.Time) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	var out []model.Message
	for _, m := range s.messages {
		if m.Status == model.MessageStatusSent && m.NextTouchAt != nil && !m.NextTouchAt.After(cutoff) {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *memStore) FindMessageByLead(_ context.Context, leadID string) (*model.Message, error) {
	return s.messageFor(leadID), nil
}

func (s *memStore) CreateMessage(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.messages {
		if existing.LeadID == m.LeadID {
			return store.ErrDuplicate
		}
	}
	m.ID = uuid.NewString()
	m.Version = 1
	cp := *m
	s.messages[m.ID] = &cp
	s.creates++
	return nil
}

func (s *memStore) SaveMessage(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.messages[m.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != m.Version {
		return store.ErrVersionConflict
	}
	m.Version++
	cp := *m
	s.messages[m.ID] = &cp
	return nil
}

func (s *memStore) CountMessagesByStatus(context.Context) (map[model.MessageStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[model.MessageStatus]int)
	for _, m := range s.messages {
		out[m.Status]++
	}
	return out, nil
}

func (s *memStore) Migrate(context.Context) error { return nil }
func (s *memStore) Ping(context.Context) error    { return nil }
func (s *memStore) Close() error                  { return nil }
