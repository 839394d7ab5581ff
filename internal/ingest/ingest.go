// Package ingest validates and stores new leads and triggers the new-lead
// cycle afterwards. It also carries the operator actions on existing leads.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sdr-cli/internal/mailer"
	"github.com/sells-group/sdr-cli/internal/model"
	"github.com/sells-group/sdr-cli/internal/pipeline"
	"github.com/sells-group/sdr-cli/internal/store"
)

// ErrDuplicateLead is returned when a lead with the same email or phone
// already exists.
var ErrDuplicateLead = eris.New("ingest: lead already exists")

// Trigger accepts fire-and-forget cycle submissions.
type Trigger interface {
	Submit(kind pipeline.Kind) bool
}

// ImportResult summarizes a bulk import.
type ImportResult struct {
	Received   int `json:"received"`
	Invalid    int `json:"invalid"`
	Duplicates int `json:"duplicates"`
	Inserted   int `json:"inserted"`
}

// Service ingests leads and handles operator actions on them.
type Service struct {
	leads    store.LeadStore
	messages store.MessageStore
	mail     mailer.Transport
	trigger  Trigger
}

// NewService creates a Service. mail and trigger may be nil; without mail,
// meeting invitations are saved but not sent.
func NewService(st store.Store, mail mailer.Transport, trigger Trigger) *Service {
	return &Service{leads: st, messages: st, mail: mail, trigger: trigger}
}

// AddLead validates and stores a single lead.
func (s *Service) AddLead(ctx context.Context, in LeadInput) (*model.Lead, error) {
	in = Normalize(in)
	if err := Validate(in); err != nil {
		return nil, err
	}

	existing, err := s.leads.ListLeadEmails(ctx, []string{in.Email})
	if err != nil {
		return nil, eris.Wrap(err, "ingest: check existing email")
	}
	if len(existing) > 0 {
		return nil, eris.Wrapf(ErrDuplicateLead, "email %s", in.Email)
	}

	lead := in.Lead()
	if err := s.leads.CreateLead(ctx, &lead); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, eris.Wrapf(ErrDuplicateLead, "email %s", in.Email)
		}
		return nil, eris.Wrap(err, "ingest: create lead")
	}
	zap.L().Info("ingest: lead added", zap.String("lead_id", lead.ID))

	s.notify()
	return &lead, nil
}

// ImportLeads stores a batch of leads. Invalid rows are dropped and
// emails already present in the batch or the store are skipped.
func (s *Service) ImportLeads(ctx context.Context, inputs []LeadInput) (*ImportResult, error) {
	res := &ImportResult{Received: len(inputs)}

	seen := make(map[string]struct{}, len(inputs))
	batch := make([]model.Lead, 0, len(inputs))
	for i, raw := range inputs {
		in := Normalize(raw)
		if err := validateImport(in); err != nil {
			zap.L().Debug("ingest: dropping invalid row", zap.Int("row", i), zap.Error(err))
			res.Invalid++
			continue
		}
		if _, ok := seen[in.Email]; ok {
			res.Duplicates++
			continue
		}
		seen[in.Email] = struct{}{}
		batch = append(batch, in.Lead())
	}

	if len(batch) > 0 {
		emails := make([]string, 0, len(batch))
		for _, l := range batch {
			emails = append(emails, l.Email)
		}
		existing, err := s.leads.ListLeadEmails(ctx, emails)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: check existing emails")
		}
		if len(existing) > 0 {
			known := make(map[string]struct{}, len(existing))
			for _, e := range existing {
				known[e] = struct{}{}
			}
			fresh := batch[:0]
			for _, l := range batch {
				if _, ok := known[l.Email]; ok {
					res.Duplicates++
					continue
				}
				fresh = append(fresh, l)
			}
			batch = fresh
		}
	}

	if len(batch) > 0 {
		n, err := s.leads.InsertLeads(ctx, batch)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: insert leads")
		}
		// Rows ignored by the store collided on phone or raced on email.
		res.Duplicates += len(batch) - n
		res.Inserted = n
	}

	zap.L().Info("ingest: import complete",
		zap.Int("received", res.Received),
		zap.Int("invalid", res.Invalid),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("inserted", res.Inserted),
	)
	if res.Inserted > 0 {
		s.notify()
	}
	return res, nil
}

// ConfirmMeeting records that the lead followed the confirmation link.
func (s *Service) ConfirmMeeting(ctx context.Context, id string) (*model.Lead, error) {
	lead, err := s.leads.GetLead(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: get lead %s", id)
	}
	if lead.ReadyToMeet {
		return lead, nil
	}
	if err := lead.MarkReadyToMeet(); err != nil {
		return nil, err
	}
	if err := s.leads.SaveLead(ctx, lead); err != nil {
		return nil, eris.Wrapf(err, "ingest: save lead %s", id)
	}
	zap.L().Info("ingest: lead ready to meet", zap.String("lead_id", id))
	return lead, nil
}

// ToggleChecked flips operator approval for outreach. Approving a lead
// triggers a new-lead cycle.
func (s *Service) ToggleChecked(ctx context.Context, id string) (*model.Lead, error) {
	lead, err := s.leads.GetLead(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: get lead %s", id)
	}
	lead.ToggleChecked()
	if err := s.leads.SaveLead(ctx, lead); err != nil {
		return nil, eris.Wrapf(err, "ingest: save lead %s", id)
	}
	if lead.Checked {
		s.notify()
	}
	return lead, nil
}

// ScheduleMeeting stores the meeting link and date on the lead, moves it to
// meeting and emails the invitation. The lead is saved even when the email
// fails.
func (s *Service) ScheduleMeeting(ctx context.Context, id, link string, at time.Time) (*model.Lead, error) {
	link = strings.TrimSpace(link)
	if link == "" || at.IsZero() {
		return nil, eris.Wrap(ErrInvalidLead, "meeting link and date are required")
	}

	lead, err := s.leads.GetLead(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: get lead %s", id)
	}
	if err := lead.ScheduleMeeting(link, at); err != nil {
		return nil, err
	}
	if err := s.leads.SaveLead(ctx, lead); err != nil {
		return nil, eris.Wrapf(err, "ingest: save lead %s", id)
	}
	log := zap.L().With(zap.String("lead_id", id))
	log.Info("ingest: meeting scheduled", zap.Time("meeting_date", at))

	if s.mail == nil {
		log.Warn("ingest: no mail transport, meeting invitation not sent")
		return lead, nil
	}
	subject, body := meetingInvitation(lead)
	if err := s.mail.Send(ctx, lead.Email, subject, body); err != nil {
		return lead, eris.Wrapf(err, "ingest: send meeting invitation to lead %s", id)
	}
	log.Info("ingest: meeting invitation sent")
	return lead, nil
}

func meetingInvitation(l *model.Lead) (subject, body string) {
	subject = "Meeting link for " + l.Name
	body = fmt.Sprintf(`<p>Hello %s,</p><p>Your meeting is scheduled for %s.</p><p>Here is your meeting link: <a href="%s">%s</a></p>`,
		html.EscapeString(l.Name),
		l.MeetingDate.UTC().Format("Monday, January 2, 2006 at 15:04 MST"),
		html.EscapeString(l.MeetingLink),
		html.EscapeString(l.MeetingLink),
	)
	return subject, body
}

// CloseLead ends the lead lifecycle.
func (s *Service) CloseLead(ctx context.Context, id string) (*model.Lead, error) {
	lead, err := s.leads.GetLead(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: get lead %s", id)
	}
	if lead.Status == model.LeadStatusClosed {
		return lead, nil
	}
	if err := lead.Close(); err != nil {
		return nil, err
	}
	if err := s.leads.SaveLead(ctx, lead); err != nil {
		return nil, eris.Wrapf(err, "ingest: save lead %s", id)
	}
	zap.L().Info("ingest: lead closed", zap.String("lead_id", id))
	return lead, nil
}

// MarkResponded records that the lead replied to its message. Follow-ups
// stop for that lead.
func (s *Service) MarkResponded(ctx context.Context, leadID string) (*model.Message, error) {
	msg, err := s.messages.FindMessageByLead(ctx, leadID)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: find message for lead %s", leadID)
	}
	if msg == nil {
		return nil, eris.Wrapf(store.ErrNotFound, "ingest: no message for lead %s", leadID)
	}
	if msg.Status == model.MessageStatusResponded {
		return msg, nil
	}
	if err := msg.MarkResponded(); err != nil {
		return nil, err
	}
	if err := s.messages.SaveMessage(ctx, msg); err != nil {
		return nil, eris.Wrapf(err, "ingest: save message %s", msg.ID)
	}
	zap.L().Info("ingest: lead responded", zap.String("lead_id", leadID), zap.String("message_id", msg.ID))
	return msg, nil
}

func (s *Service) notify() {
	if s.trigger == nil {
		return
	}
	if !s.trigger.Submit(pipeline.KindNewLeads) {
		zap.L().Warn("ingest: new-lead cycle not queued")
	}
}
