package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// ErrInvalidTransition is returned when a status change is not allowed by
// the lead or message lifecycle.
var ErrInvalidTransition = eris.New("model: invalid status transition")

// leadTransitions lists the statuses reachable from each lead status.
// contacted and follow-up alternate as messages are re-dispatched; meeting
// and closed are only entered by operator action.
var leadTransitions = map[LeadStatus][]LeadStatus{
	LeadStatusNew:       {LeadStatusContacted, LeadStatusFollowUp, LeadStatusMeeting, LeadStatusClosed},
	LeadStatusContacted: {LeadStatusFollowUp, LeadStatusMeeting, LeadStatusClosed},
	LeadStatusFollowUp:  {LeadStatusContacted, LeadStatusMeeting, LeadStatusClosed},
	LeadStatusMeeting:   {LeadStatusClosed},
	LeadStatusClosed:    nil,
}

// CanTransitionLead reports whether a lead may move from one status to another.
func CanTransitionLead(from, to LeadStatus) bool {
	for _, s := range leadTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (l *Lead) transition(to LeadStatus) error {
	if l.Status == to {
		return nil
	}
	if !CanTransitionLead(l.Status, to) {
		return eris.Wrapf(ErrInvalidTransition, "lead %s: %s -> %s", l.ID, l.Status, to)
	}
	l.Status = to
	return nil
}

// MarkContacted records that outreach was delivered to the lead.
func (l *Lead) MarkContacted() error {
	return l.transition(LeadStatusContacted)
}

// MarkFollowUp queues the lead for a follow-up message.
func (l *Lead) MarkFollowUp() error {
	return l.transition(LeadStatusFollowUp)
}

// MarkReadyToMeet is applied when the lead confirms through the link in an
// outreach message.
func (l *Lead) MarkReadyToMeet() error {
	if err := l.transition(LeadStatusMeeting); err != nil {
		return err
	}
	l.ReadyToMeet = true
	return nil
}

// ScheduleMeeting sets the meeting link and date and moves the lead to meeting.
func (l *Lead) ScheduleMeeting(link string, at time.Time) error {
	if err := l.transition(LeadStatusMeeting); err != nil {
		return err
	}
	l.MeetingLink = link
	l.MeetingDate = &at
	return nil
}

// Close ends the lead lifecycle. A pending meeting confirmation is
// withdrawn with it.
func (l *Lead) Close() error {
	if err := l.transition(LeadStatusClosed); err != nil {
		return err
	}
	l.ReadyToMeet = false
	return nil
}

// ToggleChecked flips operator approval for outreach.
func (l *Lead) ToggleChecked() {
	l.Checked = !l.Checked
}

// messageTransitions lists the statuses reachable from each message status.
// responded is terminal.
var messageTransitions = map[MessageStatus][]MessageStatus{
	MessageStatusPending:   {MessageStatusSent},
	MessageStatusSent:      {MessageStatusPending, MessageStatusResponded},
	MessageStatusResponded: nil,
}

// CanTransitionMessage reports whether a message may move between statuses.
func CanTransitionMessage(from, to MessageStatus) bool {
	for _, s := range messageTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (m *Message) transition(to MessageStatus) error {
	if !CanTransitionMessage(m.Status, to) {
		return eris.Wrapf(ErrInvalidTransition, "message %s: %s -> %s", m.ID, m.Status, to)
	}
	m.Status = to
	return nil
}

// MarkSent records delivery and schedules the next touch.
func (m *Message) MarkSent(now time.Time, interval time.Duration) error {
	if err := m.transition(MessageStatusSent); err != nil {
		return err
	}
	next := now.Add(interval)
	m.NextTouchAt = &next
	return nil
}

// Rewrite replaces a sent message with follow-up content and queues it for
// dispatch again.
func (m *Message) Rewrite(subject, body string, now time.Time, interval time.Duration) error {
	if err := m.transition(MessageStatusPending); err != nil {
		return err
	}
	m.Subject = subject
	m.Body = body
	next := now.Add(interval)
	m.NextTouchAt = &next
	return nil
}

// MarkResponded records a reply from the lead. Automation never touches the
// message afterwards.
func (m *Message) MarkResponded() error {
	if err := m.transition(MessageStatusResponded); err != nil {
		return err
	}
	m.NextTouchAt = nil
	return nil
}
