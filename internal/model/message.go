package model

import "time"

// MessageStatus is the delivery state of an outbound message.
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusResponded MessageStatus = "responded"
)

// AllMessageStatuses returns every message status.
func AllMessageStatuses() []MessageStatus {
	return []MessageStatus{MessageStatusPending, MessageStatusSent, MessageStatusResponded}
}

// Valid reports whether s is a known message status.
func (s MessageStatus) Valid() bool {
	for _, v := range AllMessageStatuses() {
		if v == s {
			return true
		}
	}
	return false
}

// Message is the single active outbound communication record for a lead.
// LeadEmail is a snapshot taken when the message was drafted; dispatch
// always re-resolves the lead's current address.
type Message struct {
	ID          string        `json:"id"`
	LeadID      string        `json:"lead_id"`
	LeadEmail   string        `json:"lead_email"`
	Subject     string        `json:"subject"`
	Body        string        `json:"body"`
	Status      MessageStatus `json:"status"`
	NextTouchAt *time.Time    `json:"next_touch_at,omitempty"`
	Version     int64         `json:"version"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// NewPendingMessage drafts a first-contact message for a lead.
func NewPendingMessage(lead *Lead, subject, body string) *Message {
	return &Message{
		LeadID:    lead.ID,
		LeadEmail: lead.Email,
		Subject:   subject,
		Body:      body,
		Status:    MessageStatusPending,
	}
}
