package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageStatusValues(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "pending", string(MessageStatusPending))
	assert.Equal(t, "sent", string(MessageStatusSent))
	assert.Equal(t, "responded", string(MessageStatusResponded))
	assert.False(t, MessageStatus("bounced").Valid())
}

func TestNewPendingMessage(t *testing.T) {
	t.Parallel()

	lead := &Lead{ID: "lead-1", Email: "a@x.com"}
	m := NewPendingMessage(lead, "Hi", "<p>Hello</p>")
	assert.Equal(t, "lead-1", m.LeadID)
	assert.Equal(t, "a@x.com", m.LeadEmail)
	assert.Equal(t, MessageStatusPending, m.Status)
	assert.Nil(t, m.NextTouchAt)
}

func TestMessage_MarkSent(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	m := &Message{ID: "m1", Status: MessageStatusPending}
	require.NoError(t, m.MarkSent(now, 48*time.Hour))
	assert.Equal(t, MessageStatusSent, m.Status)
	require.NotNil(t, m.NextTouchAt)
	assert.Equal(t, now.Add(48*time.Hour), *m.NextTouchAt)

	// A sent message cannot be sent again without a rewrite.
	assert.ErrorIs(t, m.MarkSent(now, time.Hour), ErrInvalidTransition)
}

func TestMessage_Rewrite(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 12, 9, 0, 0, 0, time.UTC)
	m := &Message{ID: "m1", Status: MessageStatusSent, Subject: "old", Body: "old"}
	require.NoError(t, m.Rewrite("new", "body", now, 48*time.Hour))
	assert.Equal(t, MessageStatusPending, m.Status)
	assert.Equal(t, "new", m.Subject)
	assert.Equal(t, "body", m.Body)
	assert.Equal(t, now.Add(48*time.Hour), *m.NextTouchAt)

	// Pending messages are already queued.
	assert.ErrorIs(t, m.Rewrite("x", "y", now, time.Hour), ErrInvalidTransition)
	assert.Equal(t, "new", m.Subject)
}

func TestMessage_RespondedIsTerminal(t *testing.T) {
	t.Parallel()

	now := time.Now()
	m := &Message{ID: "m1", Status: MessageStatusSent}
	require.NoError(t, m.MarkResponded())
	assert.Nil(t, m.NextTouchAt)

	assert.ErrorIs(t, m.Rewrite("s", "b", now, time.Hour), ErrInvalidTransition)
	assert.ErrorIs(t, m.MarkSent(now, time.Hour), ErrInvalidTransition)
	assert.Equal(t, MessageStatusResponded, m.Status)
}

func TestMessage_PendingCannotBeResponded(t *testing.T) {
	t.Parallel()

	m := &Message{ID: "m1", Status: MessageStatusPending}
	assert.ErrorIs(t, m.MarkResponded(), ErrInvalidTransition)
}
