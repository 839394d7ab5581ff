package mailer

import (
	"context"
	"errors"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gopkg.in/gomail.v2"

	"github.com/sells-group/sdr-cli/internal/config"
	"github.com/sells-group/sdr-cli/internal/resilience"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []*gomail.Message
	err   error
	delay time.Duration
}

func (f *fakeSender) DialAndSend(m ...*gomail.Message) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m...)
	return nil
}

func newTestTransport(s sender, guard *resilience.Guard) *SMTPTransport {
	tr := NewSMTP(config.MailConfig{
		Host: "smtp.example.com",
		Port: 587,
		User: "outreach@example.com",
	}, "SaaratiLead", guard)
	tr.dialer = s
	return tr
}

func TestSMTPTransport_Send(t *testing.T) {
	fs := &fakeSender{}
	tr := newTestTransport(fs, nil)

	err := tr.Send(context.Background(), "lead@example.com", "Hello", "<p>Hi</p>")
	require.NoError(t, err)
	require.Len(t, fs.sent, 1)

	m := fs.sent[0]
	assert.Equal(t, []string{"lead@example.com"}, m.GetHeader("To"))
	assert.Equal(t, []string{"Hello"}, m.GetHeader("Subject"))
	require.Len(t, m.GetHeader("From"), 1)
	assert.Contains(t, m.GetHeader("From")[0], "SaaratiLead")
	assert.Contains(t, m.GetHeader("From")[0], "outreach@example.com")
}

func TestSMTPTransport_EmptyRecipient(t *testing.T) {
	fs := &fakeSender{}
	err := newTestTransport(fs, nil).Send(context.Background(), "", "s", "b")
	require.Error(t, err)
	assert.Empty(t, fs.sent)
}

func TestSMTPTransport_SendError(t *testing.T) {
	fs := &fakeSender{err: &textproto.Error{Code: 550, Msg: "mailbox unavailable"}}
	err := newTestTransport(fs, nil).Send(context.Background(), "lead@example.com", "s", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mailer: send to lead@example.com")
	assert.False(t, resilience.IsTransient(err))
}

func TestSMTPTransport_TemporaryReplyIsTransient(t *testing.T) {
	fs := &fakeSender{err: &textproto.Error{Code: 421, Msg: "try again later"}}
	err := newTestTransport(fs, nil).Send(context.Background(), "lead@example.com", "s", "b")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestSMTPTransport_TimeoutAbandonsSend(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	t.Cleanup(zap.ReplaceGlobals(zap.New(core)))

	fs := &fakeSender{delay: 200 * time.Millisecond}
	guard := resilience.NewGuard("smtp", 10*time.Millisecond, resilience.NoRetry(), nil)

	start := time.Now()
	err := newTestTransport(fs, guard).Send(context.Background(), "lead@example.com", "Hello", "b")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrAbandoned)
	assert.Less(t, time.Since(start), 150*time.Millisecond)

	entries := logs.FilterMessage("mailer: send abandoned, message may still be delivered").All()
	require.Len(t, entries, 1)
	ctxMap := entries[0].ContextMap()
	assert.Equal(t, []any{"lead@example.com"}, ctxMap["to"])
	assert.Equal(t, []any{"Hello"}, ctxMap["subject"])
}

func TestSMTPTransport_BreakerOpens(t *testing.T) {
	fs := &fakeSender{err: errors.New("connection refused")}
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})
	tr := newTestTransport(fs, resilience.NewGuard("smtp", time.Second, resilience.NoRetry(), cb))

	for range 2 {
		_ = tr.Send(context.Background(), "lead@example.com", "s", "b")
	}
	err := tr.Send(context.Background(), "lead@example.com", "s", "b")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}

func TestSMTPTransport_RateLimitHonorsContext(t *testing.T) {
	fs := &fakeSender{}
	tr := newTestTransport(fs, nil)
	tr.limiter = newLimiter(1)

	require.NoError(t, tr.Send(context.Background(), "a@example.com", "s", "b"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := tr.Send(ctx, "b@example.com", "s", "b")
	require.Error(t, err)
	assert.Len(t, fs.sent, 1)
}

func TestNew_DryRun(t *testing.T) {
	tr := New(config.MailConfig{DryRun: true}, "SaaratiLead", nil)
	_, ok := tr.(LogTransport)
	assert.True(t, ok)
	assert.NoError(t, tr.Send(context.Background(), "x@example.com", "s", "b"))

	_, ok = New(config.MailConfig{Host: "h", Port: 25}, "SaaratiLead", nil).(*SMTPTransport)
	assert.True(t, ok)
}
