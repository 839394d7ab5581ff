// Package mailer delivers outreach email over SMTP.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/gomail.v2"

	"github.com/sells-group/sdr-cli/internal/config"
	"github.com/sells-group/sdr-cli/internal/resilience"
)

// Transport sends a single HTML email.
type Transport interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// ErrAbandoned marks a send that was given up on while the SMTP exchange
// was still in flight. The message may have been delivered.
var ErrAbandoned = errors.New("mailer: send abandoned")

// sender is satisfied by *gomail.Dialer.
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPTransport sends mail through an SMTP relay, rate limited and guarded
// by a circuit breaker.
type SMTPTransport struct {
	dialer   sender
	fromAddr string
	fromName string
	limiter  *rate.Limiter
	guard    *resilience.Guard
}

// NewSMTP builds an SMTPTransport from mail config. The From header is
// "<from name> <user>"; from name defaults to appName.
func NewSMTP(cfg config.MailConfig, appName string, guard *resilience.Guard) *SMTPTransport {
	fromName := cfg.FromName
	if fromName == "" {
		fromName = appName
	}
	return &SMTPTransport{
		dialer:   gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		fromAddr: cfg.User,
		fromName: fromName,
		limiter:  newLimiter(cfg.RatePerMinute),
		guard:    guard,
	}
}

func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// Send waits for a rate-limit token, then delivers the message.
func (t *SMTPTransport) Send(ctx context.Context, to, subject, htmlBody string) error {
	if to == "" {
		return eris.New("mailer: empty recipient")
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "mailer: rate limit wait")
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", t.fromAddr, t.fromName)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	send := func(ctx context.Context) error { return t.dialAndSend(ctx, m) }
	var err error
	if t.guard != nil {
		err = t.guard.Do(ctx, "send", send)
	} else {
		err = send(ctx)
	}
	if err != nil {
		return eris.Wrapf(err, "mailer: send to %s", to)
	}
	return nil
}

// dialAndSend runs the blocking gomail call so that ctx can abandon it.
func (t *SMTPTransport) dialAndSend(ctx context.Context, m *gomail.Message) error {
	done := make(chan error, 1)
	go func() { done <- t.dialer.DialAndSend(m) }()

	select {
	case <-ctx.Done():
		zap.L().Warn("mailer: send abandoned, message may still be delivered",
			zap.Strings("to", m.GetHeader("To")),
			zap.Strings("subject", m.GetHeader("Subject")),
			zap.Error(ctx.Err()),
		)
		return fmt.Errorf("%w: %w", ErrAbandoned, ctx.Err())
	case err := <-done:
		return classify(err)
	}
}

// classify marks temporary SMTP replies (4xx) as transient.
func classify(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && resilience.IsTransientSMTPCode(tpErr.Code) {
		return resilience.NewTransientError(err, tpErr.Code)
	}
	return err
}

// LogTransport logs messages instead of sending them.
type LogTransport struct{}

// Send logs the message.
func (LogTransport) Send(_ context.Context, to, subject, htmlBody string) error {
	zap.L().Info("mailer: dry run, message not sent",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(htmlBody)),
	)
	return nil
}

// New returns a LogTransport when dry run is enabled, otherwise an
// SMTPTransport.
func New(cfg config.MailConfig, appName string, guard *resilience.Guard) Transport {
	if cfg.DryRun {
		return LogTransport{}
	}
	return NewSMTP(cfg, appName, guard)
}
