package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sdr-cli/internal/config"
	"github.com/sells-group/sdr-cli/internal/scheduler"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertCycleFailure    AlertType = "cycle_failure"
	AlertDispatchBacklog AlertType = "dispatch_backlog"
	AlertCircuitOpen     AlertType = "circuit_open"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates snapshots against thresholds and posts alerts to a
// webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates an Alerter.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if a.cfg.BacklogThreshold > 0 && snap.PendingBacklog > a.cfg.BacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertDispatchBacklog,
			Severity: "medium",
			Message: fmt.Sprintf("%d messages pending dispatch exceeds threshold %d",
				snap.PendingBacklog, a.cfg.BacklogThreshold),
			Details: map[string]any{
				"pending":   snap.PendingBacklog,
				"threshold": a.cfg.BacklogThreshold,
			},
			Timestamp: now,
		})
	}

	services := make([]string, 0, len(snap.Breakers))
	for svc, state := range snap.Breakers {
		if state == "open" {
			services = append(services, svc)
		}
	}
	sort.Strings(services)
	for _, svc := range services {
		alerts = append(alerts, Alert{
			Type:      AlertCircuitOpen,
			Severity:  "high",
			Message:   fmt.Sprintf("circuit breaker for %s is open", svc),
			Details:   map[string]any{"service": svc},
			Timestamp: now,
		})
	}

	return alerts
}

// FailureAlert builds an alert for a failed cycle.
func FailureAlert(f scheduler.CycleFailure) Alert {
	msg := fmt.Sprintf("%s cycle failed", f.Kind)
	details := map[string]any{"kind": string(f.Kind)}
	switch {
	case f.Err != nil:
		msg += ": " + f.Err.Error()
	case f.Report != nil:
		msg += ": " + f.Report.Err
		details["stages_run"] = len(f.Report.Stages)
	}
	return Alert{
		Type:      AlertCycleFailure,
		Severity:  "high",
		Message:   msg,
		Details:   details,
		Timestamp: f.At.UTC(),
	}
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
