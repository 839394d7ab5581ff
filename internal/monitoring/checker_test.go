package monitoring

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/sdr-cli/internal/config"
	"github.com/sells-group/sdr-cli/internal/pipeline"
	"github.com/sells-group/sdr-cli/internal/scheduler"
)

func TestChecker_ForwardsCycleFailures(t *testing.T) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	cfg := config.MonitoringConfig{WebhookURL: srv.URL, CheckIntervalSecs: 3600}
	checker := NewChecker(NewCollector(newTestStore(t), nil, nil, 0), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	failures := make(chan scheduler.CycleFailure, 1)
	done := make(chan struct{})
	go func() {
		checker.Run(ctx, failures)
		close(done)
	}()

	failures <- scheduler.CycleFailure{
		Kind:   pipeline.KindNewLeads,
		Report: &pipeline.CycleReport{Err: "pipeline: enrich interrupted"},
		At:     time.Now(),
	}

	assert.Eventually(t, func() bool { return len(rec.received()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	got := rec.received()
	require.Len(t, got, 1)
	assert.Equal(t, AlertCycleFailure, got[0].Type)
}

func TestChecker_Check(t *testing.T) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	cfg := config.MonitoringConfig{WebhookURL: srv.URL}
	collector := NewCollector(newTestStore(t), nil, staticBreakers{"smtp": "open"}, 0)
	checker := NewChecker(collector, NewAlerter(cfg), cfg)

	checker.check(context.Background(), zapNop())
	got := rec.received()
	require.Len(t, got, 1)
	assert.Equal(t, AlertCircuitOpen, got[0].Type)
}

func zapNop() *zap.Logger { return zap.NewNop() }
