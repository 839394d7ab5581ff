package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sdr-cli/internal/config"
	"github.com/sells-group/sdr-cli/internal/mailer"
	"github.com/sells-group/sdr-cli/internal/monitoring"
	"github.com/sells-group/sdr-cli/internal/pipeline"
	"github.com/sells-group/sdr-cli/internal/resilience"
	"github.com/sells-group/sdr-cli/internal/store"
	"github.com/sells-group/sdr-cli/internal/textgen"
	"github.com/sells-group/sdr-cli/pkg/anthropic"
)

// appEnv holds the wired dependencies shared by the commands.
type appEnv struct {
	Store        store.Store
	Mail         mailer.Transport
	Breakers     *resilience.ServiceBreakers
	Orchestrator *pipeline.Orchestrator
	Collector    *monitoring.Collector
}

// Close releases the store.
func (a *appEnv) Close() {
	if err := a.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "sdr.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// initApp opens and migrates the store and builds the pipeline stack.
func initApp(ctx context.Context, c *config.Config) (*appEnv, error) {
	st, err := initStore(ctx, c)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	breakers := resilience.NewServiceBreakers(resilience.CircuitFromConfig(c.Resilience))

	gen := textgen.New(
		anthropic.NewClient(c.Anthropic.Key),
		textgen.Config{
			Model:      c.Anthropic.Model,
			MaxTokens:  c.Anthropic.MaxTokens,
			SenderName: c.App.Name,
		},
		resilience.NewGuard("anthropic",
			seconds(c.Anthropic.TimeoutSecs),
			resilience.RetryFromConfig(c.Resilience),
			breakers.Get("anthropic"),
		),
	)

	// SMTP sends are not retried: a timed-out send may still have been
	// delivered.
	mail := mailer.New(c.Mail, c.App.Name, resilience.NewGuard("smtp",
		seconds(c.Mail.TimeoutSecs),
		resilience.NoRetry(),
		breakers.Get("smtp"),
	))

	orch := pipeline.NewOrchestrator(
		pipeline.New(pipeline.ConfigFrom(c), st, gen, mail),
		c.Pipeline.CycleTimeout,
	)

	return &appEnv{
		Store:        st,
		Mail:         mail,
		Breakers:     breakers,
		Orchestrator: orch,
		Collector:    monitoring.NewCollector(st, orch, breakers, c.Pipeline.FollowUpLookahead),
	}, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
