package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/sdr-cli/internal/ingest"
	"github.com/sells-group/sdr-cli/internal/monitoring"
	"github.com/sells-group/sdr-cli/internal/queue"
	"github.com/sells-group/sdr-cli/internal/scheduler"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the console API and the cycle scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := initApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		sched := scheduler.New(env.Orchestrator, scheduler.ConfigFrom(cfg.Scheduler))

		g, gCtx := errgroup.WithContext(ctx)

		// With a broker configured, triggers go through RabbitMQ and the
		// consumer feeds the scheduler.
		var trigger ingest.Trigger = sched
		if cfg.Queue.URL != "" {
			conn, err := queue.Dial(cfg.Queue.URL)
			if err != nil {
				return err
			}
			defer conn.Close() //nolint:errcheck

			deliveries, err := conn.Deliveries()
			if err != nil {
				return err
			}
			trigger = conn.Publisher()
			consumer := queue.NewConsumer(deliveries, sched)
			g.Go(func() error { return consumer.Run(gCtx) })
		}

		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: newRouter(&server{
				ingest:    ingest.NewService(env.Store, env.Mail, trigger),
				collector: env.Collector,
				trigger:   trigger,
				db:        env.Store,
			}, []string{cfg.App.PublicURL}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		checker := monitoring.NewChecker(env.Collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)

		g.Go(func() error { return sched.Start(gCtx) })
		g.Go(func() error {
			checker.Run(gCtx, sched.Failures())
			return nil
		})
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return eris.Wrap(srv.Shutdown(shutdownCtx), "server shutdown")
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
