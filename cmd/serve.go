package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"passlog/api"
	"passlog/events"
	"passlog/ingest"
	"passlog/logger"
	"passlog/pager"
	"passlog/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Starts the HTTP API and the idle-suite sweeper. Suites that receive no
writes for ingest.disconnect_timeout are marked disconnected.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	broker := events.NewBroker(cfg.Watch.QueueSize)
	defer broker.Close()

	st, err := store.Open(ctx, cfg.Storage.Path, store.Options{Publisher: broker})
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer st.Close()

	svc := ingest.NewService(st, ingest.Options{})
	server := api.NewServer(st, pager.New(st, cfg.Pager.PageSize, cfg.Pager.MaxPageSize), svc, broker, cfg.Watch.Heartbeat)
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Address(),
		Handler:           server.Handler(cfg.HTTP.CORS),
		ReadHeaderTimeout: 10 * time.Second,
	}
	sweeper := ingest.NewSweeper(svc, cfg.Ingest.DisconnectTimeout, cfg.Ingest.SweepInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Logger.Info().Str("addr", httpServer.Addr).Str("db", cfg.Storage.Path).Msg("starting passlog server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Logger.Info().Msg("shutting down")

		// Watch streams only end when their subscription closes.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
