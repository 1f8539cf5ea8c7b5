package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kjannette/pvpc-backend/internal/api"
	"github.com/kjannette/pvpc-backend/internal/logging"
)

const version = "1.0.0"

const banner = `
╔══════════════════════════════════════╗
║        PVPC Price Backend v1.0       ║
║                                      ║
╚══════════════════════════════════════╝
`

var fetchFallback bool

// rootCmd runs the API and the ingestion scheduler until interrupted.
var rootCmd = &cobra.Command{
	Use:           "pvpc-backend",
	Short:         "Spanish PVPC electricity price service",
	Long:          `Ingests daily PVPC hourly prices on a schedule and serves them with derived views over HTTP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

// fetchCmd runs one ingestion and exits.
var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch and store prices once",
	Long: `Fetch the current price day from the configured providers and store it.

Example usage:
  pvpc-backend fetch               # Fresh fetch only
  pvpc-backend fetch --fallback    # Copy the latest stored day when the fetch fails`,
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().BoolVar(&fetchFallback, "fallback", false, "Apply historical fallback for today when the fetch fails")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	fmt.Print(banner)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	log := logging.Component("main")

	srv := api.NewServer(api.Deps{
		Prices:    a.service,
		Ingestion: a.scheduler,
		DB:        api.PingFunc(a.ping),
		Metrics:   a.metrics.Handler(),
	}, a.cfg.Port, a.cfg.AllowedOrigins, version, logging.Component("api"))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	a.scheduler.Start()
	log.Info().Msg("all services started")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error().Err(err).Msg("API server error")
	}
	log.Info().Msg("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.scheduler.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API shutdown error")
	}
	log.Info().Msg("shutdown complete")
	return nil
}

func runFetch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	log := logging.Component("fetch")

	saved, err := a.scheduler.RunNow(ctx)
	if err == nil {
		log.Info().Int("saved", saved).Msg("prices updated")
		return nil
	}
	if !fetchFallback {
		return fmt.Errorf("price update failed: %w", err)
	}

	today := a.today()
	n, ferr := a.service.ApplyFallback(ctx, today)
	a.notify.FallbackApplied(ctx, today, n, ferr)
	if ferr != nil {
		return errors.Join(err, ferr)
	}
	log.Warn().Int("saved", n).Msg("fetch failed, fallback applied")
	return nil
}
