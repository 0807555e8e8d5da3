package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/warp/staffdocs/api"
	"github.com/warp/staffdocs/workflow"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the dispatcher and stale scanner",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			a.dispatcher.Start()
			defer a.dispatcher.Stop()

			scanner := workflow.NewStaleScanner(a.workflow, a.log)
			scanner.Interval = a.cfg.StaleScanInterval
			scanner.Start()
			defer scanner.Stop()

			opts := api.RouterOptions{CORSOrigins: a.cfg.CORSOrigins}
			if a.cfg.MetricsEnabled {
				opts.Metrics = promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})
			}
			handler := api.NewHandler(a.store, a.workflow, a.validator, a.allocator, nil, a.log)

			server := &http.Server{
				Addr:         a.cfg.Addr(),
				Handler:      api.NewRouter(handler, opts),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			failed := make(chan error, 1)
			go func() {
				a.log.WithField("addr", server.Addr).Info("server starting")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					failed <- err
				}
			}()

			select {
			case err := <-failed:
				return fmt.Errorf("server failed: %w", err)
			case <-ctx.Done():
			}

			a.log.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			a.log.Info("server stopped")
			return nil
		},
	}
}

func newScanStaleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan-stale",
		Short: "Send reminders for stale documents once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			// Reminders must go out before the process exits.
			a.dispatcher.Start()
			defer a.dispatcher.Stop()

			n, err := a.workflow.ScanStale(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d stale document(s)\n", n)
			return nil
		},
	}
}

func newImportHolidaysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-holidays FILE...",
		Short: "Load production calendar files into the database",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			for _, path := range args {
				n, err := a.importHolidays(cmd.Context(), path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d day(s)\n", path, n)
			}
			return nil
		},
	}
}
