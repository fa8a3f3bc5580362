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

	"github.com/aretw0/journey"
	"github.com/aretw0/journey/internal/cli"
	"github.com/aretw0/journey/internal/presentation/tui"
	httpAdapter "github.com/aretw0/journey/pkg/adapters/http"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Exposes the engine as a JSON API over HTTP, with an SSE event stream and Prometheus metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if addr, _ := cmd.Flags().GetString("addr"); cmd.Flags().Changed("addr") {
			cfg.HTTP.Addr = addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		cmd.SetContext(ctx)

		return withRuntime(cmd, func(ctx context.Context, rt *cli.Runtime) error {
			opts := []httpAdapter.HandlerOption{httpAdapter.WithLogger(rt.Logger)}
			if cfg.HTTP.Metrics {
				opts = append(opts, httpAdapter.WithMetrics(rt.Registry))
			}
			srv := &http.Server{
				Addr:              cfg.HTTP.Addr,
				Handler:           httpAdapter.NewHandler(rt.Engine, opts...),
				ReadHeaderTimeout: 10 * time.Second,
			}

			if tui.IsTerminal(os.Stderr) {
				tui.PrintBanner(os.Stderr, journey.Version)
			}

			serverErrors := make(chan error, 1)
			go func() {
				fmt.Fprintf(os.Stderr, "Serving playbooks from %s on %s\n", cfg.Definitions, srv.Addr)
				serverErrors <- srv.ListenAndServe()
			}()

			select {
			case err := <-serverErrors:
				return err
			case <-ctx.Done():
				rt.Logger.Info("shutting down", "addr", srv.Addr)
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				_ = srv.Close()
				return fmt.Errorf("graceful shutdown did not complete: %w", err)
			}
			if err := <-serverErrors; err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			fmt.Fprintln(os.Stderr, "Journey server stopped gracefully")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", ":8080", "Address to listen on")
}
