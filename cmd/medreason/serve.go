package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/medreason"
	"github.com/brunobiangulo/medreason/metrics"
)

func serveCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return runServer(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

// newServerHandler builds the middleware chain around the API routes.
// prom may be nil; when set and mountMetrics is true /metrics is served
// on the same listener.
func newServerHandler(engine medreason.Engine, cfg serverConfig, prom *metrics.Prometheus, mountMetrics bool) http.Handler {
	mux := http.NewServeMux()
	newHandler(engine).routes(mux)
	if prom != nil && mountMetrics {
		mux.Handle("GET /metrics", prom.Handler())
	}

	// Middleware chain: recovery -> cors -> request id -> auth -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = authMiddleware(cfg.APIKey, handler)
	handler = requestIDMiddleware(handler)
	handler = corsMiddleware(cfg.CORSOrigins, handler)
	handler = recoveryMiddleware(handler)
	return handler
}

func runServer(ctx context.Context, cfg *appConfig) error {
	var prom *metrics.Prometheus
	var rec metrics.Recorder
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		rec = prom
	}

	engine, err := openEngine(cfg, rec)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			slog.Error("engine close error", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      newServerHandler(engine, cfg.Server, prom, cfg.Metrics.Addr == ""),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 6 * time.Minute, // document processing plus AI calls
		IdleTimeout:  120 * time.Second,
	}

	var metricsSrv *http.Server
	if prom != nil && cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", prom.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadTimeout: 10 * time.Second}
		go func() {
			slog.Info("metrics server starting", "addr", cfg.Metrics.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	slog.Info("server stopped")
	return nil
}
