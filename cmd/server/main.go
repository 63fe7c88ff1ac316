package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medscan"
	"medscan/api"
	"medscan/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := medscan.LoadConfig()
	if err != nil {
		log.Fatalf("SETUP: %s", err)
	}

	tracerProvider, meterProvider, otelShutdown, err := medscan.InitOtel(ctx)
	if err != nil {
		slog.Error("SETUP: Failed to initialize OpenTelemetry", "error", err)
		return
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			slog.Error("SETUP: Failed to shutdown OpenTelemetry", "error", err)
		}
	}()

	a, err := app.Build(ctx, cfg, app.Options{
		Tracer: tracerProvider.Tracer(medscan.TracerNameHTTP),
		Meter:  meterProvider.Meter(medscan.TracerNameHTTP),
	})
	if err != nil {
		slog.Error("SETUP: Failed to build pipeline", "error", err)
		return
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Error("SETUP: Failed to close pipeline", "error", err)
		}
	}()

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewHandler(a.Service, api.HandlerOptions{
			MaxBodyBytes:   cfg.Server.MaxBodyBytes,
			RequestTimeout: cfg.Server.RequestTimeout,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("SERVER: Listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("SERVER: Stopped unexpectedly", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("SERVER: Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.RequestTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("SERVER: Failed to shut down cleanly", "error", err)
	}
}
