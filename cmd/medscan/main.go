package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"medscan"
	"medscan/app"
	"medscan/imagesource"
)

func main() {
	imagePath := flag.String("image", "", "path to a photo of the medicine packaging")
	query := flag.String("query", "", "question about the medicine")
	userID := flag.String("user", "local-user", "user id charged for the analysis")
	dump := flag.Bool("dump", false, "dump the full result with go-spew")
	withOtel := flag.Bool("otel", false, "export traces and metrics over OTLP")
	flag.Parse()

	ctx := context.Background()

	cfg, err := medscan.LoadConfig()
	if err != nil {
		log.Fatalf("SETUP: %s", err)
	}

	var opts app.Options
	if *withOtel {
		tracerProvider, meterProvider, otelShutdown, err := medscan.InitOtel(ctx)
		if err != nil {
			slog.Error("SETUP: Failed to initialize OpenTelemetry", "error", err)
			return
		}
		defer func() {
			if err := otelShutdown(ctx); err != nil {
				slog.Error("SETUP: Failed to shutdown OpenTelemetry", "error", err)
			}
		}()
		opts.Tracer = tracerProvider.Tracer(medscan.TracerNameCLI)
		opts.Meter = meterProvider.Meter(medscan.TracerNameCLI)
	}

	req := medscan.AnalysisRequest{
		TextQuery: strings.TrimSpace(*query),
		UserID:    *userID,
	}
	if *imagePath != "" {
		req.Image, err = readImage(*imagePath)
		if err != nil {
			slog.Error("SETUP: Failed to read image", "path", *imagePath, "error", err)
			return
		}
	}

	a, err := app.Build(ctx, cfg, opts)
	if err != nil {
		slog.Error("SETUP: Failed to build pipeline", "error", err)
		return
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Error("SETUP: Failed to close pipeline", "error", err)
		}
	}()

	if opts.Tracer != nil {
		var span trace.Span
		ctx, span = opts.Tracer.Start(ctx, medscan.TracerNameCLI, trace.WithAttributes(
			attribute.String("model.provider", cfg.Model.Provider),
			attribute.String("model.id", a.ModelID),
			attribute.Bool("request.has_image", req.HasImage()),
		))
		defer span.End()
	}

	res := a.Pipeline.Run(ctx, req)
	if *dump {
		medscan.Dump(res)
	}

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		slog.Error("RESULT: Failed to encode result", "error", err)
		return
	}
	fmt.Println(string(out))

	if res.Status != medscan.StatusSuccess {
		os.Exit(1)
	}
}

func readImage(path string) (*medscan.Image, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	return imagesource.FromBytes(data)
}
