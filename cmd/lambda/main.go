package main

import (
	"context"
	"log"
	"log/slog"

	"github.com/aws/aws-lambda-go/lambda"

	"medscan"
	"medscan/api"
	"medscan/app"
)

func main() {
	ctx := context.Background()

	cfg, err := medscan.LoadConfig()
	if err != nil {
		log.Fatalf("SETUP: %s", err)
	}

	tracerProvider, meterProvider, otelShutdown, err := medscan.InitOtel(ctx)
	if err != nil {
		log.Fatalf("SETUP: Failed to initialize OpenTelemetry: %s", err)
	}
	defer func() {
		if err := otelShutdown(ctx); err != nil {
			slog.Error("SETUP: Failed to shutdown OpenTelemetry", "error", err)
		}
	}()

	// Run logs go to CloudWatch through stdout.
	a, err := app.Build(ctx, cfg, app.Options{
		RunLogger: medscan.NewStdoutRunLogger(),
		Tracer:    tracerProvider.Tracer(medscan.TracerNameLambda),
		Meter:     meterProvider.Meter(medscan.TracerNameLambda),
	})
	if err != nil {
		log.Fatalf("SETUP: Failed to build pipeline: %s", err)
	}
	defer a.Close()

	lambda.Start(api.LambdaHandler(a.Service))
}
