package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"medscan"
	"medscan/api"
	"medscan/coordinator"
	"medscan/imagesource"
	"medscan/ledger"
	"medscan/llm/bedrock"
	"medscan/llm/mock"
	"medscan/llm/ollama"
	"medscan/registry"
	"medscan/registry/source"
	"medscan/slack"
)

// Options overrides collaborators that would otherwise be built from Config.
type Options struct {
	HTTPClient medscan.HTTPClient
	RunLogger  medscan.RunLogger
	Tracer     trace.Tracer
	Meter      metric.Meter

	// LoadAWSConfig is called at most once, and only when a configured backend needs AWS.
	LoadAWSConfig func(ctx context.Context) (aws.Config, error)
}

// App holds the wired pipeline and its request-facing service.
type App struct {
	Pipeline *coordinator.Coordinator
	Service  *api.Service
	ModelID  string

	closers []func() error
}

// Close releases database pools, snapshots and run logs in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func defaultAWSConfig(ctx context.Context) (aws.Config, error) {
	return config.LoadDefaultConfig(ctx, config.WithRetryMaxAttempts(5))
}

// Build wires every collaborator selected by cfg. On error anything already opened is closed.
func Build(ctx context.Context, cfg medscan.Config, opts Options) (_ *App, err error) {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.LoadAWSConfig == nil {
		opts.LoadAWSConfig = defaultAWSConfig
	}

	a := &App{}
	defer func() {
		if err != nil {
			if cerr := a.Close(); cerr != nil {
				slog.Error("SETUP: Failed to release resources", "error", cerr)
			}
		}
	}()

	var (
		awsCfg    aws.Config
		awsLoaded bool
	)
	loadAWS := func() (aws.Config, error) {
		if awsLoaded {
			return awsCfg, nil
		}
		c, err := opts.LoadAWSConfig(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
		}
		awsCfg, awsLoaded = c, true
		return awsCfg, nil
	}

	model, modelID, err := newModel(cfg.Model, opts.HTTPClient, loadAWS)
	if err != nil {
		return nil, err
	}
	a.ModelID = modelID

	store, err := a.newLedgerStore(ctx, cfg.Ledger, loadAWS)
	if err != nil {
		return nil, err
	}

	regStore, err := a.newRegistryStore(ctx, cfg.Registry, loadAWS)
	if err != nil {
		return nil, err
	}

	runLogger := opts.RunLogger
	if runLogger == nil {
		var cleanup func() error
		runLogger, cleanup, err = medscan.NewRunLogger(cfg.Pipeline.RunLog, modelID)
		if err != nil {
			return nil, fmt.Errorf("failed to create run logger: %w", err)
		}
		a.closers = append(a.closers, cleanup)
	}

	images, err := newImageResolver(cfg.Server, loadAWS)
	if err != nil {
		return nil, err
	}

	a.Pipeline = coordinator.New(
		model,
		ledger.New(store, ledger.Options{WelcomeTokens: cfg.Ledger.WelcomeTokens}),
		registry.NewLookup(regStore, registry.Options{FuzzyThreshold: cfg.Registry.FuzzyThreshold}),
		coordinator.Options{
			ModelTimeout:           cfg.Model.Timeout,
			LowConfidenceThreshold: cfg.Pipeline.LowConfidenceThreshold,
			Language:               cfg.Pipeline.Language,
			Notifier:               slack.NewNotifier(cfg.Notify.SlackWebhookURL, opts.HTTPClient),
			BillingChannel:         cfg.Notify.BillingChannel,
			Logger:                 runLogger,
			Tracer:                 opts.Tracer,
			Meter:                  opts.Meter,
		},
	)
	a.Service = api.NewService(a.Pipeline, api.NewAuthenticator(cfg.Server.JWTSecret), images)

	slog.Info("SETUP: Pipeline ready",
		"model_provider", cfg.Model.Provider,
		"model_id", modelID,
		"ledger_backend", cfg.Ledger.Backend,
		"registry_backend", cfg.Registry.Backend,
	)
	return a, nil
}

func newModel(cfg medscan.ModelConfig, httpClient medscan.HTTPClient, loadAWS func() (aws.Config, error)) (medscan.VisionModel, string, error) {
	switch cfg.Provider {
	case "bedrock":
		awsCfg, err := loadAWS()
		if err != nil {
			return nil, "", err
		}
		c := bedrock.NewClient(bedrockruntime.NewFromConfig(awsCfg), bedrock.Options{
			ModelID:     cfg.ModelID,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			TopP:        cfg.TopP,
		})
		return c, c.ModelID(), nil
	case "ollama":
		c := ollama.NewClient(ollama.ClientOpts{
			BaseEndpoint: cfg.OllamaEndpoint,
			ModelID:      cfg.ModelID,
			MaxTokens:    int(cfg.MaxTokens),
			Temperature:  float64(cfg.Temperature),
			TopP:         float64(cfg.TopP),
			HTTPClient:   httpClient,
		})
		return c, c.ModelID(), nil
	case "mock":
		return mock.NewModel(), "mock", nil
	default:
		return nil, "", fmt.Errorf("unsupported model provider %q", cfg.Provider)
	}
}

func (a *App) newLedgerStore(ctx context.Context, cfg medscan.LedgerConfig, loadAWS func() (aws.Config, error)) (ledger.Store, error) {
	switch cfg.Backend {
	case "memory":
		slog.Warn("SETUP: Token balances are kept in memory and lost on restart")
		return ledger.NewMemoryStore(), nil
	case "dynamodb":
		awsCfg, err := loadAWS()
		if err != nil {
			return nil, err
		}
		return ledger.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.Table), nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, errors.New("LEDGER_DSN is required for the postgres ledger")
		}
		pool, err := ledger.NewPostgresPool(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		return ledger.NewPostgresStore(pool), nil
	default:
		return nil, fmt.Errorf("unsupported ledger backend %q", cfg.Backend)
	}
}

func (a *App) newRegistryStore(ctx context.Context, cfg medscan.RegistryConfig, loadAWS func() (aws.Config, error)) (registry.Store, error) {
	switch cfg.Backend {
	case "file":
		return loadSnapshot(ctx, source.NewFileSnapshot(cfg.Path))
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, errors.New("REGISTRY_S3_BUCKET is required for the s3 registry")
		}
		awsCfg, err := loadAWS()
		if err != nil {
			return nil, err
		}
		return loadSnapshot(ctx, source.NewS3Snapshot(s3.NewFromConfig(awsCfg), cfg.S3Bucket, cfg.S3Key))
	case registry.DriverPostgres, registry.DriverSQLite:
		store, err := registry.OpenSQLStore(ctx, cfg.Backend, cfg.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported registry backend %q", cfg.Backend)
	}
}

func loadSnapshot(ctx context.Context, snapshot source.Snapshot) (*registry.MemoryStore, error) {
	store, err := registry.LoadMemoryStore(ctx, snapshot)
	if err != nil {
		return nil, err
	}
	slog.Info("SETUP: Registry snapshot loaded", "records", store.Len())
	return store, nil
}

func newImageResolver(cfg medscan.ServerConfig, loadAWS func() (aws.Config, error)) (*imagesource.Resolver, error) {
	var opts imagesource.ResolverOptions
	if cfg.S3Images {
		awsCfg, err := loadAWS()
		if err != nil {
			return nil, err
		}
		opts.S3 = s3.NewFromConfig(awsCfg)
	}
	if cfg.AzureAccount != "" && cfg.AzureKey != "" {
		blobClient, err := imagesource.NewAzureBlobClient(cfg.AzureAccount, cfg.AzureKey)
		if err != nil {
			return nil, err
		}
		opts.AzureBlob = blobClient
	}
	return imagesource.NewResolver(opts), nil
}
