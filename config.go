package medscan

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config is the process-wide configuration decoded from the environment with envdecode.
type Config struct {
	Model    ModelConfig
	Pipeline PipelineConfig
	Ledger   LedgerConfig
	Registry RegistryConfig
	Server   ServerConfig
	Notify   NotifyConfig
}

type ModelConfig struct {
	Provider       string        `env:"MODEL_PROVIDER,default=bedrock"`
	ModelID        string        `env:"MODEL_ID"`
	MaxTokens      int32         `env:"MAX_TOKENS,default=2048"`
	Temperature    float32       `env:"TEMPERATURE,default=0.2"`
	TopP           float32       `env:"TOP_P,default=0.9"`
	Timeout        time.Duration `env:"MODEL_TIMEOUT,default=45s"`
	OllamaEndpoint string        `env:"BASE_OLLAMA_ENDPOINT,default=http://localhost:11434"`
}

type PipelineConfig struct {
	LowConfidenceThreshold float64 `env:"LOW_CONFIDENCE_THRESHOLD,default=0.7"`
	Language               string  `env:"REPORT_LANGUAGE,default=English"`
	RunLog                 string  `env:"RUN_LOG,default=stdout"`
}

type LedgerConfig struct {
	Backend       string `env:"LEDGER_BACKEND,default=memory"`
	WelcomeTokens int    `env:"WELCOME_TOKENS,default=30"`
	Table         string `env:"LEDGER_TABLE,default=medscan-token-accounts"`
	DSN           string `env:"LEDGER_DSN"`
}

type RegistryConfig struct {
	Backend        string  `env:"REGISTRY_BACKEND,default=file"`
	Path           string  `env:"REGISTRY_PATH,default=artifacts/registry.json"`
	S3Bucket       string  `env:"REGISTRY_S3_BUCKET"`
	S3Key          string  `env:"REGISTRY_S3_KEY,default=registry.json"`
	DSN            string  `env:"REGISTRY_DSN"`
	FuzzyThreshold float64 `env:"REGISTRY_FUZZY_THRESHOLD,default=0.8"`
}

type ServerConfig struct {
	Addr           string        `env:"HTTP_ADDR,default=:8080"`
	JWTSecret      string        `env:"JWT_SECRET"`
	MaxBodyBytes   int64         `env:"MAX_BODY_BYTES,default=10485760"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT,default=120s"`
	S3Images       bool          `env:"IMAGE_S3_REFERENCES,default=false"`
	AzureAccount   string        `env:"AZURE_STORAGE_ACCOUNT"`
	AzureKey       string        `env:"AZURE_STORAGE_KEY"`
}

type NotifyConfig struct {
	SlackWebhookURL string `env:"SLACK_WEBHOOK_URL"`
	BillingChannel  string `env:"SLACK_BILLING_CHANNEL,default=#billing-alerts"`
}

// LoadConfig decodes Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}
