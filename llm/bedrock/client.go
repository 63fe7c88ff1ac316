package bedrock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"medscan"
)

const (
	// defaultModelID is an inference profile ID, not the foundation model's ID, and must accept image input.
	// See https://docs.aws.amazon.com/bedrock/latest/userguide/inference-profiles.html.
	defaultModelID = "us.anthropic.claude-3-7-sonnet-20250219-v1:0"

	// Reports run to ten fields of prose; 1k tokens truncates them.
	defaultMaxTokens = 2048

	// Low temperature keeps outputs more deterministic, which is better for JSON extraction.
	defaultTemperature = 0.2

	defaultTopP = 0.9
)

type bedrockRuntimeClient interface {
	Converse(context.Context, *bedrockruntime.ConverseInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

type Options struct {
	ModelID     string
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

// Client is a medscan.VisionModel backed by the Bedrock Converse API.
type Client struct {
	brc  bedrockRuntimeClient
	opts Options
}

func NewClient(brc bedrockRuntimeClient, opts Options) *Client {
	if opts.ModelID == "" {
		opts.ModelID = defaultModelID
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Temperature == 0 {
		opts.Temperature = defaultTemperature
	}
	if opts.TopP == 0 {
		opts.TopP = defaultTopP
	}
	return &Client{
		brc:  brc,
		opts: opts,
	}
}

// ModelID returns the configured model or inference profile.
func (c *Client) ModelID() string {
	return c.opts.ModelID
}

// Generate sends one user turn made of an optional image and the prompt text and returns the reply text.
func (c *Client) Generate(ctx context.Context, prompt string, image *medscan.Image) (string, error) {
	slog.Info("LLM_CLIENT: Invoked", "prompt_len", len(prompt), "has_image", image != nil)

	msg := types.Message{Role: types.ConversationRoleUser}
	if image != nil && len(image.Data) > 0 {
		format, err := imageFormat(image.MIMEType)
		if err != nil {
			return "", err
		}
		msg.Content = append(msg.Content, &types.ContentBlockMemberImage{
			Value: types.ImageBlock{
				Format: format,
				Source: &types.ImageSourceMemberBytes{Value: image.Data},
			},
		})
		slog.Info("LLM_CLIENT: Added image content", "format", format, "bytes", len(image.Data))
	}
	msg.Content = append(msg.Content, &types.ContentBlockMemberText{Value: prompt})

	in := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(c.opts.ModelID),
		Messages: []types.Message{msg},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(c.opts.MaxTokens),
			Temperature: aws.Float32(c.opts.Temperature),
			TopP:        aws.Float32(c.opts.TopP),
		},
	}
	out, err := c.brc.Converse(ctx, in)
	if err != nil {
		slog.Error("LLM_CLIENT: Bedrock invoke failed", "error", err, "model_id", c.opts.ModelID)
		return "", classify(err)
	}

	attrs := []any{"stop_reason", out.StopReason}
	if out.Metrics != nil {
		attrs = append(attrs, "latency_ms", aws.ToInt64(out.Metrics.LatencyMs))
	}
	if out.Usage != nil {
		attrs = append(attrs,
			"input_tokens", aws.ToInt32(out.Usage.InputTokens),
			"output_tokens", aws.ToInt32(out.Usage.OutputTokens),
		)
	}
	slog.Info("LLM_CLIENT: Bedrock invoke succeeded", attrs...)

	switch out.StopReason {
	case types.StopReasonGuardrailIntervened, types.StopReasonContentFiltered:
		slog.Warn("LLM_CLIENT: Model response blocked by Bedrock safety filters")
		return "", fmt.Errorf("%w: model response blocked by Bedrock safety filters", medscan.ErrAnalysis)

	case types.StopReasonMaxTokens:
		// A truncated report still goes through the lenient parser.
		slog.Warn("LLM_CLIENT: Model hit MaxTokens limit; returning truncated text", "max_tokens", c.opts.MaxTokens)
	}

	text := textFromOutput(out)
	slog.Info("LLM_CLIENT: Extracted text", "text_len", len(text))
	return text, nil
}

func imageFormat(mimeType string) (types.ImageFormat, error) {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/png":
		return types.ImageFormatPng, nil
	case "image/jpeg", "image/jpg":
		return types.ImageFormatJpeg, nil
	case "image/gif":
		return types.ImageFormatGif, nil
	case "image/webp":
		return types.ImageFormatWebp, nil
	default:
		return "", fmt.Errorf("%w: unsupported image type %q", medscan.ErrInvalidRequest, mimeType)
	}
}

// classify marks capacity errors as retryable service unavailability; everything else is an analysis failure.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var (
		throttled   *types.ThrottlingException
		unavailable *types.ServiceUnavailableException
		notReady    *types.ModelNotReadyException
	)
	if errors.As(err, &throttled) || errors.As(err, &unavailable) || errors.As(err, &notReady) {
		return fmt.Errorf("%w: bedrock: %w", medscan.ErrServiceUnavailable, err)
	}
	return fmt.Errorf("%w: bedrock: %w", medscan.ErrAnalysis, err)
}

// textFromOutput joins the assistant's text blocks with '\n'.
func textFromOutput(out *bedrockruntime.ConverseOutput) string {
	if out == nil || out.Output == nil {
		return ""
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok || msg == nil || len(msg.Value.Content) == 0 {
		return ""
	}

	texts := make([]string, 0, len(msg.Value.Content))
	for _, cb := range msg.Value.Content {
		if t, ok := cb.(*types.ContentBlockMemberText); ok && t != nil && t.Value != "" {
			texts = append(texts, t.Value)
		}
	}
	return strings.Join(texts, "\n")
}
