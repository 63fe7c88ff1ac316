package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"medscan"
)

const (
	defaultEndpoint = "http://localhost:11434"
	defaultModel    = "llava"
)

type options struct {
	Temperature   float64 `json:"temperature,omitempty"`
	TopP          float64 `json:"top_p,omitempty"`
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"`
	NumCtx        int     `json:"num_ctx,omitempty"`
	NumPredict    int     `json:"num_predict,omitempty"`
}

// Client is a medscan.VisionModel backed by a local Ollama server.
type Client struct {
	endpoint   string
	model      string
	httpClient medscan.HTTPClient
	options    options
}

type ClientOpts struct {
	BaseEndpoint string
	ModelID      string
	MaxTokens    int
	Temperature  float64
	TopP         float64
	HTTPClient   medscan.HTTPClient
}

func NewClient(opts ClientOpts) *Client {
	if opts.BaseEndpoint == "" {
		opts.BaseEndpoint = defaultEndpoint
	}
	if opts.ModelID == "" {
		opts.ModelID = defaultModel
	}
	if opts.Temperature == 0 {
		opts.Temperature = 0.2
	}
	if opts.TopP == 0 {
		opts.TopP = 0.9
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Client{
		model:      opts.ModelID,
		httpClient: opts.HTTPClient,
		endpoint:   strings.TrimRight(opts.BaseEndpoint, "/") + "/api/chat",
		options: options{
			Temperature:   opts.Temperature,
			TopP:          opts.TopP,
			RepeatPenalty: 1.05,
			NumCtx:        16384, // raise if your machine can handle it
			NumPredict:    opts.MaxTokens,
		},
	}
}

// ModelID returns the configured model tag.
func (c *Client) ModelID() string {
	return c.model
}

type wireMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type wireRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  options       `json:"options,omitempty"`
}

type wireResponse struct {
	Message    wireMessage `json:"message"`
	DoneReason string      `json:"done_reason,omitempty"`
	// other metadata omitted but available
}

// Generate sends the prompt and optional image as one user message and returns the reply content verbatim.
func (c *Client) Generate(ctx context.Context, prompt string, image *medscan.Image) (string, error) {
	slog.Info("LLM_CLIENT: Invoked", "prompt_len", len(prompt), "has_image", image != nil)

	msg := wireMessage{Role: "user", Content: prompt}
	if image != nil && len(image.Data) > 0 {
		msg.Images = []string{base64.StdEncoding.EncodeToString(image.Data)}
	}

	reqBytes, err := json.Marshal(wireRequest{
		Model:    c.model,
		Messages: []wireMessage{msg},
		Stream:   false,
		Options:  c.options,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: ollama: %w", medscan.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: ollama: %s: %s", medscan.ErrServiceUnavailable, resp.Status, string(body))
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("%w: ollama: %s: %s", medscan.ErrAnalysis, resp.Status, string(body))
	}

	var wr wireResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		slog.Warn("LLM_CLIENT: decode failed, returning raw", "err", err, "body_len", len(body))
		return string(body), nil
	}
	if wr.DoneReason == "length" {
		slog.Warn("LLM_CLIENT: Model hit num_predict limit; returning truncated text")
	}

	slog.Info("LLM_CLIENT: Extracted text", "text_len", len(wr.Message.Content))
	return wr.Message.Content, nil
}
