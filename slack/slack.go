package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"medscan"
)

// Client posts messages to a Slack incoming webhook. It satisfies medscan.Notifier.
type Client struct {
	webhookURL string
	httpClient medscan.HTTPClient
}

func NewClient(webhookURL string, httpClient medscan.HTTPClient) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		webhookURL: webhookURL,
		httpClient: httpClient,
	}
}

func (c *Client) PostMessage(ctx context.Context, channel string, message string) error {
	payload, err := json.Marshal(map[string]any{
		"channel": channel,
		"text":    message,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to post message: %s", resp.Status)
	}

	return nil
}

// Discard is a Notifier that drops every message. Used when no webhook is configured.
type Discard struct{}

func (Discard) PostMessage(context.Context, string, string) error { return nil }

// NewNotifier returns a webhook client, or Discard when webhookURL is empty.
func NewNotifier(webhookURL string, httpClient medscan.HTTPClient) medscan.Notifier {
	if webhookURL == "" {
		return Discard{}
	}
	return NewClient(webhookURL, httpClient)
}
