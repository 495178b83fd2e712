// Package push sends best-effort notifications to a participant's device.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go-traderoom/internal/metrics"
)

const defaultTimeout = 5 * time.Second

// Message is the JSON body posted to the push endpoint.
type Message struct {
	To    string `json:"to"`
	Title string `json:"title"`
	Body  string `json:"body"`
	Sound string `json:"sound,omitempty"`
}

type Client struct {
	url     string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewClient returns a client posting to url. An empty url yields a client that
// drops every notification.
func NewClient(url string, logger *slog.Logger) *Client {
	return &Client{
		url:     url,
		timeout: defaultTimeout,
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  logger,
	}
}

// Send posts one notification and waits for the response.
func (c *Client) Send(ctx context.Context, token, title, body string) error {
	if c.url == "" || token == "" {
		return nil
	}

	payload, err := json.Marshal(Message{To: token, Title: title, Body: body, Sound: "default"})
	if err != nil {
		return fmt.Errorf("marshal push message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("push request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("push endpoint returned status %d: %s", resp.StatusCode, respBody)
	}
	return nil
}

// Notify sends in the background. Failures are logged and counted, never returned.
func (c *Client) Notify(ctx context.Context, token, title, body string) {
	if c.url == "" || token == "" {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		if err := c.Send(ctx, token, title, body); err != nil {
			metrics.PushFailures.Inc()
			c.logger.Warn("push notification failed", "title", title, "error", err)
		}
	}()
}

// Wait blocks until background notifications have finished.
func (c *Client) Wait() {
	c.wg.Wait()
}
