// Package auditsink implements the remote audit collector client.
package auditsink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Strob0t/TheraGate/internal/port/auditsink"
	"github.com/Strob0t/TheraGate/internal/resilience"
)

// StatusError is a non-2xx answer from the collector.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("audit collector returned %d: %s", e.Code, e.Body)
}

// Client posts records to <baseURL>/audit/logs behind a circuit breaker.
type Client struct {
	url        string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

var _ auditsink.Sink = (*Client)(nil)

// NewClient creates a collector client. Only server errors and transport
// failures count toward opening the breaker.
func NewClient(baseURL string, timeout time.Duration, breaker *resilience.Breaker) *Client {
	return &Client{
		url:        strings.TrimRight(baseURL, "/") + "/audit/logs",
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
	}
}

// CountsAsFailure reports whether err indicates an unhealthy collector.
// Pass it to resilience.WithFailureFilter when building the breaker.
func CountsAsFailure(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return true
}

// Send delivers one record.
func (c *Client) Send(ctx context.Context, rec auditsink.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	if c.breaker == nil {
		return c.post(ctx, body)
	}
	return c.breaker.Execute(func() error { return c.post(ctx, body) })
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("audit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req) //nolint:gosec // collector URL from trusted config
	if err != nil {
		return fmt.Errorf("audit send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Code: resp.StatusCode, Body: string(b)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
