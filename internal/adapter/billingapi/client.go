// Package billingapi implements the billing ports over the domain billing
// service's HTTP JSON API.
package billingapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Strob0t/TheraGate/internal/domain"
	"github.com/Strob0t/TheraGate/internal/domain/webhook"
	"github.com/Strob0t/TheraGate/internal/port/billing"
	"github.com/Strob0t/TheraGate/internal/resilience"
)

// StatusError is a non-2xx answer from the billing API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("billing api returned %d: %s", e.Code, e.Body)
}

// retryable reports whether the status indicates a temporary condition.
func (e *StatusError) retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout
}

// Client implements billing.PaymentService and billing.AccountService.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

var (
	_ billing.PaymentService = (*Client)(nil)
	_ billing.AccountService = (*Client)(nil)
)

// NewClient creates a billing API client. breaker may be nil.
func NewClient(baseURL, apiKey string, timeout time.Duration, breaker *resilience.Breaker) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
	}
}

// CountsAsFailure is the breaker failure filter: permanent 4xx answers
// come from a healthy service and do not count.
func CountsAsFailure(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.retryable()
	}
	return true
}

// ConfirmPayment marks a domain payment as paid.
func (c *Client) ConfirmPayment(ctx context.Context, paymentID string) error {
	return c.do(ctx, http.MethodPost, "/payments/"+url.PathEscape(paymentID)+"/confirm", nil, nil)
}

// MarkFailed marks a domain payment as failed.
func (c *Client) MarkFailed(ctx context.Context, paymentID string) error {
	return c.do(ctx, http.MethodPost, "/payments/"+url.PathEscape(paymentID)+"/fail", nil, nil)
}

// RefreshAccount re-reads a connected account and returns its capabilities.
func (c *Client) RefreshAccount(ctx context.Context, accountID string) (*webhook.Capabilities, error) {
	var caps webhook.Capabilities
	if err := c.do(ctx, http.MethodPost, "/accounts/"+url.PathEscape(accountID)+"/refresh", nil, &caps); err != nil {
		return nil, err
	}
	if caps.AccountID == "" {
		caps.AccountID = accountID
	}
	return &caps, nil
}

// DeactivateAccount disables a connected account after deauthorization.
func (c *Client) DeactivateAccount(ctx context.Context, accountID string) error {
	return c.do(ctx, http.MethodPost, "/accounts/"+url.PathEscape(accountID)+"/deactivate", nil, nil)
}

// do performs one call through the breaker and classifies the error:
// transport failures, retryable statuses and an open circuit are wrapped with
// webhook.Transient; 404 wraps domain.ErrNotFound.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	call := func() error { return c.roundTrip(ctx, method, path, in, out) }

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
	}
	if err == nil {
		return nil
	}

	var se *StatusError
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return webhook.Transient(fmt.Errorf("billing %s: %w", path, err))
	case errors.As(err, &se) && se.Code == http.StatusNotFound:
		return fmt.Errorf("billing %s: %w", path, domain.ErrNotFound)
	case errors.As(err, &se) && !se.retryable():
		return fmt.Errorf("billing %s: %w", path, err)
	default:
		return webhook.Transient(fmt.Errorf("billing %s: %w", path, err))
	}
}

func (c *Client) roundTrip(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // base URL from trusted config
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
