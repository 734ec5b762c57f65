// Package amocrm provides a minimal client for the amoCRM REST API v4.
// Only the contacts resource is implemented: list with pagination, get one and batch update.
package amocrm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout = 60 * time.Second
	maxRetries     = 3
	baseRetryDelay = 500 * time.Millisecond
)

// Client is an amoCRM API client bound to one account domain.
// The HTTP client is expected to add authorization (see pkg/auth).
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	retryDelay time.Duration
	contacts   *ContactsService
}

// NewClient creates a client for baseURL (e.g. https://example.amocrm.ru).
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
		retryDelay: baseRetryDelay,
	}
	c.contacts = &ContactsService{client: c}
	return c
}

// BaseURLForDomain returns the API base URL for an account domain such as "example.amocrm.ru".
func BaseURLForDomain(domain string) string {
	domain = strings.TrimSpace(domain)
	if strings.HasPrefix(domain, "http://") || strings.HasPrefix(domain, "https://") {
		return strings.TrimRight(domain, "/")
	}
	return "https://" + strings.TrimRight(domain, "/")
}

// Contacts returns the contacts resource.
func (c *Client) Contacts() *ContactsService {
	return c.contacts
}

// doRequest performs an API request and decodes a JSON response into out (if non-nil).
// 5xx and 429 responses are retried with exponential backoff.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body, out any) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL = reqURL + "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1)) // 500ms, 1s, 2s
			c.logger.Debug("retrying request", "attempt", attempt, "delay", delay, "url", reqURL)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		c.logger.Debug("amocrm request", "method", method, "url", reqURL, "attempt", attempt)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("amocrm request failed", "error", err)
			return &APIError{Err: err}
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return &APIError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			lastErr = newAPIError(resp.StatusCode, respBody)
			c.logger.Warn("amocrm server error, will retry",
				"status", resp.StatusCode,
				"attempt", attempt,
				"maxRetries", maxRetries,
				"path", path,
			)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusNoContent:
			return &APIError{StatusCode: resp.StatusCode, Err: ErrNoContent}
		case resp.StatusCode == http.StatusUnauthorized:
			apiErr := newAPIError(resp.StatusCode, respBody)
			apiErr.Err = ErrUnauthorized
			return apiErr
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			c.logger.Error("amocrm request error", "status", resp.StatusCode, "body", string(respBody))
			return newAPIError(resp.StatusCode, respBody)
		}

		if out == nil || len(respBody) == 0 {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return &APIError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to parse response: %w", err)}
		}
		return nil
	}

	c.logger.Error("amocrm request failed after retries", "error", lastErr, "url", reqURL)
	return lastErr
}

// newAPIError builds an APIError from a non-2xx response body.
func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}

	var p problem
	if err := json.Unmarshal(body, &p); err == nil && (p.Title != "" || p.Detail != "") {
		apiErr.Title = p.Title
		apiErr.Detail = p.Detail
		for _, ve := range p.ValidationErrors {
			for _, e := range ve.Errors {
				apiErr.Detail = strings.TrimSpace(fmt.Sprintf("%s %s: %s", apiErr.Detail, e.Path, e.Detail))
			}
		}
		return apiErr
	}

	apiErr.Detail = strings.TrimSpace(string(body))
	return apiErr
}
