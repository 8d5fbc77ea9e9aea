// Package samgov provides a minimal HTTP transport for a SAM.gov-style
// federal registry. It distinguishes three outcome classes (found, not
// found, transient failure) and leaves decoding and retry to the caller.
package samgov

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

// Endpoint names one registry API. Each endpoint has its own quota upstream.
type Endpoint string

// Registry endpoints.
const (
	EndpointEntity        Endpoint = "entity"
	EndpointOpportunities Endpoint = "opportunities"
	EndpointAwards        Endpoint = "awards"
)

// ErrNotFound is returned when the registry answers 404 for a key.
var ErrNotFound = errors.New("samgov: not found")

// maxBodyBytes bounds a single response body.
const maxBodyBytes = 8 << 20

// StatusError carries a non-2xx, non-404 response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("samgov: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Client defines the registry lookup operation.
type Client interface {
	// Lookup fetches the raw JSON envelope for key under the given endpoint
	// and section (e.g. entity/awardee).
	Lookup(ctx context.Context, endpoint Endpoint, section, key string) ([]byte, error)
}

// Option configures the registry client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new registry client. Per-call deadlines come from the
// caller's context; the http.Client timeout is only a backstop.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.sam.gov",
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Lookup(ctx context.Context, endpoint Endpoint, section, key string) ([]byte, error) {
	if key == "" {
		return nil, eris.New("samgov: empty key")
	}

	reqURL := fmt.Sprintf("%s/%s/v1/%s/%s", c.baseURL, endpoint, url.PathEscape(section), url.PathEscape(key))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "samgov: create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "samgov: %s request", endpoint)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrapf(err, "samgov: read %s response body", endpoint)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, eris.Wrapf(ErrNotFound, "samgov: %s %s/%s", endpoint, section, key)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}
	}

	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
