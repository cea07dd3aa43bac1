// Package remote provides a detect.Provider that forwards audio segments to an
// out-of-process detection service over HTTP.
//
// The service is expected to expose:
//
//	POST {base_url}/v1/detect?version=<version>
//	Content-Type: application/octet-stream
//	Authorization: Bearer <api key>      (optional)
//
// and to answer with a JSON body of the form
//
//	{"matched": true, "quotes": [{"version": "...", "book": "...", ...}]}
//
// Usage:
//
//	p, err := remote.New("http://detector:9000", remote.WithAPIKey(key))
//	res, err := p.Detect(ctx, segment, "ASV_bible")
package remote

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

	"github.com/MrWong99/versecatch/pkg/provider/detect"
)

const (
	detectPath = "/v1/detect"

	// maxErrorBody caps how much of a non-2xx response body is copied into the
	// returned error.
	maxErrorBody = 512

	// maxResponseBody caps the decoded success body.
	maxResponseBody = 4 << 20
)

// Compile-time assertion that Provider implements detect.Provider.
var _ detect.Provider = (*Provider)(nil)

// StatusError is returned when the detection service answers with a non-2xx
// status code.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote detect: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote detect: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(p *Provider) {
		p.apiKey = key
	}
}

// WithHTTPClient replaces the default HTTP client. Useful for tests and for
// custom transports.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements detect.Provider by calling a remote HTTP service.
type Provider struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// New creates a Provider talking to the service at baseURL
// (e.g. "http://localhost:9000"). baseURL must be an absolute http(s) URL.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("remote detect: baseURL must not be empty")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("remote detect: parse baseURL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("remote detect: baseURL scheme %q must be http or https", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + detectPath

	p := &Provider{
		endpoint: u.String(),
		// The per-call deadline comes from the caller's context; this is only
		// a last-resort guard against a hung connection.
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Detect posts segment to the detection service and decodes its answer.
func (p *Provider) Detect(ctx context.Context, segment []byte, version string) (detect.Result, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return detect.Result{}, fmt.Errorf("remote detect: %w", err)
	}
	q := u.Query()
	q.Set("version", version)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(segment))
	if err != nil {
		return detect.Result{}, fmt.Errorf("remote detect: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return detect.Result{}, fmt.Errorf("remote detect: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return detect.Result{}, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var res detect.Result
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&res); err != nil {
		return detect.Result{}, fmt.Errorf("remote detect: decode response: %w", err)
	}
	for i := range res.Quotes {
		if res.Quotes[i].Version == "" {
			res.Quotes[i].Version = version
		}
	}
	return res, nil
}
