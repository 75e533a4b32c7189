// Package gitlab is a small client for the GitLab v4 REST API covering the
// projects, members, labels, milestones, issues and merge requests endpoints.
package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kerrors "github.com/p-blackswan/ken/internal/errors"
	"github.com/p-blackswan/ken/internal/retry"
)

const (
	apiPrefix      = "/api/v4"
	defaultPerPage = 100
	maxErrorBody   = 4 << 10
)

// HTTPClient abstracts HTTP calls for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client wraps the GitLab REST API.
type Client struct {
	baseURL    string
	httpClient HTTPClient
	auth       Authenticator
	limiter    *rate.Limiter
	retry      retry.Config
	logger     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (for testing).
func WithHTTPClient(hc HTTPClient) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit paces outgoing requests. Workload aggregation issues two
// requests per member and self-hosted instances throttle aggressively.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithRetry overrides the backoff applied to GET requests.
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

// NewClient creates a new GitLab API client. baseURL is the instance root,
// e.g. https://gitlab.com.
func NewClient(baseURL string, auth Authenticator, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		auth:       auth,
		retry:      retry.DefaultConfig(),
		logger:     logger.With().Str("component", "gitlab").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the base URL of the GitLab instance.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func projectPath(projectID string, rest ...string) string {
	p := "/projects/" + url.PathEscape(projectID)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

// get issues a GET, retrying transient failures.
func (c *Client) get(ctx context.Context, path string, opts any) ([]byte, error) {
	var body []byte
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		b, err := c.do(ctx, http.MethodGet, path, opts, nil)
		body = b
		return err
	})
	return body, err
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, nil, payload)
}

// do executes an authenticated API request and returns the response body
// of a 2xx response.
func (c *Client) do(ctx context.Context, method, path string, opts any, payload any) ([]byte, error) {
	u := c.baseURL + apiPrefix + path
	if opts != nil {
		v, err := query.Values(opts)
		if err != nil {
			return nil, fmt.Errorf("encoding query: %w", err)
		}
		if enc := v.Encode(); enc != "" {
			u += "?" + enc
		}
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.auth.Apply(req); err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrAuthFailure, err)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gitlab %s %s: %w: %w", method, path, kerrors.ErrTransport, err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("gitlab request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, kerrors.NewAPIError("gitlab", resp.StatusCode, errorMessage(msg))
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gitlab %s %s: reading body: %w: %w", method, path, kerrors.ErrTransport, err)
	}
	return b, nil
}

// errorMessage pulls "message" or "error" out of a GitLab error body.
func errorMessage(body []byte) string {
	var e struct {
		Message json.RawMessage `json:"message"`
		Error   string          `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil {
		if len(e.Message) > 0 {
			var s string
			if json.Unmarshal(e.Message, &s) == nil {
				return s
			}
			return string(e.Message)
		}
		if e.Error != "" {
			return e.Error
		}
	}
	return strings.TrimSpace(string(body))
}
