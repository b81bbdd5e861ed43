// Package ghapi queries the GitHub REST API for the credentials an analysis
// is going to use.
package ghapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultHost = "github.com"
	accept      = "application/vnd.github+json"
	timeout     = 10 * time.Second
)

// Client talks to api.github.com or to a GitHub Enterprise Server.
type Client struct {
	client  *http.Client
	baseURL string // overrides the host derived URL, tests only
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.client = c
	}
}

// WithBaseURL sends every request to url regardless of the host.
func WithBaseURL(url string) Option {
	return func(cl *Client) {
		cl.baseURL = strings.TrimRight(url, "/")
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		client: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL is the REST API root of host.
func BaseURL(host string) string {
	if host == "" || host == defaultHost {
		return "https://api.github.com"
	}
	return "https://" + host + "/api/v3"
}

func (c *Client) url(host, path string) string {
	base := c.baseURL
	if base == "" {
		base = BaseURL(host)
	}
	return base + path
}

func (c *Client) get(ctx context.Context, token, host, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(host, path), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "token "+token)
	req.Header.Set("Accept", accept)
	return c.client.Do(req)
}

// Validation is the outcome of a token check, Message is meant for humans.
type Validation struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// ValidateToken authenticates as the owner of token. Transport problems are
// reported as an invalid token with a descriptive message.
func (c *Client) ValidateToken(ctx context.Context, token, host string) Validation {
	resp, err := c.get(ctx, token, host, "/user")
	if err != nil {
		slog.DebugContext(ctx, "validating token", "host", host, "error", err)
		if isTimeout(err) {
			return Validation{Message: "Connection timed out"}
		}
		return Validation{Message: "Connection error: " + err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
		var user struct {
			Login string `json:"login"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
			return Validation{Message: "Validation error: " + err.Error()}
		}
		if user.Login == "" {
			user.Login = "unknown"
		}
		return Validation{Valid: true, Message: "Authenticated as " + user.Login}
	case http.StatusUnauthorized:
		return Validation{Message: "Invalid or expired token"}
	case http.StatusForbidden:
		var problem struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&problem)
		if problem.Message == "" {
			problem.Message = "Access forbidden"
		}
		return Validation{Message: "Access denied: " + problem.Message}
	default:
		return Validation{Message: fmt.Sprintf("Unexpected response: %d", resp.StatusCode)}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// RateLimit is the remaining quota of a token.
type RateLimit struct {
	GraphQLRemaining int   `json:"graphql_remaining"`
	GraphQLLimit     int   `json:"graphql_limit"`
	CoreRemaining    int   `json:"core_remaining"`
	CoreLimit        int   `json:"core_limit"`
	ResetTime        int64 `json:"reset_time"` // unix seconds of the GraphQL reset
}

// StatusError is an unexpected HTTP status returned by GitHub.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Failed to get rate limit: %d", e.Code)
}

type resource struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Reset     int64 `json:"reset"`
}

func (c *Client) RateLimit(ctx context.Context, token, host string) (RateLimit, error) {
	resp, err := c.get(ctx, token, host, "/rate_limit")
	if err != nil {
		return RateLimit{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return RateLimit{}, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var data struct {
		Resources struct {
			Core    resource `json:"core"`
			GraphQL resource `json:"graphql"`
		} `json:"resources"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return RateLimit{}, fmt.Errorf("decoding rate limit: %w", err)
	}
	return RateLimit{
		GraphQLRemaining: data.Resources.GraphQL.Remaining,
		GraphQLLimit:     data.Resources.GraphQL.Limit,
		CoreRemaining:    data.Resources.Core.Remaining,
		CoreLimit:        data.Resources.Core.Limit,
		ResetTime:        data.Resources.GraphQL.Reset,
	}, nil
}
