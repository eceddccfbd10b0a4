// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/puppypeer/puppyagent/lib/clock"
	"github.com/puppypeer/puppyagent/lib/netutil"
)

// githubAPIVersion pins the REST API version header.
const githubAPIVersion = "2022-11-28"

// DefaultBaseURL is the base URL for the public GitHub API.
const DefaultBaseURL = "https://api.github.com"

// Config holds configuration for creating a Client.
type Config struct {
	// BaseURL is the root URL for API requests. Defaults to
	// DefaultBaseURL. Must use HTTPS.
	BaseURL string

	// Token is an optional personal access token or fine-grained
	// token. Empty means anonymous requests.
	Token string

	// UserAgent is sent with every request. GitHub rejects requests
	// without one.
	UserAgent string

	// HTTPClient is used for all HTTP requests. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// Clock provides time operations. Defaults to clock.Real().
	Clock clock.Clock

	// Logger is used for structured logging. Defaults to slog.Default().
	Logger *slog.Logger
}

// Client is a GitHub REST API client for release metadata and assets.
type Client struct {
	baseURL     string
	token       string
	userAgent   string
	httpClient  *http.Client
	rateLimit   *rateLimitTracker
	conditional *conditionalCache
	clock       clock.Clock
	logger      *slog.Logger
}

// NewClient creates a client from config. Returns an error for a
// non-HTTPS base URL.
func NewClient(config Config) (*Client, error) {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	if !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("github: API client requires HTTPS (got %q)", baseURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = "puppyagent"
	}

	return &Client{
		baseURL:     baseURL,
		token:       config.Token,
		userAgent:   userAgent,
		httpClient:  httpClient,
		rateLimit:   newRateLimitTracker(clk),
		conditional: newConditionalCache(),
		clock:       clk,
		logger:      logger,
	}, nil
}

// get performs a GET against an API path and decodes the JSON body
// into result. Handles rate limit waiting, ETag caching, and error
// parsing.
func (client *Client) get(ctx context.Context, path string, result any) error {
	body, err := client.getWithRetry(ctx, client.baseURL+path, false)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, result)
}

// getWithRetry retries once after a rate-limited response.
func (client *Client) getWithRetry(ctx context.Context, url string, isRetry bool) ([]byte, error) {
	response, err := client.doRaw(ctx, url, "application/vnd.github+json")
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotModified {
		if cached, ok := client.conditional.lookup(url); ok {
			return cached.body, nil
		}
	}

	body, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("github: reading response body: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		apiError := parseAPIErrorFromBody(response.StatusCode, body)
		if !isRetry && apiError.RateLimited() {
			retryDuration := client.rateLimit.retryAfter(response.Header)
			if retryDuration > 0 {
				client.logger.Info("rate limited, backing off",
					"duration", retryDuration,
					"url", url,
				)
				select {
				case <-client.clock.After(retryDuration):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				return client.getWithRetry(ctx, url, true)
			}
		}
		return nil, apiError
	}

	client.conditional.store(url, response.Header.Get("ETag"), body)
	return body, nil
}

// doRaw sends a GET with authentication and rate limit waiting. The
// caller closes the response body.
func (client *Client) doRaw(ctx context.Context, url, accept string) (*http.Response, error) {
	if err := client.rateLimit.wait(ctx); err != nil {
		return nil, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("github: creating request: %w", err)
	}
	if client.token != "" {
		request.Header.Set("Authorization", "Bearer "+client.token)
	}
	request.Header.Set("Accept", accept)
	request.Header.Set("X-GitHub-Api-Version", githubAPIVersion)
	request.Header.Set("User-Agent", client.userAgent)

	if accept != "application/octet-stream" {
		if cached, ok := client.conditional.lookup(url); ok {
			request.Header.Set("If-None-Match", cached.etag)
		}
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("github: GET %s: %w", url, err)
	}
	client.rateLimit.update(response.Header)
	return response, nil
}

// parseAPIError reads a GitHub API error from an HTTP response.
func parseAPIError(response *http.Response) *APIError {
	body, _ := netutil.ReadResponse(response.Body)
	return parseAPIErrorFromBody(response.StatusCode, body)
}

func parseAPIErrorFromBody(statusCode int, body []byte) *APIError {
	apiError := &APIError{StatusCode: statusCode}

	var wireError struct {
		Message          string `json:"message"`
		DocumentationURL string `json:"documentation_url"`
	}
	if json.Unmarshal(body, &wireError) == nil && wireError.Message != "" {
		apiError.Message = wireError.Message
		apiError.DocumentationURL = wireError.DocumentationURL
	} else {
		apiError.Message = string(body)
	}
	return apiError
}
