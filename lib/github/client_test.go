// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/puppypeer/puppyagent/lib/clock"
	"github.com/puppypeer/puppyagent/lib/fault"
)

func newTestClient(t *testing.T, server *httptest.Server, token string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL:    server.URL,
		Token:      token,
		HTTPClient: server.Client(),
		Clock:      clock.Real(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestNewClient_HTTPSEnforcement(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "http://api.github.com"})
	if err == nil {
		t.Fatal("expected error for HTTP URL")
	}
	if got := err.Error(); got != `github: API client requires HTTPS (got "http://api.github.com")` {
		t.Errorf("unexpected error: %s", got)
	}
}

func TestClient_Headers(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		wantAuth string
	}{
		{"anonymous", "", ""},
		{"token", "test-token", "Bearer test-token"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var received http.Header
			server := httptest.NewTLSServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
				received = request.Header.Clone()
				writer.Write([]byte(`{"tag_name":"v1.0.0"}`))
			}))
			defer server.Close()

			client := newTestClient(t, server, test.token)
			if _, err := client.GetLatestRelease(context.Background(), "puppypeer", "puppyagent"); err != nil {
				t.Fatalf("GetLatestRelease: %v", err)
			}
			if got := received.Get("Authorization"); got != test.wantAuth {
				t.Errorf("Authorization = %q, want %q", got, test.wantAuth)
			}
			if got := received.Get("Accept"); got != "application/vnd.github+json" {
				t.Errorf("Accept = %q", got)
			}
			if got := received.Get("X-GitHub-Api-Version"); got != "2022-11-28" {
				t.Errorf("X-GitHub-Api-Version = %q", got)
			}
			if received.Get("User-Agent") == "" {
				t.Error("User-Agent not set")
			}
		})
	}
}

func TestClient_RateLimitBackoff(t *testing.T) {
	fakeClock := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	requestCount := 0
	resetTime := fakeClock.Now().Add(30 * time.Second)

	server := httptest.NewTLSServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		requestCount++
		if requestCount == 1 {
			writer.Header().Set("X-RateLimit-Remaining", "0")
			writer.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))
			writer.Header().Set("Retry-After", "30")
			writer.WriteHeader(http.StatusForbidden)
			json.NewEncoder(writer).Encode(map[string]string{"message": "API rate limit exceeded"})
			return
		}
		writer.Header().Set("X-RateLimit-Remaining", "59")
		writer.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Add(time.Hour).Unix(), 10))
		writer.Write([]byte(`{"tag_name":"v1.2.0"}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		Clock:      fakeClock,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	done := make(chan error, 1)
	var release *Release
	go func() {
		var requestErr error
		release, requestErr = client.GetLatestRelease(context.Background(), "puppypeer", "puppyagent")
		done <- requestErr
	}()

	// The backoff registers one timer. The tracker's own wait sees the
	// reset time already passed after the advance and does not block.
	fakeClock.WaitForTimers(1)
	fakeClock.Advance(31 * time.Second)

	if err := <-done; err != nil {
		t.Fatalf("GetLatestRelease: %v", err)
	}
	if requestCount != 2 {
		t.Errorf("expected 2 requests, got %d", requestCount)
	}
	if release == nil || release.TagName != "v1.2.0" {
		t.Errorf("release = %+v", release)
	}
}

func TestClient_ETagCaching(t *testing.T) {
	requestCount := 0
	server := httptest.NewTLSServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		requestCount++
		if request.Header.Get("If-None-Match") == `"etag-123"` {
			writer.WriteHeader(http.StatusNotModified)
			return
		}
		writer.Header().Set("ETag", `"etag-123"`)
		writer.Write([]byte(`{"tag_name":"v1.0.0","name":"Cached"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, "")
	ctx := context.Background()
	for i := range 2 {
		release, err := client.GetReleaseByTag(ctx, "puppypeer", "puppyagent", "v1.0.0")
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if release.Name != "Cached" {
			t.Errorf("request %d: name = %q", i, release.Name)
		}
	}
	if requestCount != 2 {
		t.Errorf("expected 2 HTTP requests, got %d", requestCount)
	}
}

func TestClient_NotFound(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusNotFound)
		json.NewEncoder(writer).Encode(map[string]any{
			"message":           "Not Found",
			"documentation_url": "https://docs.github.com/rest",
		})
	}))
	defer server.Close()

	client := newTestClient(t, server, "")
	_, err := client.GetReleaseByTag(context.Background(), "puppypeer", "puppyagent", "v9.9.9")
	if !IsNotFound(err) {
		t.Fatalf("expected IsNotFound, got: %v", err)
	}
	if IsRateLimited(err) {
		t.Error("404 classified as rate limited")
	}
	if !errors.Is(err, fault.NotFound) {
		t.Errorf("404 does not match fault.NotFound: %v", err)
	}
	if errors.Is(err, fault.InternalIO) {
		t.Error("404 matches fault.InternalIO")
	}
}

func TestListReleasesPaginates(t *testing.T) {
	page := 0
	server := httptest.NewTLSServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		page++
		switch page {
		case 1:
			writer.Header().Set("Link", `<https://`+request.Host+`/repos/puppypeer/puppyagent/releases?page=2>; rel="next"`)
			json.NewEncoder(writer).Encode([]Release{{TagName: "v1.2.0"}, {TagName: "v1.1.0"}})
		case 2:
			json.NewEncoder(writer).Encode([]Release{{TagName: "v1.0.0"}})
		default:
			t.Errorf("unexpected page %d", page)
			writer.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server, "")
	releases, err := client.ListReleases("puppypeer", "puppyagent").Collect(context.Background(), 0)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(releases) != 3 || releases[2].TagName != "v1.0.0" {
		t.Errorf("releases = %+v", releases)
	}
}

func TestDownloadAsset(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/repos/puppypeer/puppyagent/releases/assets/7" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		if got := request.Header.Get("Accept"); got != "application/octet-stream" {
			t.Errorf("Accept = %q", got)
		}
		writer.Write([]byte("tarball"))
	}))
	defer server.Close()

	client := newTestClient(t, server, "")
	body, size, err := client.DownloadAsset(context.Background(), Asset{
		Name: "puppyagent-linux-amd64-1.0.0.tar.gz",
		URL:  server.URL + "/repos/puppypeer/puppyagent/releases/assets/7",
	})
	if err != nil {
		t.Fatalf("DownloadAsset: %v", err)
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("reading asset: %v", err)
	}
	if string(data) != "tarball" || size != 7 {
		t.Errorf("asset = %q (size %d)", data, size)
	}
}

func TestParseLinkNext(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{`<https://api.github.com/x?page=2>; rel="next", <https://api.github.com/x?page=5>; rel="last"`, "https://api.github.com/x?page=2"},
		{`<https://api.github.com/x?page=1>; rel="prev"`, ""},
		{`garbage`, ""},
	}
	for _, test := range tests {
		if got := parseLinkNext(test.header); got != test.want {
			t.Errorf("parseLinkNext(%q) = %q, want %q", test.header, got, test.want)
		}
	}
}
