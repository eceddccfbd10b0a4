// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Release is the subset of a GitHub release PuppyAgent uses.
type Release struct {
	ID          int64     `json:"id"`
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	HTMLURL     string    `json:"html_url"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
	Assets      []Asset   `json:"assets"`
}

// Asset is a file attached to a release.
type Asset struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	Size               int64  `json:"size"`
	ContentType        string `json:"content_type"`
	BrowserDownloadURL string `json:"browser_download_url"`
	URL                string `json:"url"`
}

// FindAsset returns the asset named name.
func (release *Release) FindAsset(name string) (Asset, bool) {
	for _, asset := range release.Assets {
		if asset.Name == name {
			return asset, true
		}
	}
	return Asset{}, false
}

// GetLatestRelease returns the newest non-draft, non-prerelease
// release.
func (client *Client) GetLatestRelease(ctx context.Context, owner, repo string) (*Release, error) {
	var release Release
	path := fmt.Sprintf("/repos/%s/%s/releases/latest", url.PathEscape(owner), url.PathEscape(repo))
	if err := client.get(ctx, path, &release); err != nil {
		return nil, fmt.Errorf("getting latest release of %s/%s: %w", owner, repo, err)
	}
	return &release, nil
}

// GetReleaseByTag returns the release tagged tag.
func (client *Client) GetReleaseByTag(ctx context.Context, owner, repo, tag string) (*Release, error) {
	var release Release
	path := fmt.Sprintf("/repos/%s/%s/releases/tags/%s", url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(tag))
	if err := client.get(ctx, path, &release); err != nil {
		return nil, fmt.Errorf("getting release %s of %s/%s: %w", tag, owner, repo, err)
	}
	return &release, nil
}

// ListReleases iterates releases newest first, including drafts
// visible to the token and prereleases.
func (client *Client) ListReleases(owner, repo string) *PageIterator[Release] {
	return list[Release](client, fmt.Sprintf("/repos/%s/%s/releases?per_page=50", url.PathEscape(owner), url.PathEscape(repo)))
}

// DownloadAsset streams an asset's bytes. The asset API URL is used
// with an octet-stream Accept header; GitHub answers with a redirect to
// short-lived storage, which the http.Client follows. The caller closes
// the returned body. The second result is the Content-Length, or -1.
func (client *Client) DownloadAsset(ctx context.Context, asset Asset) (io.ReadCloser, int64, error) {
	target := asset.URL
	accept := "application/octet-stream"
	if target == "" {
		target = asset.BrowserDownloadURL
	}
	if target == "" {
		return nil, 0, fmt.Errorf("github: asset %s has no download URL", asset.Name)
	}

	response, err := client.doRaw(ctx, target, accept)
	if err != nil {
		return nil, 0, fmt.Errorf("downloading %s: %w", asset.Name, err)
	}
	if response.StatusCode != http.StatusOK {
		defer response.Body.Close()
		return nil, 0, fmt.Errorf("downloading %s: %w", asset.Name, parseAPIError(response))
	}
	return response.Body, response.ContentLength, nil
}
