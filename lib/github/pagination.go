// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// PageIterator lazily fetches pages from a paginated endpoint. Next
// returns nil, nil once all pages are consumed. Not safe for concurrent
// use.
type PageIterator[T any] struct {
	client  *Client
	nextURL string
	done    bool
}

func list[T any](client *Client, path string) *PageIterator[T] {
	return &PageIterator[T]{client: client, nextURL: client.baseURL + path}
}

// Next fetches the next page.
func (iterator *PageIterator[T]) Next(ctx context.Context) ([]T, error) {
	if iterator.done || iterator.nextURL == "" {
		return nil, nil
	}

	response, err := iterator.client.doRaw(ctx, iterator.nextURL, "application/vnd.github+json")
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, parseAPIError(response)
	}

	var items []T
	if err := json.NewDecoder(response.Body).Decode(&items); err != nil {
		return nil, err
	}

	iterator.nextURL = parseLinkNext(response.Header.Get("Link"))
	if iterator.nextURL == "" {
		iterator.done = true
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// Collect fetches at most maxPages remaining pages (zero means all)
// and returns their items concatenated.
func (iterator *PageIterator[T]) Collect(ctx context.Context, maxPages int) ([]T, error) {
	var all []T
	for pages := 0; maxPages <= 0 || pages < maxPages; pages++ {
		items, err := iterator.Next(ctx)
		if err != nil {
			return all, err
		}
		if items == nil {
			break
		}
		all = append(all, items...)
	}
	return all, nil
}

// parseLinkNext extracts the rel="next" URL from an RFC 5988 Link
// header:
//
//	<https://api.github.com/...?page=2>; rel="next", <...>; rel="last"
func parseLinkNext(header string) string {
	for part := range strings.SplitSeq(header, ",") {
		segments := strings.SplitN(strings.TrimSpace(part), ";", 2)
		if len(segments) != 2 {
			continue
		}
		urlPart := strings.TrimSpace(segments[0])
		if !strings.Contains(segments[1], `rel="next"`) {
			continue
		}
		if strings.HasPrefix(urlPart, "<") && strings.HasSuffix(urlPart, ">") {
			return urlPart[1 : len(urlPart)-1]
		}
	}
	return ""
}
