// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package github

import "sync"

// validator is the last ETag and body returned for a metadata URL.
type validator struct {
	etag string
	body []byte
}

// conditionalCache lets repeated release lookups (a polling CheckUpdate)
// be answered with 304 Not Modified, which does not count against the
// rate limit. Asset downloads bypass it.
type conditionalCache struct {
	mu         sync.Mutex
	validators map[string]validator
}

func newConditionalCache() *conditionalCache {
	return &conditionalCache{validators: make(map[string]validator)}
}

func (c *conditionalCache) lookup(url string) (validator, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.validators[url]
	return v, ok
}

func (c *conditionalCache) store(url, etag string, body []byte) {
	if etag == "" {
		return
	}
	c.mu.Lock()
	c.validators[url] = validator{etag: etag, body: body}
	c.mu.Unlock()
}
