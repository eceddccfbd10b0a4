// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/puppypeer/puppyagent/lib/fault"
)

// APIError is a non-2xx answer from the REST API. It matches
// fault.NotFound under errors.Is for a 404 and fault.InternalIO for
// anything else, so callers can classify it without importing this
// package.
type APIError struct {
	StatusCode       int
	Message          string
	DocumentationURL string
}

func (err *APIError) Error() string {
	return fmt.Sprintf("github: HTTP %d: %s", err.StatusCode, err.Message)
}

// Kind is the fault classification of the response.
func (err *APIError) Kind() fault.Kind {
	if err.StatusCode == http.StatusNotFound {
		return fault.NotFound
	}
	return fault.InternalIO
}

func (err *APIError) Is(target error) bool {
	kind, ok := target.(fault.Kind)
	return ok && kind == err.Kind()
}

// RateLimited reports a primary (403) or secondary (429) rate limit.
func (err *APIError) RateLimited() bool {
	switch err.StatusCode {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		return mentionsRateLimit(err.Message)
	}
	return false
}

// IsNotFound reports whether err carries a 404.
func IsNotFound(err error) bool {
	var apiError *APIError
	return errors.As(err, &apiError) && apiError.StatusCode == http.StatusNotFound
}

// IsRateLimited reports whether err carries a rate limit response.
func IsRateLimited(err error) bool {
	var apiError *APIError
	return errors.As(err, &apiError) && apiError.RateLimited()
}

// A 403 is either a rate limit or a permission problem; only the
// message tells them apart.
func mentionsRateLimit(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "rate limit") || strings.Contains(lower, "abuse detection")
}
