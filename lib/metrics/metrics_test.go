// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPromExposition(t *testing.T) {
	p := NewProm("puppyagent")
	p.ObserveRequest("ListUsers", "ok", 0.01)
	p.IncAuthentication("credentials", "AuthFailure")
	p.IncJobFinished("update", "rolled_back")
	p.AddUploadBytes(600)
	p.SetSessions(3)

	server := httptest.NewServer(p.Handler())
	defer server.Close()

	response, err := server.Client().Get(server.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	text := string(body)

	for _, want := range []string{
		`puppyagent_control_requests_total{outcome="ok",request="ListUsers"} 1`,
		`puppyagent_authentications_total{method="credentials",outcome="AuthFailure"} 1`,
		`puppyagent_update_jobs_finished_total{kind="update",status="rolled_back"} 1`,
		`puppyagent_upload_bytes_total 600`,
		`puppyagent_sessions 3`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestPromInstancesIndependent(t *testing.T) {
	// Each instance owns its registry, so two can coexist in one
	// process without duplicate registration panics.
	first := NewProm("puppyagent")
	second := NewProm("puppyagent")
	first.SetSessions(1)
	second.SetSessions(2)
}

func TestNoopSatisfiesInterface(t *testing.T) {
	var m Metrics = Noop{}
	m.ObserveRequest("x", "ok", 1)
	m.AddUploadBytes(1)
}
