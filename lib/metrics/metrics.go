// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes control-plane counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records control-plane activity.
type Metrics interface {
	// ObserveRequest records one dispatched request by its variant name
	// and outcome ("ok" or a fault kind).
	ObserveRequest(request, outcome string, durationSeconds float64)

	// IncAuthentication records an authentication attempt by method
	// ("credentials", "token", "bootstrap") and outcome.
	IncAuthentication(method, outcome string)

	// IncJobFinished records an update job reaching a terminal status.
	IncJobFinished(kind, status string)

	// AddUploadBytes counts bytes accepted by the staging store.
	AddUploadBytes(n int)

	// SetSessions reports the number of live sessions.
	SetSessions(n int)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) ObserveRequest(string, string, float64) {}
func (Noop) IncAuthentication(string, string)       {}
func (Noop) IncJobFinished(string, string)          {}
func (Noop) AddUploadBytes(int)                     {}
func (Noop) SetSessions(int)                        {}

// Prom implements Metrics on a private registry.
type Prom struct {
	registry       *prometheus.Registry
	requests       *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	authentication *prometheus.CounterVec
	jobsFinished   *prometheus.CounterVec
	uploadBytes    prometheus.Counter
	sessions       prometheus.Gauge
}

// NewProm builds the collectors under namespace and registers them,
// with the Go runtime and process collectors, on a fresh registry.
func NewProm(namespace string) *Prom {
	p := &Prom{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_requests_total",
			Help:      "Control-plane requests by variant and outcome",
		}, []string{"request", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "control_request_duration_seconds",
			Help:      "Control-plane request latency by variant",
			Buckets:   prometheus.DefBuckets,
		}, []string{"request"}),
		authentication: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authentications_total",
			Help:      "Authentication attempts by method and outcome",
		}, []string{"method", "outcome"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_jobs_finished_total",
			Help:      "Update jobs reaching a terminal status",
		}, []string{"kind", "status"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Bytes accepted into upload staging",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Live control-plane sessions",
		}),
	}
	p.registry.MustRegister(
		p.requests, p.latency, p.authentication, p.jobsFinished, p.uploadBytes, p.sessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

var _ Metrics = (*Prom)(nil)

func (p *Prom) ObserveRequest(request, outcome string, durationSeconds float64) {
	p.requests.WithLabelValues(request, outcome).Inc()
	p.latency.WithLabelValues(request).Observe(durationSeconds)
}

func (p *Prom) IncAuthentication(method, outcome string) {
	p.authentication.WithLabelValues(method, outcome).Inc()
}

func (p *Prom) IncJobFinished(kind, status string) {
	p.jobsFinished.WithLabelValues(kind, status).Inc()
}

func (p *Prom) AddUploadBytes(n int) {
	p.uploadBytes.Add(float64(n))
}

func (p *Prom) SetSessions(n int) {
	p.sessions.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
