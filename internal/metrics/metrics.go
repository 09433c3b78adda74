// SPDX-License-Identifier: MIT

// Package metrics exposes the prometheus collectors shared across the daemon.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsAppendedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskstream_buffer_events_appended_total",
		Help: "Total number of events appended to the event buffer",
	})

	EventsEvictedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskstream_buffer_events_evicted_total",
		Help: "Total number of events evicted from the event buffer by reason",
	}, []string{"reason"})

	BufferSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taskstream_buffer_events",
		Help: "Current number of events retained in the event buffer",
	})

	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taskstream_buffer_clients",
		Help: "Current number of registered client cursors",
	})

	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taskstream_streams_active",
		Help: "Number of completion streams currently open",
	})

	StreamEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskstream_stream_events_total",
		Help: "Total number of events relayed to stream consumers by kind",
	}, []string{"kind"})

	JobDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taskstream_job_duration_seconds",
		Help:    "Wall-clock duration of background jobs by task type and outcome",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"task_type", "outcome"})

	StageFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskstream_stage_failures_total",
		Help: "Total number of per-unit stage failures by task type and stage",
	}, []string{"task_type", "stage"})

	ProgressThrottledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskstream_progress_updates_coalesced_total",
		Help: "Progress callbacks coalesced by the emission throttle",
	})
)

// IncEvicted records an eviction with a concrete reason ("capacity" or "age").
func IncEvicted(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	EventsEvictedTotal.WithLabelValues(reason).Inc()
}

// IncStreamEvent records one relayed event of the given kind.
func IncStreamEvent(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	StreamEventsTotal.WithLabelValues(kind).Inc()
}

// ObserveJobDuration records the duration of a finished job.
func ObserveJobDuration(taskType, outcome string, d time.Duration) {
	JobDurationSeconds.WithLabelValues(taskType, outcome).Observe(d.Seconds())
}

// IncStageFailure records a per-unit stage failure.
func IncStageFailure(taskType, stage string) {
	StageFailuresTotal.WithLabelValues(taskType, stage).Inc()
}
