// Package datadog emits the metrics facade's counters and histograms over
// DogStatsD. Labels become "key:value" tags; the step-duration histogram is
// reported through the client's timing metric so the agent renders it in
// milliseconds alongside other service timings.
package datadog

import (
	"fmt"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"

	"etlkit/internal/metrics"
)

// Config holds the DogStatsD connection settings.
type Config struct {
	// Addr is the agent address, e.g. "127.0.0.1:8125" or "unix:///var/run/datadog/dsd.socket".
	Addr string

	// Namespace is an optional prefix for every metric name ("etlkit.").
	Namespace string

	// GlobalTags apply to every metric, e.g. []string{"env:prod"}.
	GlobalTags []string
}

// Backend forwards metrics.Backend calls to a statsd client. Install it once
// per process with metrics.SetBackend.
type Backend struct {
	client statsd.ClientInterface
}

// NewBackend dials the agent described by cfg. Addr is required.
func NewBackend(cfg Config) (*Backend, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("datadog: Addr is required")
	}

	opts := []statsd.Option{}
	if cfg.Namespace != "" {
		opts = append(opts, statsd.WithNamespace(cfg.Namespace))
	}
	if len(cfg.GlobalTags) > 0 {
		opts = append(opts, statsd.WithTags(cfg.GlobalTags))
	}

	c, err := statsd.New(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("datadog: create client: %w", err)
	}
	return &Backend{client: c}, nil
}

// IncCounter maps to a DogStatsD count. Fractional deltas are truncated; the
// facade only ever sends whole counts.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	_ = b.client.Count(name, int64(delta), labelsToTags(labels), 1)
}

// ObserveHistogram maps the step-duration metric to a timing (the value
// arrives in seconds) and everything else to a plain histogram.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	tags := labelsToTags(labels)
	if name == "etl_step_duration_seconds" {
		_ = b.client.TimeInMilliseconds("etl_step_duration", value*float64(time.Second/time.Millisecond), tags, 1)
		return
	}
	_ = b.client.Histogram(name, value, tags, 1)
}

// Flush drains the client's buffer to the agent without closing the socket,
// so the backend stays usable after a mid-run flush.
func (b *Backend) Flush() error {
	return b.client.Flush()
}

// labelsToTags renders labels as "key:value" tag strings.
func labelsToTags(lbls metrics.Labels) []string {
	if len(lbls) == 0 {
		return nil
	}
	out := make([]string, 0, len(lbls))
	for k, v := range lbls {
		out = append(out, k+":"+v)
	}
	return out
}
