// Package otel holds the service's OpenTelemetry instruments and HTTP
// instrumentation middleware.
package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "agentops"

// Metrics holds all metric instruments.
type Metrics struct {
	AnalysesStarted   metric.Int64Counter
	AnalysesCompleted metric.Int64Counter
	AnalysesFailed    metric.Int64Counter
	ReplaysStarted    metric.Int64Counter
	ReplaysCompleted  metric.Int64Counter
	ReplaysFailed     metric.Int64Counter
	RunDuration       metric.Float64Histogram
	RunCost           metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.AnalysesStarted, err = meter.Int64Counter("agentops.analyses.started",
		metric.WithDescription("Number of analysis runs started"))
	if err != nil {
		return nil, err
	}

	m.AnalysesCompleted, err = meter.Int64Counter("agentops.analyses.completed",
		metric.WithDescription("Number of analysis runs completed"))
	if err != nil {
		return nil, err
	}

	m.AnalysesFailed, err = meter.Int64Counter("agentops.analyses.failed",
		metric.WithDescription("Number of analysis runs failed"))
	if err != nil {
		return nil, err
	}

	m.ReplaysStarted, err = meter.Int64Counter("agentops.replays.started",
		metric.WithDescription("Number of replays started"))
	if err != nil {
		return nil, err
	}

	m.ReplaysCompleted, err = meter.Int64Counter("agentops.replays.completed",
		metric.WithDescription("Number of replays completed"))
	if err != nil {
		return nil, err
	}

	m.ReplaysFailed, err = meter.Int64Counter("agentops.replays.failed",
		metric.WithDescription("Number of replays failed"))
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram("agentops.run.duration_seconds",
		metric.WithDescription("Run duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.RunCost, err = meter.Float64Histogram("agentops.run.cost_usd",
		metric.WithDescription("Run cost in USD"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
