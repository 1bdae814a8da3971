package history

import "context"

// MetricsSummary represents aggregated session insights.
type MetricsSummary struct {
	TotalSessions     int64   `json:"total_sessions"`
	VerifiedSessions  int64   `json:"verified_sessions"`
	SuccessRate       float64 `json:"success_rate"`
	AverageConfidence float64 `json:"average_confidence"`
	AverageLatencyMs  float64 `json:"average_latency_ms"`
}

// GetMetricsSummary aggregates session metrics from persisted logs.
func (r *Recorder) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := r.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalSessions:     aggregation.TotalCount,
		VerifiedSessions:  aggregation.SuccessCount,
		AverageConfidence: aggregation.AverageConf,
		AverageLatencyMs:  aggregation.AverageLatency,
	}

	if aggregation.TotalCount > 0 {
		summary.SuccessRate = float64(aggregation.SuccessCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
