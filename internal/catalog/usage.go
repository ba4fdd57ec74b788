package catalog

import "time"

// UsageStats is the running usage aggregate for one model.
type UsageStats struct {
	ModelID   string `json:"model_id"`
	Provider  string `json:"provider"`
	ModelName string `json:"model_name"`

	TotalRequests      int64   `json:"total_requests"`
	SuccessfulRequests int64   `json:"successful_requests"`
	FailedRequests     int64   `json:"failed_requests"`
	TotalTokens        int64   `json:"total_tokens"`
	TotalCost          float64 `json:"total_cost"`

	AvgResponseTime float64 `json:"avg_response_time"`
	MinResponseTime float64 `json:"min_response_time"`
	MaxResponseTime float64 `json:"max_response_time"`

	// AvgQualityRating is nil until the first rated event.
	AvgQualityRating *float64 `json:"avg_quality_rating"`
	UserSatisfaction *float64 `json:"user_satisfaction"`

	// Windowed counters are carried in the schema but never computed.
	Last24hRequests int64 `json:"last_24h_requests"`
	Last7dRequests  int64 `json:"last_7d_requests"`
	Last30dRequests int64 `json:"last_30d_requests"`

	FirstUsed *time.Time `json:"first_used,omitempty"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
}

// NewUsageStats returns an empty aggregate for cfg.
func NewUsageStats(cfg ModelConfiguration) UsageStats {
	return UsageStats{ModelID: cfg.ID(), Provider: cfg.Provider, ModelName: cfg.ModelName}
}

// SuccessRate is successful/total, or 0 before the first request.
func (u UsageStats) SuccessRate() float64 {
	if u.TotalRequests == 0 {
		return 0
	}
	return float64(u.SuccessfulRequests) / float64(u.TotalRequests)
}

// Clone returns a copy with independent pointer fields.
func (u UsageStats) Clone() UsageStats {
	c := u
	c.AvgQualityRating = cloneFloat(u.AvgQualityRating)
	c.UserSatisfaction = cloneFloat(u.UserSatisfaction)
	c.FirstUsed = cloneTime(u.FirstUsed)
	c.LastUsed = cloneTime(u.LastUsed)
	return c
}

// PerformanceLog is one append-only telemetry row.
type PerformanceLog struct {
	ID             int64     `json:"id"`
	ModelID        string    `json:"model_id"`
	Timestamp      time.Time `json:"timestamp"`
	RequestType    string    `json:"request_type"`
	Language       string    `json:"language"`
	ResponseTimeMs float64   `json:"response_time_ms"`
	TokensUsed     int64     `json:"tokens_used"`
	Cost           float64   `json:"cost"`
	QualityRating  *float64  `json:"quality_rating"`
	ErrorCount     int       `json:"error_count"`
}

// PerformanceReport is a derived, on-demand comparison of one model
// against the rest of the enabled registry.
type PerformanceReport struct {
	ModelID    string    `json:"model_id"`
	ReportDate time.Time `json:"report_date"`
	PeriodDays int       `json:"period_days"`

	Requests          int64   `json:"requests"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	AvgQuality        float64 `json:"avg_quality"`
	AvgCost           float64 `json:"avg_cost"`
	TotalTokens       int64   `json:"total_tokens"`

	CostEfficiency   float64 `json:"cost_efficiency"`
	SpeedEfficiency  float64 `json:"speed_efficiency"`
	ReliabilityScore float64 `json:"reliability_score"`

	CostRank    int `json:"cost_rank"`
	SpeedRank   int `json:"speed_rank"`
	QualityRank int `json:"quality_rank"`
	OverallRank int `json:"overall_rank"`

	PerformanceTrend string `json:"performance_trend"`
	UsageTrend       string `json:"usage_trend"`

	RecommendedFor          []string `json:"recommended_for"`
	OptimizationSuggestions []string `json:"optimization_suggestions"`
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
