package store

import (
	"context"
	"time"

	"github.com/lingotutor/modelhub/internal/catalog"
)

// Store defines the persistence interface for the model registry.
type Store interface {
	// Model configurations
	ListModelConfigurations(ctx context.Context) ([]catalog.ModelConfiguration, error)
	GetModelConfiguration(ctx context.Context, id string) (*catalog.ModelConfiguration, error)
	// CreateModel inserts a configuration and its empty usage row together.
	CreateModel(ctx context.Context, m catalog.ModelConfiguration, u catalog.UsageStats) error
	// UpsertModelConfiguration writes the full row.
	UpsertModelConfiguration(ctx context.Context, m catalog.ModelConfiguration) error

	// Usage aggregates
	ListUsageStats(ctx context.Context) ([]catalog.UsageStats, error)
	GetUsageStats(ctx context.Context, id string) (*catalog.UsageStats, error)
	SaveUsageStats(ctx context.Context, u catalog.UsageStats) error
	// RecordUsage saves the aggregate, stamps the model's last_used and
	// appends the log row in one transaction.
	RecordUsage(ctx context.Context, u catalog.UsageStats, entry catalog.PerformanceLog) error

	// Performance logs (append-only)
	AggregatePerformance(ctx context.Context, modelID string, from, to time.Time) (PerformanceAggregate, error)
	AggregateByModel(ctx context.Context, from, to time.Time) ([]ModelAggregate, error)
	ListPerformanceLogs(ctx context.Context, modelID string, limit, offset int) ([]catalog.PerformanceLog, error)
	SpendSince(ctx context.Context, since time.Time) (float64, error)

	// Audit logging
	LogAudit(ctx context.Context, entry AuditEntry) error
	ListAuditLogs(ctx context.Context, limit int, offset int) ([]AuditEntry, error)

	// Schema lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// PerformanceAggregate summarises log rows for one model over a window.
// Averages are nil when no row carried a value.
type PerformanceAggregate struct {
	Requests        int64    `json:"requests"`
	Errors          int64    `json:"errors"`
	TotalTokens     int64    `json:"total_tokens"`
	TotalCost       float64  `json:"total_cost"`
	AvgResponseTime *float64 `json:"avg_response_time"`
	AvgQuality      *float64 `json:"avg_quality"`
	AvgCost         *float64 `json:"avg_cost"`
}

// ModelAggregate is a PerformanceAggregate keyed by model.
type ModelAggregate struct {
	ModelID string `json:"model_id"`
	PerformanceAggregate
}

// AuditEntry records an administrative mutation.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	Detail    string    `json:"detail,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}
