package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lingotutor/modelhub/internal/catalog"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps compare lexicographically.
const timeLayout = "2006-01-02 15:04:05.000000"

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// In-memory databases are per-connection.
	if strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(8)
		db.SetMaxIdleConns(4)
		db.SetConnMaxLifetime(time.Hour)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS model_configurations (
			model_id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			model_name TEXT NOT NULL,
			display_name TEXT NOT NULL,
			category TEXT NOT NULL,
			size TEXT NOT NULL,
			status TEXT NOT NULL,
			cost_per_1k_tokens REAL NOT NULL DEFAULT 0,
			avg_response_time_ms REAL NOT NULL DEFAULT 0,
			quality_score REAL NOT NULL DEFAULT 0,
			reliability_score REAL NOT NULL DEFAULT 0,
			supported_languages TEXT NOT NULL DEFAULT '[]',
			primary_languages TEXT NOT NULL DEFAULT '[]',
			max_tokens INTEGER NOT NULL DEFAULT 0,
			context_window INTEGER NOT NULL DEFAULT 0,
			supports_streaming BOOLEAN NOT NULL DEFAULT 0,
			supports_functions BOOLEAN NOT NULL DEFAULT 0,
			temperature REAL NOT NULL DEFAULT 0.7,
			top_p REAL NOT NULL DEFAULT 0.9,
			frequency_penalty REAL NOT NULL DEFAULT 0,
			presence_penalty REAL NOT NULL DEFAULT 0,
			enabled BOOLEAN NOT NULL DEFAULT 1,
			priority INTEGER NOT NULL DEFAULT 5,
			weight REAL NOT NULL DEFAULT 1.0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			last_used TEXT,
			UNIQUE(provider, model_name)
		)`,
		`CREATE TABLE IF NOT EXISTS model_usage_stats (
			model_id TEXT PRIMARY KEY REFERENCES model_configurations(model_id),
			provider TEXT NOT NULL,
			model_name TEXT NOT NULL,
			total_requests INTEGER NOT NULL DEFAULT 0,
			successful_requests INTEGER NOT NULL DEFAULT 0,
			failed_requests INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			total_cost REAL NOT NULL DEFAULT 0,
			avg_response_time REAL NOT NULL DEFAULT 0,
			min_response_time REAL NOT NULL DEFAULT 0,
			max_response_time REAL NOT NULL DEFAULT 0,
			avg_quality_rating REAL,
			user_satisfaction REAL,
			last_24h_requests INTEGER NOT NULL DEFAULT 0,
			last_7d_requests INTEGER NOT NULL DEFAULT 0,
			last_30d_requests INTEGER NOT NULL DEFAULT 0,
			first_used TEXT,
			last_used TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS model_performance_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			model_id TEXT NOT NULL REFERENCES model_configurations(model_id),
			timestamp TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f000', 'now')),
			request_type TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			response_time_ms REAL NOT NULL DEFAULT 0,
			tokens_used INTEGER NOT NULL DEFAULT 0,
			cost REAL NOT NULL DEFAULT 0,
			quality_rating REAL,
			error_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_perf_logs_model_ts ON model_performance_logs(model_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_perf_logs_language_ts ON model_performance_logs(language, timestamp)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			action TEXT NOT NULL,
			resource TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Model configurations

const modelColumns = `model_id, provider, model_name, display_name, category, size, status,
	cost_per_1k_tokens, avg_response_time_ms, quality_score, reliability_score,
	supported_languages, primary_languages, max_tokens, context_window,
	supports_streaming, supports_functions, temperature, top_p,
	frequency_penalty, presence_penalty, enabled, priority, weight,
	created_at, updated_at, last_used`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModel(r rowScanner) (catalog.ModelConfiguration, error) {
	var (
		m                    catalog.ModelConfiguration
		id                   string
		supported, primary   string
		createdAt, updatedAt string
		lastUsed             sql.NullString
	)
	err := r.Scan(&id, &m.Provider, &m.ModelName, &m.DisplayName, &m.Category, &m.Size, &m.Status,
		&m.CostPer1KTokens, &m.AvgResponseTimeMs, &m.QualityScore, &m.ReliabilityScore,
		&supported, &primary, &m.MaxTokens, &m.ContextWindow,
		&m.SupportsStreaming, &m.SupportsFunctions, &m.Temperature, &m.TopP,
		&m.FrequencyPenalty, &m.PresencePenalty, &m.Enabled, &m.Priority, &m.Weight,
		&createdAt, &updatedAt, &lastUsed)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal([]byte(supported), &m.SupportedLanguages); err != nil {
		return m, fmt.Errorf("model %s supported_languages: %w", id, err)
	}
	if err := json.Unmarshal([]byte(primary), &m.PrimaryLanguages); err != nil {
		return m, fmt.Errorf("model %s primary_languages: %w", id, err)
	}
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	m.LastUsed = parseNullTime(lastUsed)
	return m, nil
}

func (s *SQLiteStore) ListModelConfigurations(ctx context.Context) ([]catalog.ModelConfiguration, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+modelColumns+` FROM model_configurations ORDER BY model_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []catalog.ModelConfiguration
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetModelConfiguration(ctx context.Context, id string) (*catalog.ModelConfiguration, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+modelColumns+` FROM model_configurations WHERE model_id = ?`, id)
	m, err := scanModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func modelArgs(m catalog.ModelConfiguration) ([]any, error) {
	supported, err := json.Marshal(nonNil(m.SupportedLanguages))
	if err != nil {
		return nil, err
	}
	primary, err := json.Marshal(nonNil(m.PrimaryLanguages))
	if err != nil {
		return nil, err
	}
	return []any{
		m.ID(), m.Provider, m.ModelName, m.DisplayName, string(m.Category), string(m.Size), string(m.Status),
		m.CostPer1KTokens, m.AvgResponseTimeMs, m.QualityScore, m.ReliabilityScore,
		string(supported), string(primary), m.MaxTokens, m.ContextWindow,
		m.SupportsStreaming, m.SupportsFunctions, m.Temperature, m.TopP,
		m.FrequencyPenalty, m.PresencePenalty, m.Enabled, m.Priority, m.Weight,
		formatTime(m.CreatedAt), formatTime(m.UpdatedAt), formatNullTime(m.LastUsed),
	}, nil
}

const modelPlaceholders = `?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?`

func upsertModel(ctx context.Context, x execer, m catalog.ModelConfiguration) error {
	args, err := modelArgs(m)
	if err != nil {
		return err
	}
	_, err = x.ExecContext(ctx,
		`INSERT INTO model_configurations (`+modelColumns+`) VALUES (`+modelPlaceholders+`)
		 ON CONFLICT(model_id) DO UPDATE SET
		   display_name=excluded.display_name, category=excluded.category, size=excluded.size,
		   status=excluded.status, cost_per_1k_tokens=excluded.cost_per_1k_tokens,
		   avg_response_time_ms=excluded.avg_response_time_ms, quality_score=excluded.quality_score,
		   reliability_score=excluded.reliability_score, supported_languages=excluded.supported_languages,
		   primary_languages=excluded.primary_languages, max_tokens=excluded.max_tokens,
		   context_window=excluded.context_window, supports_streaming=excluded.supports_streaming,
		   supports_functions=excluded.supports_functions, temperature=excluded.temperature,
		   top_p=excluded.top_p, frequency_penalty=excluded.frequency_penalty,
		   presence_penalty=excluded.presence_penalty, enabled=excluded.enabled,
		   priority=excluded.priority, weight=excluded.weight, updated_at=excluded.updated_at,
		   last_used=excluded.last_used`,
		args...)
	return err
}

func (s *SQLiteStore) UpsertModelConfiguration(ctx context.Context, m catalog.ModelConfiguration) error {
	return upsertModel(ctx, s.db, m)
}

func (s *SQLiteStore) CreateModel(ctx context.Context, m catalog.ModelConfiguration, u catalog.UsageStats) error {
	args, err := modelArgs(m)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO model_configurations (`+modelColumns+`) VALUES (`+modelPlaceholders+`)`, args...); err != nil {
		return fmt.Errorf("insert model %s: %w", m.ID(), err)
	}
	if err := saveUsage(ctx, tx, u); err != nil {
		return fmt.Errorf("insert usage %s: %w", m.ID(), err)
	}
	return tx.Commit()
}

// Usage aggregates

const usageColumns = `model_id, provider, model_name, total_requests, successful_requests,
	failed_requests, total_tokens, total_cost, avg_response_time, min_response_time,
	max_response_time, avg_quality_rating, user_satisfaction, last_24h_requests,
	last_7d_requests, last_30d_requests, first_used, last_used`

func scanUsage(r rowScanner) (catalog.UsageStats, error) {
	var (
		u                     catalog.UsageStats
		quality, satisfaction sql.NullFloat64
		firstUsed, lastUsed   sql.NullString
	)
	err := r.Scan(&u.ModelID, &u.Provider, &u.ModelName, &u.TotalRequests, &u.SuccessfulRequests,
		&u.FailedRequests, &u.TotalTokens, &u.TotalCost, &u.AvgResponseTime, &u.MinResponseTime,
		&u.MaxResponseTime, &quality, &satisfaction, &u.Last24hRequests,
		&u.Last7dRequests, &u.Last30dRequests, &firstUsed, &lastUsed)
	if err != nil {
		return u, err
	}
	u.AvgQualityRating = nullFloat(quality)
	u.UserSatisfaction = nullFloat(satisfaction)
	u.FirstUsed = parseNullTime(firstUsed)
	u.LastUsed = parseNullTime(lastUsed)
	return u, nil
}

func (s *SQLiteStore) ListUsageStats(ctx context.Context) ([]catalog.UsageStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+usageColumns+` FROM model_usage_stats ORDER BY model_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []catalog.UsageStats
	for rows.Next() {
		u, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetUsageStats(ctx context.Context, id string) (*catalog.UsageStats, error) {
	u, err := scanUsage(s.db.QueryRowContext(ctx, `SELECT `+usageColumns+` FROM model_usage_stats WHERE model_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func saveUsage(ctx context.Context, x execer, u catalog.UsageStats) error {
	_, err := x.ExecContext(ctx,
		`INSERT INTO model_usage_stats (`+usageColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(model_id) DO UPDATE SET
		   total_requests=excluded.total_requests, successful_requests=excluded.successful_requests,
		   failed_requests=excluded.failed_requests, total_tokens=excluded.total_tokens,
		   total_cost=excluded.total_cost, avg_response_time=excluded.avg_response_time,
		   min_response_time=excluded.min_response_time, max_response_time=excluded.max_response_time,
		   avg_quality_rating=excluded.avg_quality_rating, user_satisfaction=excluded.user_satisfaction,
		   last_24h_requests=excluded.last_24h_requests, last_7d_requests=excluded.last_7d_requests,
		   last_30d_requests=excluded.last_30d_requests, first_used=excluded.first_used,
		   last_used=excluded.last_used`,
		u.ModelID, u.Provider, u.ModelName, u.TotalRequests, u.SuccessfulRequests,
		u.FailedRequests, u.TotalTokens, u.TotalCost, u.AvgResponseTime, u.MinResponseTime,
		u.MaxResponseTime, floatArg(u.AvgQualityRating), floatArg(u.UserSatisfaction), u.Last24hRequests,
		u.Last7dRequests, u.Last30dRequests, formatNullTime(u.FirstUsed), formatNullTime(u.LastUsed))
	return err
}

func (s *SQLiteStore) SaveUsageStats(ctx context.Context, u catalog.UsageStats) error {
	return saveUsage(ctx, s.db, u)
}

func (s *SQLiteStore) RecordUsage(ctx context.Context, u catalog.UsageStats, entry catalog.PerformanceLog) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := saveUsage(ctx, tx, u); err != nil {
		return fmt.Errorf("save usage %s: %w", u.ModelID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE model_configurations SET last_used = ? WHERE model_id = ?`,
		formatTime(entry.Timestamp), u.ModelID); err != nil {
		return fmt.Errorf("stamp last_used %s: %w", u.ModelID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO model_performance_logs
		   (model_id, timestamp, request_type, language, response_time_ms, tokens_used, cost, quality_rating, error_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ModelID, formatTime(entry.Timestamp), entry.RequestType, entry.Language,
		entry.ResponseTimeMs, entry.TokensUsed, entry.Cost, floatArg(entry.QualityRating), entry.ErrorCount); err != nil {
		return fmt.Errorf("append performance log %s: %w", u.ModelID, err)
	}
	return tx.Commit()
}

// Performance logs

const aggregateSelect = `COUNT(*), COALESCE(SUM(error_count), 0), COALESCE(SUM(tokens_used), 0),
	COALESCE(SUM(cost), 0), AVG(response_time_ms), AVG(quality_rating), AVG(cost)`

// windowClause builds the timestamp predicate; a zero to leaves the window open-ended.
func windowClause(from, to time.Time) (string, []any) {
	if to.IsZero() {
		return `timestamp >= ?`, []any{formatTime(from)}
	}
	return `timestamp >= ? AND timestamp < ?`, []any{formatTime(from), formatTime(to)}
}

func scanAggregate(r rowScanner, extra ...any) (PerformanceAggregate, error) {
	var (
		a                   PerformanceAggregate
		avgTime, avgQuality sql.NullFloat64
		avgCost             sql.NullFloat64
	)
	dest := append(extra, &a.Requests, &a.Errors, &a.TotalTokens, &a.TotalCost, &avgTime, &avgQuality, &avgCost)
	if err := r.Scan(dest...); err != nil {
		return a, err
	}
	a.AvgResponseTime = nullFloat(avgTime)
	a.AvgQuality = nullFloat(avgQuality)
	a.AvgCost = nullFloat(avgCost)
	return a, nil
}

func (s *SQLiteStore) AggregatePerformance(ctx context.Context, modelID string, from, to time.Time) (PerformanceAggregate, error) {
	where, args := windowClause(from, to)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+aggregateSelect+` FROM model_performance_logs WHERE model_id = ? AND `+where,
		append([]any{modelID}, args...)...)
	return scanAggregate(row)
}

func (s *SQLiteStore) AggregateByModel(ctx context.Context, from, to time.Time) ([]ModelAggregate, error) {
	where, args := windowClause(from, to)
	rows, err := s.db.QueryContext(ctx,
		`SELECT model_id, `+aggregateSelect+` FROM model_performance_logs WHERE `+where+`
		 GROUP BY model_id ORDER BY model_id`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ModelAggregate
	for rows.Next() {
		var ma ModelAggregate
		a, err := scanAggregate(rows, &ma.ModelID)
		if err != nil {
			return nil, err
		}
		ma.PerformanceAggregate = a
		out = append(out, ma)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListPerformanceLogs(ctx context.Context, modelID string, limit, offset int) ([]catalog.PerformanceLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, model_id, timestamp, request_type, language, response_time_ms, tokens_used, cost, quality_rating, error_count
		 FROM model_performance_logs WHERE model_id = ?
		 ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`, modelID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var logs []catalog.PerformanceLog
	for rows.Next() {
		var (
			l       catalog.PerformanceLog
			ts      string
			quality sql.NullFloat64
		)
		if err := rows.Scan(&l.ID, &l.ModelID, &ts, &l.RequestType, &l.Language,
			&l.ResponseTimeMs, &l.TokensUsed, &l.Cost, &quality, &l.ErrorCount); err != nil {
			return nil, err
		}
		l.Timestamp = parseTime(ts)
		l.QualityRating = nullFloat(quality)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) SpendSince(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost), 0) FROM model_performance_logs WHERE timestamp >= ?`,
		formatTime(since)).Scan(&total)
	return total, err
}

// Audit logging

func (s *SQLiteStore) LogAudit(ctx context.Context, entry AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (timestamp, action, resource, detail, request_id)
		 VALUES (?, ?, ?, ?, ?)`,
		formatTime(entry.Timestamp), entry.Action, entry.Resource, entry.Detail, entry.RequestID)
	return err
}

func (s *SQLiteStore) ListAuditLogs(ctx context.Context, limit int, offset int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, action, resource, detail, request_id
		 FROM audit_logs ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var logs []AuditEntry
	for rows.Next() {
		var l AuditEntry
		var ts string
		if err := rows.Scan(&l.ID, &ts, &l.Action, &l.Resource, &l.Detail, &l.RequestID); err != nil {
			return nil, err
		}
		l.Timestamp = parseTime(ts)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullFloat(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func floatArg(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
