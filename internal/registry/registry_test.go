package registry

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingotutor/modelhub/internal/catalog"
	"github.com/lingotutor/modelhub/internal/events"
	"github.com/lingotutor/modelhub/internal/store"
)

const (
	claudeID   = "claude_claude-3-haiku-20240307"
	mistralID  = "mistral_mistral-small-latest"
	deepseekID = "deepseek_deepseek-chat"
	llamaID    = "ollama_llama2:7b"
	localMisID = "ollama_mistral:7b"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func openStore(t *testing.T, path string) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, *store.SQLiteStore, *fakeClock) {
	t.Helper()
	st := openStore(t, filepath.Join(t.TempDir(), "modelhub.db"))
	clk := newFakeClock()
	opts = append([]Option{WithClock(clk.Now)}, opts...)
	r, err := New(context.Background(), st, opts...)
	require.NoError(t, err)
	return r, st, clk
}

func ids(views []ModelView) []string {
	out := make([]string, len(views))
	for i, v := range views {
		out[i] = v.ID
	}
	return out
}

func ptr(f float64) *float64 { return &f }

// failingStore rejects every write that follows a model mutation.
type failingStore struct {
	store.Store
}

var errDiskFull = errors.New("disk full")

func (failingStore) UpsertModelConfiguration(context.Context, catalog.ModelConfiguration) error {
	return errDiskFull
}

func (failingStore) RecordUsage(context.Context, catalog.UsageStats, catalog.PerformanceLog) error {
	return errDiskFull
}

func (failingStore) SaveUsageStats(context.Context, catalog.UsageStats) error {
	return errDiskFull
}

func TestNew_SeedsDefaultCatalog(t *testing.T) {
	r, st, _ := newTestRegistry(t)

	all := r.GetAll(Filter{})
	assert.Equal(t, []string{claudeID, deepseekID, mistralID, localMisID, llamaID}, ids(all))

	persisted, err := st.ListModelConfigurations(context.Background())
	require.NoError(t, err)
	assert.Len(t, persisted, 5)

	usage, err := st.ListUsageStats(context.Background())
	require.NoError(t, err)
	assert.Len(t, usage, 5)
}

func TestNew_KeepsPersistedModels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modelhub.db")
	st := openStore(t, path)
	ctx := context.Background()

	r, err := New(ctx, st)
	require.NoError(t, err)
	_, err = r.Update(ctx, claudeID, Patch{"quality_score": 0.5})
	require.NoError(t, err)

	reopened, err := New(ctx, st)
	require.NoError(t, err)
	v, ok := reopened.Get(claudeID)
	require.True(t, ok)
	assert.Equal(t, 0.5, v.QualityScore)
	assert.Len(t, reopened.GetAll(Filter{}), 5)
}

func TestNew_EmptySeed(t *testing.T) {
	r, _, _ := newTestRegistry(t, WithSeed(nil))
	assert.Empty(t, r.GetAll(Filter{}))
}

func TestGet_Unknown(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	_, ok := r.Get("nope_nothing")
	assert.False(t, ok)
}

func TestGetAll_Filters(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	general := r.GetAll(Filter{Category: catalog.CategoryGeneral})
	assert.Equal(t, []string{llamaID}, ids(general))

	ollama := r.GetAll(Filter{Provider: "ollama"})
	assert.Equal(t, []string{localMisID, llamaID}, ids(ollama))

	search := r.GetAll(Filter{Search: "HAIKU"})
	assert.Equal(t, []string{claudeID}, ids(search))
}

func TestCreate(t *testing.T) {
	r, st, _ := newTestRegistry(t)
	ctx := context.Background()

	m := catalog.Template()
	m.Provider, m.ModelName = "ollama", "qwen:14b"
	m.SupportedLanguages = []string{"en", "zh"}

	v, err := r.Create(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, "ollama_qwen:14b", v.ID)
	assert.Equal(t, "qwen:14b", v.DisplayName)
	assert.Equal(t, int64(0), v.UsageStats.TotalRequests)
	assert.Nil(t, v.UsageStats.AvgQualityRating)

	got, err := st.GetModelConfiguration(ctx, v.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	_, err = r.Create(ctx, m)
	assert.ErrorIs(t, err, ErrModelExists)

	bad := catalog.Template()
	bad.Provider, bad.ModelName, bad.QualityScore = "x", "y", 1.5
	_, err = r.Create(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalidUpdate)
}

func TestUpdate_RoundTripAdvancesUpdatedAt(t *testing.T) {
	r, st, _ := newTestRegistry(t)
	ctx := context.Background()

	before, _ := r.Get(claudeID)
	v, err := r.Update(ctx, claudeID, Patch{"display_name": "Haiku", "temperature": 0.2, "priority": float64(3)})
	require.NoError(t, err)
	assert.Equal(t, "Haiku", v.DisplayName)
	assert.Equal(t, 0.2, v.Temperature)
	assert.Equal(t, 3, v.Priority)
	// The fake clock has not moved, so the stamp is bumped past the old one.
	assert.True(t, v.UpdatedAt.After(before.UpdatedAt))

	persisted, err := st.GetModelConfiguration(ctx, claudeID)
	require.NoError(t, err)
	assert.Equal(t, "Haiku", persisted.DisplayName)
	assert.Equal(t, 3, persisted.Priority)
	assert.True(t, persisted.UpdatedAt.Equal(v.UpdatedAt))
}

func TestUpdate_IgnoresUnknownFields(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	before, _ := r.Get(claudeID)

	v, err := r.Update(context.Background(), claudeID, Patch{"provider": "evil", "model_name": "x", "weight": 1.5})
	require.NoError(t, err)
	assert.Equal(t, "claude", v.Provider)
	assert.Equal(t, before.ModelName, v.ModelName)
	assert.Equal(t, 1.5, v.Weight)
}

func TestUpdate_BogusStatusRejected(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	_, err := r.Update(context.Background(), claudeID, Patch{"status": "bogus_value"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidUpdate)

	v, _ := r.Get(claudeID)
	assert.Equal(t, catalog.StatusActive, v.Status)
}

func TestUpdate_InvalidValueRejectsWholePatch(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	_, err := r.Update(context.Background(), claudeID, Patch{"quality_score": 0.5, "top_p": 3.0})
	require.ErrorIs(t, err, ErrInvalidUpdate)

	var verr *catalog.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "top_p", verr.Field)

	v, _ := r.Get(claudeID)
	assert.Equal(t, 0.9, v.QualityScore)
}

func TestUpdate_WrongTypeRejected(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	_, err := r.Update(context.Background(), claudeID, Patch{"enabled": "yes"})
	assert.ErrorIs(t, err, ErrInvalidUpdate)
}

func TestUpdate_UnknownModel(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	_, err := r.Update(context.Background(), "nope", Patch{"weight": 1.0})
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestSetPriority_OutOfRange(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.SetPriority(ctx, claudeID, 15)
	assert.ErrorIs(t, err, ErrInvalidUpdate)
	v, _ := r.Get(claudeID)
	assert.Equal(t, 1, v.Priority)

	_, err = r.SetPriority(ctx, claudeID, 0)
	assert.ErrorIs(t, err, ErrInvalidUpdate)

	_, err = r.SetPriority(ctx, "nope", 15)
	assert.ErrorIs(t, err, ErrModelNotFound)

	v, err = r.SetPriority(ctx, claudeID, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, v.Priority)
}

func TestDisable_HidesFromEnabledOnly(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Disable(ctx, claudeID)
	require.NoError(t, err)

	assert.NotContains(t, ids(r.GetAll(Filter{EnabledOnly: true})), claudeID)
	v, ok := r.Get(claudeID)
	require.True(t, ok)
	assert.False(t, v.Enabled)
	assert.Contains(t, ids(r.GetAll(Filter{})), claudeID)

	v, err = r.Enable(ctx, claudeID)
	require.NoError(t, err)
	assert.True(t, v.Enabled)
}

func TestToggle(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	v, err := r.Toggle(ctx, mistralID)
	require.NoError(t, err)
	assert.False(t, v.Enabled)
	v, err = r.Toggle(ctx, mistralID)
	require.NoError(t, err)
	assert.True(t, v.Enabled)
}

func TestUpdate_PersistenceFailureLeavesMemory(t *testing.T) {
	st := openStore(t, filepath.Join(t.TempDir(), "modelhub.db"))
	ctx := context.Background()
	r, err := New(ctx, st)
	require.NoError(t, err)
	r.store = failingStore{Store: st}

	_, err = r.Update(ctx, claudeID, Patch{"quality_score": 0.1})
	require.ErrorIs(t, err, errDiskFull)
	v, _ := r.Get(claudeID)
	assert.Equal(t, 0.9, v.QualityScore)

	tracked, err := r.TrackUsage(ctx, UsageEvent{ModelID: claudeID, ResponseTimeMs: 100, Success: true})
	require.ErrorIs(t, err, errDiskFull)
	assert.False(t, tracked)
	u, _ := r.Usage(claudeID)
	assert.Equal(t, int64(0), u.TotalRequests)
}

func TestTrackUsage_RunningAverages(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	ok, err := r.TrackUsage(ctx, UsageEvent{ModelID: claudeID, ResponseTimeMs: 1000, TokensUsed: 100, Cost: 0.01, Success: true})
	require.NoError(t, err)
	require.True(t, ok)
	_, err = r.TrackUsage(ctx, UsageEvent{ModelID: claudeID, ResponseTimeMs: 2000, TokensUsed: 100, Cost: 0.01, Success: true})
	require.NoError(t, err)

	u, _ := r.Usage(claudeID)
	assert.Equal(t, int64(2), u.TotalRequests)
	assert.Equal(t, int64(2), u.SuccessfulRequests)
	assert.Equal(t, int64(200), u.TotalTokens)
	assert.InDelta(t, 0.02, u.TotalCost, 1e-12)
	assert.Equal(t, 1500.0, u.AvgResponseTime)
	assert.Equal(t, 1000.0, u.MinResponseTime)
	assert.Equal(t, 2000.0, u.MaxResponseTime)
	assert.NotNil(t, u.FirstUsed)
	assert.NotNil(t, u.LastUsed)

	v, _ := r.Get(claudeID)
	assert.NotNil(t, v.LastUsed)
	assert.Equal(t, 1.0, v.UsageStats.SuccessRate)
}

func TestTrackUsage_QualityBlend(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.TrackUsage(ctx, UsageEvent{ModelID: claudeID, ResponseTimeMs: 10, Success: true})
	require.NoError(t, err)
	u, _ := r.Usage(claudeID)
	assert.Nil(t, u.AvgQualityRating)

	_, err = r.TrackUsage(ctx, UsageEvent{ModelID: claudeID, ResponseTimeMs: 10, Success: true, QualityRating: ptr(0.5)})
	require.NoError(t, err)
	u, _ = r.Usage(claudeID)
	require.NotNil(t, u.AvgQualityRating)
	assert.Equal(t, 0.5, *u.AvgQualityRating)

	_, err = r.TrackUsage(ctx, UsageEvent{ModelID: claudeID, ResponseTimeMs: 10, Success: true, QualityRating: ptr(1.0)})
	require.NoError(t, err)
	u, _ = r.Usage(claudeID)
	assert.InDelta(t, 0.6, *u.AvgQualityRating, 1e-12)
}

func TestTrackUsage_FailureLogsError(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.TrackUsage(ctx, UsageEvent{ModelID: mistralID, ResponseTimeMs: 50, Success: false, Language: "fr", RequestType: "chat"})
	require.NoError(t, err)

	u, _ := r.Usage(mistralID)
	assert.Equal(t, int64(1), u.FailedRequests)
	assert.Equal(t, 0.0, u.SuccessRate())

	logs, err := r.PerformanceLogs(ctx, mistralID, 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 1, logs[0].ErrorCount)
	assert.Equal(t, "fr", logs[0].Language)
	assert.Equal(t, "chat", logs[0].RequestType)

	_, err = r.PerformanceLogs(ctx, "nope", 10, 0)
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestTrackUsage_UnknownModelDropped(t *testing.T) {
	r, st, _ := newTestRegistry(t)
	ok, err := r.TrackUsage(context.Background(), UsageEvent{ModelID: "ghost_model", ResponseTimeMs: 1, Success: true})
	require.NoError(t, err)
	assert.False(t, ok)

	agg, err := st.AggregateByModel(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, agg)
}

func TestTrackUsage_NegativeValuesAccepted(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ok, err := r.TrackUsage(context.Background(), UsageEvent{ModelID: claudeID, ResponseTimeMs: -5, Cost: -1, Success: true})
	require.NoError(t, err)
	assert.True(t, ok)
	u, _ := r.Usage(claudeID)
	assert.Equal(t, -1.0, u.TotalCost)
}

func TestTrackUsage_Concurrent(t *testing.T) {
	r, st, _ := newTestRegistry(t)
	ctx := context.Background()

	const n = 40
	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(ms float64) {
			defer wg.Done()
			_, err := r.TrackUsage(ctx, UsageEvent{ModelID: deepseekID, ResponseTimeMs: ms, TokensUsed: 1, Success: true})
			assert.NoError(t, err)
		}(float64(i))
	}
	wg.Wait()

	u, _ := r.Usage(deepseekID)
	assert.Equal(t, int64(n), u.TotalRequests)
	assert.Equal(t, int64(n), u.TotalTokens)
	assert.InDelta(t, float64(n+1)/2, u.AvgResponseTime, 1e-9)
	assert.Equal(t, 1.0, u.MinResponseTime)
	assert.Equal(t, float64(n), u.MaxResponseTime)

	persisted, err := st.GetUsageStats(ctx, deepseekID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), persisted.TotalRequests)

	logs, err := r.PerformanceLogs(ctx, deepseekID, 100, 0)
	require.NoError(t, err)
	assert.Len(t, logs, n)
}

func TestTrackUsage_AggregateInvariantsAfterEveryCall(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	latencies := []float64{0.1, 0.7, 123.456, 0.1, 0.1, 0.7, 0.3, 123.456, 99.99, 0.7}
	for round := 0; round < 5; round++ {
		for i, ms := range latencies {
			ev := UsageEvent{ModelID: claudeID, ResponseTimeMs: ms, TokensUsed: 3, Success: (i+round)%3 != 0}
			_, err := r.TrackUsage(ctx, ev)
			require.NoError(t, err)

			u, _ := r.Usage(claudeID)
			require.Equal(t, u.TotalRequests, u.SuccessfulRequests+u.FailedRequests,
				"round %d call %d", round, i)
			require.LessOrEqual(t, u.MinResponseTime, u.AvgResponseTime,
				"round %d call %d: min=%v avg=%v", round, i, u.MinResponseTime, u.AvgResponseTime)
			require.LessOrEqual(t, u.AvgResponseTime, u.MaxResponseTime,
				"round %d call %d: avg=%v max=%v", round, i, u.AvgResponseTime, u.MaxResponseTime)
		}
	}

	u, _ := r.Usage(claudeID)
	assert.Equal(t, int64(5*len(latencies)), u.TotalRequests)
	assert.Positive(t, u.FailedRequests)
	assert.Equal(t, 0.1, u.MinResponseTime)
	assert.Equal(t, 123.456, u.MaxResponseTime)
}

func TestTrackUsage_RepeatedValueKeepsExactMean(t *testing.T) {
	for _, ms := range []float64{0.1, 0.7, 123.456} {
		r, _, _ := newTestRegistry(t)
		for i := 0; i < 50; i++ {
			_, err := r.TrackUsage(context.Background(), UsageEvent{ModelID: claudeID, ResponseTimeMs: ms, Success: true})
			require.NoError(t, err)
			u, _ := r.Usage(claudeID)
			require.Equal(t, ms, u.AvgResponseTime, "sample %v call %d", ms, i+1)
		}
	}
}

func TestTrackUsage_PublishesEvent(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(4, events.EventUsageTracked)
	defer bus.Unsubscribe(sub)

	r, _, _ := newTestRegistry(t, WithEventBus(bus))
	_, err := r.TrackUsage(context.Background(), UsageEvent{ModelID: claudeID, ResponseTimeMs: 300, Cost: 0.002, Success: true})
	require.NoError(t, err)

	select {
	case ev := <-sub.C:
		assert.Equal(t, claudeID, ev.ModelID)
		assert.Equal(t, "claude", ev.Provider)
		assert.Equal(t, 300.0, ev.LatencyMs)
		require.NotNil(t, ev.Success)
		assert.True(t, *ev.Success)
	case <-time.After(time.Second):
		t.Fatal("no usage_tracked event")
	}
}

func TestResetUsage(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.TrackUsage(ctx, UsageEvent{ModelID: claudeID, ResponseTimeMs: 100, Success: true})
	require.NoError(t, err)
	require.NoError(t, r.ResetUsage(ctx, claudeID))

	u, _ := r.Usage(claudeID)
	assert.Equal(t, int64(0), u.TotalRequests)

	logs, err := r.PerformanceLogs(ctx, claudeID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	assert.ErrorIs(t, r.ResetUsage(ctx, "nope"), ErrModelNotFound)

	n, err := r.ResetAllUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}
