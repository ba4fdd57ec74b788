package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingotutor/modelhub/internal/catalog"
)

func TestOptimize_SeedScores(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	cands := r.Optimize(OptimizeRequest{Language: "en", UseCase: "conversation"})
	require.Len(t, cands, 5)

	got := make([]string, len(cands))
	for i, c := range cands {
		got[i] = c.ModelID
	}
	assert.Equal(t, []string{claudeID, mistralID, deepseekID, localMisID, llamaID}, got)

	// claude: 36 + 19 + 15 + (20-8) + (10-2.4) + 10 + 10
	assert.InDelta(t, 109.6, cands[0].Score, 1e-9)
	assert.InDelta(t, 12, cands[0].Breakdown.Cost, 1e-9)
	assert.InDelta(t, 7.6, cands[0].Breakdown.Speed, 1e-9)
	// mistral: 30 + 17.6 + 15 + (20-0.7) + (10-1.6) + 10 + 9
	assert.InDelta(t, 109.3, cands[1].Score, 1e-9)
	assert.InDelta(t, 19.3, cands[1].Breakdown.Cost, 1e-9)
	assert.Equal(t, 9.0, cands[1].Breakdown.Priority)
	// deepseek only supports en.
	assert.Equal(t, 10.0, cands[2].Breakdown.Language)
	assert.InDelta(t, 105.9, cands[2].Score, 1e-9)
	// llama2 is a general model.
	assert.Equal(t, 0.0, cands[4].Breakdown.Category)

	for _, c := range cands {
		assert.InDelta(t, c.Breakdown.Total(), c.Score, 1e-12)
	}
}

func TestOptimizeSelection_TopIDs(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	got := r.OptimizeSelection("en", "conversation", nil)
	assert.Equal(t, []string{claudeID, mistralID, deepseekID, localMisID, llamaID}, got)
}

func TestOptimizeSelection_BudgetLimit(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	got := r.OptimizeSelection("en", "conversation", ptr(0.001))
	assert.NotContains(t, got, claudeID)
	assert.Equal(t, mistralID, got[0])

	// The ceiling is inclusive.
	got = r.OptimizeSelection("en", "conversation", ptr(0.008))
	assert.Contains(t, got, claudeID)
}

func TestOptimizeSelection_LanguageFilter(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	got := r.OptimizeSelection("zh", "conversation", nil)
	assert.Equal(t, []string{deepseekID, claudeID}, got)

	assert.Empty(t, r.OptimizeSelection("sw", "conversation", nil))
}

func TestOptimizeSelection_SkipsDisabled(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	_, err := r.Disable(context.Background(), claudeID)
	require.NoError(t, err)

	got := r.OptimizeSelection("en", "conversation", nil)
	assert.NotContains(t, got, claudeID)
	assert.Len(t, got, 4)
}

func TestOptimize_OptionalFilters(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	fast := r.Optimize(OptimizeRequest{Language: "en", UseCase: "conversation", MaxResponseTimeMs: ptr(1200)})
	require.Len(t, fast, 2)
	assert.Equal(t, claudeID, fast[0].ModelID)
	assert.Equal(t, mistralID, fast[1].ModelID)

	good := r.Optimize(OptimizeRequest{Language: "en", UseCase: "conversation", MinQualityScore: ptr(0.8)})
	require.Len(t, good, 2)
	assert.Equal(t, deepseekID, good[1].ModelID)

	limited := r.Optimize(OptimizeRequest{Language: "en", UseCase: "conversation", Limit: 1})
	require.Len(t, limited, 1)
	assert.Equal(t, claudeID, limited[0].ModelID)
}

func TestRank_TiesKeepInputOrder(t *testing.T) {
	a := catalog.Template()
	a.Provider, a.ModelName = "p", "a"
	a.SupportedLanguages = []string{"en"}
	b := a.Clone()
	b.ModelName = "b"

	got := Rank([]catalog.ModelConfiguration{b, a}, OptimizeRequest{Language: "en"})
	require.Len(t, got, 2)
	assert.Equal(t, "p_b", got[0].ModelID)
	assert.Equal(t, "p_a", got[1].ModelID)

	got = Rank([]catalog.ModelConfiguration{a, b}, OptimizeRequest{Language: "en"})
	assert.Equal(t, "p_a", got[0].ModelID)
}

func TestScore_Floors(t *testing.T) {
	m := catalog.Template()
	m.CostPer1KTokens = 0.05
	m.AvgResponseTimeMs = 9000
	m.Priority = 10

	b := Score(m, "en", "grammar")
	assert.Equal(t, 0.0, b.Cost)
	assert.Equal(t, 0.0, b.Speed)
	assert.Equal(t, 1.0, b.Priority)
	assert.Equal(t, 0.0, b.Language)
	assert.Equal(t, 0.0, b.Category)
}

func TestOptimize_IsPure(t *testing.T) {
	r, st, _ := newTestRegistry(t)
	first := r.Optimize(OptimizeRequest{Language: "fr", UseCase: "conversation"})
	second := r.Optimize(OptimizeRequest{Language: "fr", UseCase: "conversation"})
	assert.Equal(t, first, second)

	logs, err := st.ListPerformanceLogs(context.Background(), claudeID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)
}
