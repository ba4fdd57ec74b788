package registry

import (
	"sort"

	"github.com/lingotutor/modelhub/internal/catalog"
)

// DefaultOptimizeLimit is the number of candidates returned when the
// request does not set one.
const DefaultOptimizeLimit = 5

// Scoring weights.
const (
	weightQuality       = 40
	weightReliability   = 20
	bonusPrimaryLang    = 15
	bonusSupportedLang  = 10
	costCeiling         = 20
	costScale           = 1000
	speedCeiling        = 10
	speedScaleMs        = 500
	bonusCategoryMatch  = 10
	priorityBonusOffset = 11
)

// OptimizeRequest selects candidates for a language and use case.
type OptimizeRequest struct {
	Language          string   `json:"language"`
	UseCase           string   `json:"use_case"`
	BudgetLimit       *float64 `json:"budget_limit,omitempty"`
	MaxResponseTimeMs *float64 `json:"max_response_time,omitempty"`
	MinQualityScore   *float64 `json:"min_quality_score,omitempty"`
	Limit             int      `json:"limit,omitempty"`
}

// ScoreBreakdown holds each additive sub-score.
type ScoreBreakdown struct {
	Quality     float64 `json:"quality"`
	Reliability float64 `json:"reliability"`
	Language    float64 `json:"language"`
	Cost        float64 `json:"cost"`
	Speed       float64 `json:"speed"`
	Category    float64 `json:"category"`
	Priority    float64 `json:"priority"`
}

// Total is the sum of the sub-scores.
func (b ScoreBreakdown) Total() float64 {
	return b.Quality + b.Reliability + b.Language + b.Cost + b.Speed + b.Category + b.Priority
}

// Candidate is a scored model.
type Candidate struct {
	ModelID   string         `json:"model_id"`
	Score     float64        `json:"score"`
	Breakdown ScoreBreakdown `json:"breakdown"`
}

func eligible(m catalog.ModelConfiguration, req OptimizeRequest) bool {
	if !m.Enabled {
		return false
	}
	if !m.SupportsLanguage(req.Language) && !m.IsPrimaryLanguage(req.Language) {
		return false
	}
	if req.BudgetLimit != nil && m.CostPer1KTokens > *req.BudgetLimit {
		return false
	}
	if req.MaxResponseTimeMs != nil && m.AvgResponseTimeMs > *req.MaxResponseTimeMs {
		return false
	}
	if req.MinQualityScore != nil && m.QualityScore < *req.MinQualityScore {
		return false
	}
	return true
}

// Score computes the breakdown for one model.
func Score(m catalog.ModelConfiguration, language, useCase string) ScoreBreakdown {
	b := ScoreBreakdown{
		Quality:     m.QualityScore * weightQuality,
		Reliability: m.ReliabilityScore * weightReliability,
		Cost:        max(0, costCeiling-m.CostPer1KTokens*costScale),
		Speed:       max(0, speedCeiling-m.AvgResponseTimeMs/speedScaleMs),
		Priority:    float64(priorityBonusOffset - m.Priority),
	}
	switch {
	case m.IsPrimaryLanguage(language):
		b.Language = bonusPrimaryLang
	case m.SupportsLanguage(language):
		b.Language = bonusSupportedLang
	}
	if string(m.Category) == useCase {
		b.Category = bonusCategoryMatch
	}
	return b
}

// Rank filters and scores models, returning them best first. Equal scores
// keep their input order.
func Rank(models []catalog.ModelConfiguration, req OptimizeRequest) []Candidate {
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultOptimizeLimit
	}
	out := []Candidate{}
	for _, m := range models {
		if !eligible(m, req) {
			continue
		}
		b := Score(m, req.Language, req.UseCase)
		out = append(out, Candidate{ModelID: m.ID(), Score: b.Total(), Breakdown: b})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Optimize ranks the current registry snapshot for req.
func (r *Registry) Optimize(req OptimizeRequest) []Candidate {
	return Rank(r.Configurations(Filter{}), req)
}

// OptimizeSelection returns up to five model ids for the language, use
// case and optional budget ceiling.
func (r *Registry) OptimizeSelection(language, useCase string, budgetLimit *float64) []string {
	cands := r.Optimize(OptimizeRequest{Language: language, UseCase: useCase, BudgetLimit: budgetLimit})
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.ModelID
	}
	return ids
}
