// Package catalog defines the model registry's domain types: model
// configurations, usage aggregates, performance log rows and reports.
package catalog

import (
	"fmt"
	"slices"
	"time"
)

// Status is the lifecycle state of a model configuration.
type Status string

const (
	StatusActive      Status = "active"
	StatusInactive    Status = "inactive"
	StatusDeprecated  Status = "deprecated"
	StatusMaintenance Status = "maintenance"
	StatusError       Status = "error"
)

// AllStatuses returns every valid status in declaration order.
func AllStatuses() []Status {
	return []Status{StatusActive, StatusInactive, StatusDeprecated, StatusMaintenance, StatusError}
}

// ParseStatus converts s into a Status.
func ParseStatus(s string) (Status, error) {
	for _, v := range AllStatuses() {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Category is the primary use case a model is tuned for.
type Category string

const (
	CategoryConversation  Category = "conversation"
	CategoryGrammar       Category = "grammar"
	CategoryTranslation   Category = "translation"
	CategoryPronunciation Category = "pronunciation"
	CategoryAnalysis      Category = "analysis"
	CategoryGeneral       Category = "general"
)

// AllCategories returns every valid category in declaration order.
func AllCategories() []Category {
	return []Category{
		CategoryConversation, CategoryGrammar, CategoryTranslation,
		CategoryPronunciation, CategoryAnalysis, CategoryGeneral,
	}
}

// ParseCategory converts s into a Category.
func ParseCategory(s string) (Category, error) {
	for _, v := range AllCategories() {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// Size is a coarse model size class.
type Size string

const (
	SizeSmall      Size = "small"
	SizeMedium     Size = "medium"
	SizeLarge      Size = "large"
	SizeExtraLarge Size = "extra_large"
)

// AllSizes returns every valid size in declaration order.
func AllSizes() []Size {
	return []Size{SizeSmall, SizeMedium, SizeLarge, SizeExtraLarge}
}

// ParseSize converts s into a Size.
func ParseSize(s string) (Size, error) {
	for _, v := range AllSizes() {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown size %q", s)
}

// ModelConfiguration holds the static and admin-tunable attributes of a
// single (provider, model name) pair.
type ModelConfiguration struct {
	Provider    string   `json:"provider" yaml:"provider"`
	ModelName   string   `json:"model_name" yaml:"model_name"`
	DisplayName string   `json:"display_name" yaml:"display_name"`
	Category    Category `json:"category" yaml:"category"`
	Size        Size     `json:"size" yaml:"size"`
	Status      Status   `json:"status" yaml:"status"`

	CostPer1KTokens   float64 `json:"cost_per_1k_tokens" yaml:"cost_per_1k_tokens"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms" yaml:"avg_response_time_ms"`
	QualityScore      float64 `json:"quality_score" yaml:"quality_score"`
	ReliabilityScore  float64 `json:"reliability_score" yaml:"reliability_score"`

	SupportedLanguages []string `json:"supported_languages" yaml:"supported_languages"`
	PrimaryLanguages   []string `json:"primary_languages" yaml:"primary_languages"`

	MaxTokens         int  `json:"max_tokens" yaml:"max_tokens"`
	ContextWindow     int  `json:"context_window" yaml:"context_window"`
	SupportsStreaming bool `json:"supports_streaming" yaml:"supports_streaming"`
	SupportsFunctions bool `json:"supports_functions" yaml:"supports_functions"`

	Temperature      float64 `json:"temperature" yaml:"temperature"`
	TopP             float64 `json:"top_p" yaml:"top_p"`
	FrequencyPenalty float64 `json:"frequency_penalty" yaml:"frequency_penalty"`
	PresencePenalty  float64 `json:"presence_penalty" yaml:"presence_penalty"`

	Enabled  bool    `json:"enabled" yaml:"enabled"`
	Priority int     `json:"priority" yaml:"priority"` // 1 = highest
	Weight   float64 `json:"weight" yaml:"weight"`     // routing weight, stored only

	CreatedAt time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt time.Time  `json:"updated_at" yaml:"-"`
	LastUsed  *time.Time `json:"last_used,omitempty" yaml:"-"`
}

// ID returns the composite model identifier.
func (m ModelConfiguration) ID() string {
	return ModelID(m.Provider, m.ModelName)
}

// ModelID builds the composite identifier for a provider and model name.
func ModelID(provider, modelName string) string {
	return provider + "_" + modelName
}

// SupportsLanguage reports whether lang is a supported or primary language.
func (m ModelConfiguration) SupportsLanguage(lang string) bool {
	return slices.Contains(m.SupportedLanguages, lang) || slices.Contains(m.PrimaryLanguages, lang)
}

// IsPrimaryLanguage reports whether lang is one of the model's primary languages.
func (m ModelConfiguration) IsPrimaryLanguage(lang string) bool {
	return slices.Contains(m.PrimaryLanguages, lang)
}

// IsActive reports whether the model is enabled and in the active status.
func (m ModelConfiguration) IsActive() bool {
	return m.Enabled && m.Status == StatusActive
}

// Clone returns a deep copy so callers can mutate the result freely.
func (m ModelConfiguration) Clone() ModelConfiguration {
	c := m
	c.SupportedLanguages = slices.Clone(m.SupportedLanguages)
	c.PrimaryLanguages = slices.Clone(m.PrimaryLanguages)
	if m.LastUsed != nil {
		t := *m.LastUsed
		c.LastUsed = &t
	}
	return c
}

// Validate checks identity, enum values and numeric bounds.
func (m ModelConfiguration) Validate() error {
	if m.Provider == "" {
		return &ValidationError{Field: "provider", Reason: "required"}
	}
	if m.ModelName == "" {
		return &ValidationError{Field: "model_name", Reason: "required"}
	}
	if _, err := ParseCategory(string(m.Category)); err != nil {
		return &ValidationError{Field: "category", Reason: err.Error()}
	}
	if _, err := ParseSize(string(m.Size)); err != nil {
		return &ValidationError{Field: "size", Reason: err.Error()}
	}
	if _, err := ParseStatus(string(m.Status)); err != nil {
		return &ValidationError{Field: "status", Reason: err.Error()}
	}
	if m.AvgResponseTimeMs < 0 {
		return &ValidationError{Field: "avg_response_time_ms", Reason: "must be >= 0"}
	}
	if m.MaxTokens < 0 || m.ContextWindow < 0 {
		return &ValidationError{Field: "max_tokens", Reason: "token limits must be >= 0"}
	}
	checks := []struct {
		field string
		v     float64
	}{
		{"cost_per_1k_tokens", m.CostPer1KTokens},
		{"quality_score", m.QualityScore},
		{"reliability_score", m.ReliabilityScore},
		{"priority", float64(m.Priority)},
		{"weight", m.Weight},
		{"temperature", m.Temperature},
		{"top_p", m.TopP},
		{"frequency_penalty", m.FrequencyPenalty},
		{"presence_penalty", m.PresencePenalty},
	}
	for _, c := range checks {
		if err := CheckRange(c.field, c.v); err != nil {
			return err
		}
	}
	return nil
}
