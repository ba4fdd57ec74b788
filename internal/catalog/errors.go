package catalog

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalid is matched by every ValidationError via errors.Is.
var ErrInvalid = errors.New("invalid model field")

// ValidationError describes a single rejected field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// Range is an inclusive numeric bound.
type Range struct {
	Min float64
	Max float64
}

// Ranges lists the bounded numeric fields of a ModelConfiguration.
var Ranges = map[string]Range{
	"cost_per_1k_tokens": {0, math.Inf(1)},
	"quality_score":      {0, 1},
	"reliability_score":  {0, 1},
	"priority":           {1, 10},
	"weight":             {0.1, 2.0},
	"temperature":        {0, 2},
	"top_p":              {0, 1},
	"frequency_penalty":  {0, 2},
	"presence_penalty":   {0, 2},
}

// CheckRange validates v against the bound registered for field. Fields
// without a registered bound always pass.
func CheckRange(field string, v float64) error {
	r, ok := Ranges[field]
	if !ok {
		return nil
	}
	if math.IsNaN(v) || v < r.Min || v > r.Max {
		if math.IsInf(r.Max, 1) {
			return &ValidationError{Field: field, Reason: fmt.Sprintf("must be >= %g, got %g", r.Min, v)}
		}
		return &ValidationError{Field: field, Reason: fmt.Sprintf("must be in [%g, %g], got %g", r.Min, r.Max, v)}
	}
	return nil
}
