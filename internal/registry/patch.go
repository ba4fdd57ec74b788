package registry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/lingotutor/modelhub/internal/catalog"
	"github.com/lingotutor/modelhub/internal/events"
)

// Patch is a set of field updates keyed by JSON field name. Values may be
// the types encoding/json produces (float64, bool, string) or Go numerics.
type Patch map[string]any

// patchable is the allow-list of externally editable fields.
var patchable = map[string]func(m *catalog.ModelConfiguration, v any) error{
	"display_name": func(m *catalog.ModelConfiguration, v any) error {
		s, ok := v.(string)
		if !ok {
			return typeError("display_name", "string", v)
		}
		m.DisplayName = s
		return nil
	},
	"status": func(m *catalog.ModelConfiguration, v any) error {
		s, ok := v.(string)
		if !ok {
			if st, isStatus := v.(catalog.Status); isStatus {
				s = string(st)
			} else {
				return typeError("status", "string", v)
			}
		}
		st, err := catalog.ParseStatus(s)
		if err != nil {
			return &catalog.ValidationError{Field: "status", Reason: err.Error()}
		}
		m.Status = st
		return nil
	},
	"enabled": func(m *catalog.ModelConfiguration, v any) error {
		b, ok := v.(bool)
		if !ok {
			return typeError("enabled", "bool", v)
		}
		m.Enabled = b
		return nil
	},
	"priority": func(m *catalog.ModelConfiguration, v any) error {
		f, err := number("priority", v)
		if err != nil {
			return err
		}
		if f != math.Trunc(f) {
			return &catalog.ValidationError{Field: "priority", Reason: fmt.Sprintf("must be an integer, got %g", f)}
		}
		if err := catalog.CheckRange("priority", f); err != nil {
			return err
		}
		m.Priority = int(f)
		return nil
	},
	"cost_per_1k_tokens": floatField("cost_per_1k_tokens", func(m *catalog.ModelConfiguration) *float64 { return &m.CostPer1KTokens }),
	"quality_score":      floatField("quality_score", func(m *catalog.ModelConfiguration) *float64 { return &m.QualityScore }),
	"reliability_score":  floatField("reliability_score", func(m *catalog.ModelConfiguration) *float64 { return &m.ReliabilityScore }),
	"weight":             floatField("weight", func(m *catalog.ModelConfiguration) *float64 { return &m.Weight }),
	"temperature":        floatField("temperature", func(m *catalog.ModelConfiguration) *float64 { return &m.Temperature }),
	"top_p":              floatField("top_p", func(m *catalog.ModelConfiguration) *float64 { return &m.TopP }),
	"frequency_penalty":  floatField("frequency_penalty", func(m *catalog.ModelConfiguration) *float64 { return &m.FrequencyPenalty }),
	"presence_penalty":   floatField("presence_penalty", func(m *catalog.ModelConfiguration) *float64 { return &m.PresencePenalty }),
}

// PatchableFields returns the allow-listed field names, sorted.
func PatchableFields() []string {
	out := make([]string, 0, len(patchable))
	for k := range patchable {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Fields returns the allow-listed keys present in p, sorted.
func (p Patch) Fields() []string {
	var out []string
	for k := range p {
		if _, ok := patchable[k]; ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func floatField(name string, target func(m *catalog.ModelConfiguration) *float64) func(m *catalog.ModelConfiguration, v any) error {
	return func(m *catalog.ModelConfiguration, v any) error {
		f, err := number(name, v)
		if err != nil {
			return err
		}
		if err := catalog.CheckRange(name, f); err != nil {
			return err
		}
		*target(m) = f
		return nil
	}
}

func number(field string, v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, typeError(field, "number", v)
	}
}

func typeError(field, want string, v any) error {
	return &catalog.ValidationError{Field: field, Reason: fmt.Sprintf("expected %s, got %T", want, v)}
}

// apply validates and applies p to a copy of cfg. Nothing is applied when
// any allow-listed field is invalid.
func (p Patch) apply(cfg catalog.ModelConfiguration) (catalog.ModelConfiguration, []string, []string, error) {
	next := cfg.Clone()
	var applied, ignored []string
	for k := range p {
		if _, ok := patchable[k]; ok {
			applied = append(applied, k)
		} else {
			ignored = append(ignored, k)
		}
	}
	sort.Strings(applied)
	sort.Strings(ignored)
	for _, k := range applied {
		if err := patchable[k](&next, p[k]); err != nil {
			return cfg, nil, ignored, err
		}
	}
	return next, applied, ignored, nil
}

// Update applies the allow-listed fields in p to model id and persists the
// full row. Unknown fields are ignored and logged. Any invalid value
// rejects the whole patch. updated_at is always advanced.
func (r *Registry) Update(ctx context.Context, id string, p Patch) (ModelView, error) {
	return r.mutate(ctx, id, "update", func(cfg catalog.ModelConfiguration) (catalog.ModelConfiguration, []string, error) {
		next, applied, ignored, err := p.apply(cfg)
		if len(ignored) > 0 {
			r.logger.Warn("ignoring non-editable model fields",
				slog.String("model_id", id),
				slog.Any("fields", ignored),
			)
		}
		return next, applied, err
	})
}

// Enable sets enabled=true.
func (r *Registry) Enable(ctx context.Context, id string) (ModelView, error) {
	return r.Update(ctx, id, Patch{"enabled": true})
}

// Disable sets enabled=false.
func (r *Registry) Disable(ctx context.Context, id string) (ModelView, error) {
	return r.Update(ctx, id, Patch{"enabled": false})
}

// Toggle flips enabled.
func (r *Registry) Toggle(ctx context.Context, id string) (ModelView, error) {
	return r.mutate(ctx, id, "toggle", func(cfg catalog.ModelConfiguration) (catalog.ModelConfiguration, []string, error) {
		next := cfg.Clone()
		next.Enabled = !cfg.Enabled
		return next, []string{"enabled"}, nil
	})
}

// SetPriority sets priority, rejecting values outside [1,10].
func (r *Registry) SetPriority(ctx context.Context, id string, priority int) (ModelView, error) {
	if err := catalog.CheckRange("priority", float64(priority)); err != nil {
		if r.lookup(id) == nil {
			return ModelView{}, fmt.Errorf("%w: %s", ErrModelNotFound, id)
		}
		return ModelView{}, err
	}
	return r.Update(ctx, id, Patch{"priority": priority})
}

type mutation func(cfg catalog.ModelConfiguration) (catalog.ModelConfiguration, []string, error)

func (r *Registry) mutate(ctx context.Context, id, action string, fn mutation) (ModelView, error) {
	e := r.lookup(id)
	if e == nil {
		return ModelView{}, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	// Only holders of writeMu replace e.cfg, so this read is stable.
	cur := e.cfg
	next, fields, err := fn(cur)
	if err != nil {
		return ModelView{}, err
	}

	now := r.clock()
	if !now.After(cur.UpdatedAt) {
		now = cur.UpdatedAt.Add(time.Microsecond)
	}
	next.UpdatedAt = now

	if err := r.store.UpsertModelConfiguration(ctx, next); err != nil {
		return ModelView{}, fmt.Errorf("persist model %s: %w", id, err)
	}

	r.mu.Lock()
	e.cfg = next
	v := view(e)
	r.mu.Unlock()

	r.reports.clear()
	r.bus.Publish(events.Event{
		Type:     events.EventModelUpdated,
		ModelID:  id,
		Provider: next.Provider,
		Fields:   fields,
		Reason:   action,
	})
	return v, nil
}
