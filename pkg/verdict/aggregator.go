package verdict

import (
	"fmt"
	"sort"

	"github.com/modguard/modguard/pkg/domain/moderation"
)

// Aggregator maps raw model labels onto semantic categories and applies
// thresholds. It is configured once at startup from validated data and is
// a pure function of its inputs afterwards.
type Aggregator struct {
	categories map[string][]string
	defaults   map[string]float64
}

// NewAggregator validates the category mapping and default thresholds.
// Invalid configuration is rejected here, never at request time.
func NewAggregator(categories map[string][]string, defaults map[string]float64) (*Aggregator, error) {
	if len(categories) == 0 {
		return nil, fmt.Errorf("category mapping must not be empty")
	}
	for category, labels := range categories {
		if len(labels) == 0 {
			return nil, fmt.Errorf("category %q has no contributing labels", category)
		}
		threshold, ok := defaults[category]
		if !ok {
			return nil, fmt.Errorf("category %q has no default threshold", category)
		}
		if threshold < 0 || threshold > 1 {
			return nil, fmt.Errorf("threshold for %q must be in [0,1], got %f", category, threshold)
		}
	}
	for category := range defaults {
		if _, ok := categories[category]; !ok {
			return nil, fmt.Errorf("threshold for unknown category %q", category)
		}
	}
	return &Aggregator{categories: categories, defaults: defaults}, nil
}

// Categories returns the configured category names in stable order.
func (a *Aggregator) Categories() []string {
	names := make([]string, 0, len(a.categories))
	for name := range a.categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateOverrides checks per-request threshold overrides against the
// configured categories and the [0,1] range.
func (a *Aggregator) ValidateOverrides(overrides map[string]float64) error {
	for category, threshold := range overrides {
		if _, ok := a.categories[category]; !ok {
			return fmt.Errorf("unknown category %q", category)
		}
		if threshold < 0 || threshold > 1 {
			return fmt.Errorf("threshold for %q must be in [0,1], got %f", category, threshold)
		}
	}
	return nil
}

// Aggregate maps raw label probabilities onto a category verdict. A
// category's score is the maximum of its contributing labels: a single
// strong signal must dominate, and summing would double-count correlated
// labels. Overrides shadow default thresholds for this call only.
func (a *Aggregator) Aggregate(raw moderation.RawScores, overrides map[string]float64) moderation.Verdict {
	verdict := moderation.Verdict{
		Categories: make(map[string]moderation.CategoryScore, len(a.categories)),
	}

	for category, labels := range a.categories {
		score := 0.0
		for _, label := range labels {
			if s, ok := raw[label]; ok && s > score {
				score = s
			}
		}

		threshold := a.defaults[category]
		if override, ok := overrides[category]; ok {
			threshold = override
		}

		flagged := score >= threshold
		verdict.Categories[category] = moderation.CategoryScore{
			Score:   score,
			Flagged: flagged,
		}
		if flagged {
			verdict.Flagged = true
		}
	}

	return verdict
}
