package verdict_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modguard/modguard/pkg/domain/moderation"
	"github.com/modguard/modguard/pkg/verdict"
)

func testAggregator(t *testing.T) *verdict.Aggregator {
	t.Helper()
	a, err := verdict.NewAggregator(
		map[string][]string{
			"harassment": {"toxic", "insult"},
			"profanity":  {"toxic", "obscene"},
			"violence":   {"threat"},
		},
		map[string]float64{
			"harassment": 0.7,
			"profanity":  0.6,
			"violence":   0.6,
		},
	)
	require.NoError(t, err)
	return a
}

func TestNewAggregator_RejectsInvalidConfig(t *testing.T) {
	_, err := verdict.NewAggregator(nil, nil)
	assert.Error(t, err)

	_, err = verdict.NewAggregator(
		map[string][]string{"harassment": {}},
		map[string]float64{"harassment": 0.7},
	)
	assert.Error(t, err)

	_, err = verdict.NewAggregator(
		map[string][]string{"harassment": {"toxic"}},
		map[string]float64{"harassment": 1.5},
	)
	assert.Error(t, err)

	_, err = verdict.NewAggregator(
		map[string][]string{"harassment": {"toxic"}},
		map[string]float64{"harassment": 0.7, "ghost": 0.5},
	)
	assert.Error(t, err)

	_, err = verdict.NewAggregator(
		map[string][]string{"harassment": {"toxic"}},
		map[string]float64{},
	)
	assert.Error(t, err)
}

func TestAggregate_MaxCombination(t *testing.T) {
	a := testAggregator(t)

	v := a.Aggregate(moderation.RawScores{"toxic": 0.9, "obscene": 0.2}, nil)

	assert.InDelta(t, 0.9, v.Categories["profanity"].Score, 1e-9)
	assert.True(t, v.Categories["profanity"].Flagged)
	assert.True(t, v.Flagged)
}

func TestAggregate_ThresholdBoundaryIsInclusive(t *testing.T) {
	a := testAggregator(t)

	v := a.Aggregate(moderation.RawScores{"threat": 0.6}, nil)
	assert.True(t, v.Categories["violence"].Flagged)

	v = a.Aggregate(moderation.RawScores{"threat": 0.5999}, nil)
	assert.False(t, v.Categories["violence"].Flagged)
}

func TestAggregate_OverrideShadowsDefault(t *testing.T) {
	a := testAggregator(t)
	raw := moderation.RawScores{"insult": 0.8}

	v := a.Aggregate(raw, nil)
	assert.True(t, v.Categories["harassment"].Flagged)

	v = a.Aggregate(raw, map[string]float64{"harassment": 0.9})
	assert.False(t, v.Categories["harassment"].Flagged)
	assert.False(t, v.Flagged)
}

func TestAggregate_UnmappedLabelNeverChangesVerdict(t *testing.T) {
	a := testAggregator(t)
	base := a.Aggregate(moderation.RawScores{"toxic": 0.4, "threat": 0.1}, nil)
	withExtra := a.Aggregate(moderation.RawScores{"toxic": 0.4, "threat": 0.1, "unrelated_label": 0.99}, nil)

	assert.Equal(t, base, withExtra)
}

func TestAggregate_Deterministic(t *testing.T) {
	a := testAggregator(t)
	raw := moderation.RawScores{"toxic": 0.77, "insult": 0.12, "threat": 0.63}
	overrides := map[string]float64{"violence": 0.5}

	first := a.Aggregate(raw, overrides)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, a.Aggregate(raw, overrides))
	}
}

func TestAggregate_MissingLabelsScoreZero(t *testing.T) {
	a := testAggregator(t)
	v := a.Aggregate(moderation.RawScores{}, nil)

	for _, category := range a.Categories() {
		assert.Zero(t, v.Categories[category].Score)
		assert.False(t, v.Categories[category].Flagged)
	}
	assert.False(t, v.Flagged)
}

func TestValidateOverrides(t *testing.T) {
	a := testAggregator(t)

	assert.NoError(t, a.ValidateOverrides(nil))
	assert.NoError(t, a.ValidateOverrides(map[string]float64{"violence": 0.4}))
	assert.Error(t, a.ValidateOverrides(map[string]float64{"ghost": 0.4}))
	assert.Error(t, a.ValidateOverrides(map[string]float64{"violence": 1.4}))
	assert.Error(t, a.ValidateOverrides(map[string]float64{"violence": -0.1}))
}
