package moderation

// RawScores holds model-native label probabilities in [0,1].
type RawScores map[string]float64

// CategoryScore is the aggregated score and flag decision for one category.
type CategoryScore struct {
	Score   float64 `json:"score"`
	Flagged bool    `json:"flagged"`
}

// Verdict is the post-aggregation classification for a single content item.
type Verdict struct {
	Flagged    bool                     `json:"flagged"`
	Categories map[string]CategoryScore `json:"categories"`
}

// Result is the pipeline outcome for a whole request, one verdict per item.
type Result struct {
	Verdicts []Verdict
	CacheHit bool
}
