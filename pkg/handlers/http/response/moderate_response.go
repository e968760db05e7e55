package response

// ModerationResult is the wire form of one item's verdict.
type ModerationResult struct {
	RequestID      string             `json:"request_id"`
	Flagged        bool               `json:"flagged"`
	Categories     map[string]bool    `json:"categories"`
	CategoryScores map[string]float64 `json:"category_scores,omitempty"`
	Timestamp      string             `json:"timestamp"`
}

type ModerateResponse struct {
	Results          []ModerationResult `json:"results"`
	TotalItems       int                `json:"total_items"`
	ProcessingTimeMs int64              `json:"processing_time_ms"`
	Cached           bool               `json:"cached"`
}

type ErrorResponse struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

type ErrorResponseWrapper struct {
	Error ErrorResponse `json:"error"`
}

type ComponentStatus struct {
	Status    string `json:"status"`
	LatencyMs *int64 `json:"latency_ms,omitempty"`
	Name      string `json:"name,omitempty"`
}

type HealthResponse struct {
	Status        string                     `json:"status"`
	Timestamp     string                     `json:"timestamp"`
	UptimeSeconds float64                    `json:"uptime_seconds"`
	Components    map[string]ComponentStatus `json:"components"`
}
