package analytics

import "time"

type EventType string

const (
	EventQuery      EventType = "query"
	EventBuildImage EventType = "build_image"
	EventBuildDone  EventType = "build_complete"
)

// QueryEvent describes one ranked query.
type QueryEvent struct {
	Type       EventType `json:"type"`
	Variant    string    `json:"variant"`
	Set        string    `json:"set"`
	Target     string    `json:"target"`
	K          int       `json:"k"`
	Candidates int       `json:"candidates"`
	Returned   int       `json:"returned"`
	BestMatch  string    `json:"best_match,omitempty"`
	BestScore  float64   `json:"best_score"`
	LatencyMs  int64     `json:"latency_ms"`
	CacheHit   bool      `json:"cache_hit"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id,omitempty"`
}

// BuildEvent describes one image of a database build, or with Type
// EventBuildDone, the finished build.
type BuildEvent struct {
	Type      EventType `json:"type"`
	Variant   string    `json:"variant"`
	Set       string    `json:"set"`
	ImageID   string    `json:"image_id,omitempty"`
	Stored    int       `json:"stored,omitempty"`
	Skipped   int       `json:"skipped,omitempty"`
	Error     string    `json:"error,omitempty"`
	LatencyMs int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}
