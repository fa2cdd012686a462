package lifelong

import (
	"time"
)

// ExperienceType tags what kind of outcome an experience records.
type ExperienceType string

const (
	ExperienceTool     ExperienceType = "tool"
	ExperienceError    ExperienceType = "error"
	ExperienceSuccess  ExperienceType = "success"
	ExperienceTeam     ExperienceType = "team"
	ExperienceSelfEval ExperienceType = "self-evaluation"
)

// Experience is one observed outcome, kept in a rolling append-only log.
type Experience struct {
	ID        string         `json:"id"`
	Type      ExperienceType `json:"type"`
	Category  string         `json:"category"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"sessionId"`
}

// groupKey builds the batching key.
func (e Experience) groupKey() string {
	return string(e.Type) + "::" + e.Category
}

// ToolUsage is one tool invocation reported at session end.
type ToolUsage struct {
	Tool       string `json:"tool"`
	Context    string `json:"context"`
	Success    bool   `json:"success"`
	DurationMS int64  `json:"durationMs"`
	ErrorCount int    `json:"errorCount"`
	OutputLen  int    `json:"outputLen"`
}

// ErrorEvent is one error observed during the session.
type ErrorEvent struct {
	Category   string `json:"category"`
	Message    string `json:"message"`
	Recovered  bool   `json:"recovered"`
	DurationMS int64  `json:"durationMs"`
}

// SuccessEvent is one completed objective.
type SuccessEvent struct {
	Category   string `json:"category"`
	DurationMS int64  `json:"durationMs"`
	StepCount  int    `json:"stepCount"`
}

// TeamOutcome is the result of one multi-agent composition.
type TeamOutcome struct {
	Pattern      string  `json:"pattern"`
	Size         int     `json:"size"`
	Domain       string  `json:"domain"`
	SuccessRate  float64 `json:"successRate"`
	Efficiency   float64 `json:"efficiency"`
	ResourceUse  float64 `json:"resourceUse"`
	Completeness float64 `json:"completeness"`
}

// EvalOutcome carries the dimensions of one self-evaluation, normalized to
// plain numbers so the experience payload stays a flat bag.
type EvalOutcome struct {
	TaskType     string  `json:"taskType"`
	Overall      float64 `json:"overall"`
	Accuracy     float64 `json:"accuracy"`
	Efficiency   float64 `json:"efficiency"`
	Satisfaction float64 `json:"satisfaction"`
}

// SessionData is everything the hook layer hands over at session end.
type SessionData struct {
	SessionID   string         `json:"sessionId"`
	ToolUsages  []ToolUsage    `json:"toolUsages,omitempty"`
	Errors      []ErrorEvent   `json:"errors,omitempty"`
	Successes   []SuccessEvent `json:"successes,omitempty"`
	Teams       []TeamOutcome  `json:"teams,omitempty"`
	Evaluations []EvalOutcome  `json:"evaluations,omitempty"`
}

// SessionSummary reports what each session-end stage did. A stage that
// failed has its message in StageErrors; later stages still run.
type SessionSummary struct {
	Collected   int               `json:"collected"`
	Patterns    int               `json:"patterns"`
	Promoted    int               `json:"promoted"`
	Demoted     int               `json:"demoted"`
	StageErrors map[string]string `json:"stageErrors,omitempty"`
}
