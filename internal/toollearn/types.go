// Package toollearn learns which tool works best per task context. It
// blends two signals: a time-decayed success history per (context, tool)
// pair, and a cumulative group-relative score maintained from explicit
// multi-tool comparisons. Writes go through a debounced buffer so hot call
// paths never pay a disk write per usage.
package toollearn

import (
	"errors"
	"time"
)

// ErrGroupTooSmall mirrors the grpo precondition: a comparison of fewer
// than two results carries no relative information.
var ErrGroupTooSmall = errors.New("toollearn: comparison needs at least 2 results")

// UsageRecord captures one tool invocation outcome. Context keys follow an
// "operation:target" or "operation:target:scope" shape; the operation prefix
// drives sibling-context fallback.
type UsageRecord struct {
	Tool      string    `json:"tool"`
	Context   string    `json:"context"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command,omitempty"`
	Domain    string    `json:"domain,omitempty"`
}

// Aggregate is the running per-(context, tool) summary kept alongside the
// raw records.
type Aggregate struct {
	TotalUses  int       `json:"total_uses"`
	TotalScore float64   `json:"total_score"`
	AvgScore   float64   `json:"avg_score"`
	LastUsed   time.Time `json:"last_used"`
}

// Confidence labels how much history backs a suggestion.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"   // ≥20 samples
	ConfidenceMedium Confidence = "medium" // ≥3 samples
	ConfidenceLow    Confidence = "low"    // <3 samples or fallback
)

func confidenceFor(samples int) Confidence {
	switch {
	case samples >= 20:
		return ConfidenceHigh
	case samples >= 3:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Suggestion is one ranked tool candidate from the decayed usage history.
type Suggestion struct {
	Tool          string     `json:"tool"`
	WeightedScore float64    `json:"weighted_score"`
	Samples       int        `json:"samples"`
	Confidence    Confidence `json:"confidence"`
	LastUsed      time.Time  `json:"last_used"`
	// Fallback marks suggestions derived from sibling contexts sharing the
	// operation prefix rather than an exact context match.
	Fallback bool `json:"fallback,omitempty"`
}

// SuggestOptions narrows SuggestTool output.
type SuggestOptions struct {
	Limit    int     // max suggestions, default 3
	MinScore float64 // qualifying weighted-score floor
}

// ComparisonResult is one tool's outcome inside a group comparison.
// Accuracy is a caller-judged [0,1] signal; speed and accuracy are
// normalized within the group before weighting.
type ComparisonResult struct {
	Tool       string  `json:"tool"`
	Success    bool    `json:"success"`
	DurationMS float64 `json:"duration_ms"`
	Accuracy   float64 `json:"accuracy"`
	OutputLen  int     `json:"output_len"`
}

// RankedComparison is one entry of a recorded comparison round.
type RankedComparison struct {
	Tool      string  `json:"tool"`
	Composite float64 `json:"composite"`
	Advantage float64 `json:"advantage"`
	Rank      int     `json:"rank"`
}

// GroupComparison is the persisted trace of one comparison round.
type GroupComparison struct {
	Context    string             `json:"context"`
	Rankings   []RankedComparison `json:"rankings"`
	RecordedAt time.Time          `json:"recorded_at"`
}

// RecommendationSource says which signal produced a recommendation.
type RecommendationSource string

const (
	SourceBlended   RecommendationSource = "blended"
	SourceGRPO      RecommendationSource = "grpo"
	SourceHistory   RecommendationSource = "history"
	SourceColdStart RecommendationSource = "cold-start"
)

// Recommendation is the final blended answer for one context.
type Recommendation struct {
	Tool       string               `json:"tool"`
	Score      float64              `json:"score"`
	Source     RecommendationSource `json:"source"`
	Confidence Confidence           `json:"confidence"`
}

// grpoScore is the cumulative per-(context, tool) comparison signal. It
// starts neutral at 0.5 and is nudged by relative advantage.
type grpoScore struct {
	Score       float64 `json:"score"`
	Comparisons int     `json:"comparisons"`
}

// historyFile is the single on-disk state of the learner.
type historyFile struct {
	Records    map[string][]UsageRecord        `json:"records"`
	Aggregates map[string]map[string]Aggregate `json:"aggregates"`
	Groups     []GroupComparison               `json:"groups"`
	GRPOScores map[string]map[string]grpoScore `json:"grpo_scores"`
}

func (h *historyFile) init() {
	if h.Records == nil {
		h.Records = make(map[string][]UsageRecord)
	}
	if h.Aggregates == nil {
		h.Aggregates = make(map[string]map[string]Aggregate)
	}
	if h.GRPOScores == nil {
		h.GRPOScores = make(map[string]map[string]grpoScore)
	}
}
