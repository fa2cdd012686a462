package selfeval

import "time"

// Dimension names the four graded axes.
type Dimension string

const (
	DimAccuracy     Dimension = "accuracy"
	DimCompleteness Dimension = "completeness"
	DimEfficiency   Dimension = "efficiency"
	DimSatisfaction Dimension = "satisfaction"
)

// dimensionWeights is the fixed blend used for the overall score.
var dimensionWeights = map[Dimension]float64{
	DimAccuracy:     0.35,
	DimCompleteness: 0.25,
	DimEfficiency:   0.20,
	DimSatisfaction: 0.20,
}

// Outcome is the raw result of one task, as reported by the caller. Optional
// signals are pointers so "absent" and "zero" stay distinct.
type Outcome struct {
	TaskID         string `json:"taskId"`
	TaskType       string `json:"taskType"`
	Success        bool   `json:"success"`
	DurationMS     int64  `json:"durationMs"`
	ErrorCount     int    `json:"errorCount"`
	TestsPassed    *bool  `json:"testsPassed,omitempty"`
	TasksPlanned   int    `json:"tasksPlanned,omitempty"`
	TasksCompleted int    `json:"tasksCompleted,omitempty"`
	UserRating     *int   `json:"userRating,omitempty"`
}

// DimensionScore is one graded axis, 1..5.
type DimensionScore struct {
	Score  float64 `json:"score"`
	Weight float64 `json:"weight"`
}

// Evaluation is the persisted grading of a single outcome.
type Evaluation struct {
	ID         string                       `json:"id"`
	TaskID     string                       `json:"taskId"`
	TaskType   string                       `json:"taskType"`
	Timestamp  time.Time                    `json:"timestamp"`
	Dimensions map[Dimension]DimensionScore `json:"dimensions"`
	Overall    float64                      `json:"overall"`
	Grade      string                       `json:"grade"`
	Feedback   []string                     `json:"feedback,omitempty"`
}

// Suggestions is the output of an improvement scan over recent history.
type Suggestions struct {
	WeakDimensions []Dimension `json:"weakDimensions"`
	WeakTaskTypes  []string    `json:"weakTaskTypes"`
	Trend          string      `json:"trend"`
	Advice         []string    `json:"advice"`
	Evaluated      int         `json:"evaluated"`
}

// TrendWindow is one fixed-size bucket of history.
type TrendWindow struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	MeanOverall float64   `json:"meanOverall"`
	Count       int       `json:"count"`
}

// Trends reports per-window means and the inter-window direction.
type Trends struct {
	Windows []TrendWindow `json:"windows"`
	Trend   string        `json:"trend"`
}

const (
	TrendImproving = "improving"
	TrendDeclining = "declining"
	TrendStable    = "stable"
)
