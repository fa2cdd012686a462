// Package selfeval grades single task outcomes on four weighted dimensions
// and tracks grading history for trend analysis. Grading is deterministic
// rule arithmetic; no comparison group and no judge model are involved.
package selfeval

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"synapse/internal/logging"
	"synapse/internal/storage"
)

const (
	evaluationsFileName = "evaluations.json"
	defaultEvaluationCap = 500
)

// Evaluator grades outcomes and appends them to a capped history log.
type Evaluator struct {
	mu     sync.Mutex
	store  *storage.Store
	log    *zap.SugaredLogger
	cap    int
	evals  []Evaluation
	loaded bool
	now    func() time.Time
}

// NewEvaluator creates an evaluator persisting to evaluations.json. cap<=0
// takes the default of 500.
func NewEvaluator(store *storage.Store, cap int) *Evaluator {
	if cap <= 0 {
		cap = defaultEvaluationCap
	}
	return &Evaluator{
		store: store,
		log:   logging.Get(logging.CategorySelfEval),
		cap:   cap,
		now:   time.Now,
	}
}

func (e *Evaluator) load() {
	if e.loaded {
		return
	}
	e.store.ReadJSON(evaluationsFileName, &e.evals)
	e.loaded = true
}

// Evaluate grades one outcome and persists the evaluation.
func (e *Evaluator) Evaluate(outcome Outcome) (Evaluation, error) {
	dims := map[Dimension]DimensionScore{
		DimAccuracy:     {Score: scoreAccuracy(outcome), Weight: dimensionWeights[DimAccuracy]},
		DimCompleteness: {Score: scoreCompleteness(outcome), Weight: dimensionWeights[DimCompleteness]},
		DimEfficiency:   {Score: scoreEfficiency(outcome), Weight: dimensionWeights[DimEfficiency]},
		DimSatisfaction: {Score: scoreSatisfaction(outcome), Weight: dimensionWeights[DimSatisfaction]},
	}

	var overall float64
	for _, d := range dims {
		overall += d.Score * d.Weight
	}

	eval := Evaluation{
		ID:         uuid.NewString(),
		TaskID:     outcome.TaskID,
		TaskType:   outcome.TaskType,
		Timestamp:  e.now(),
		Dimensions: dims,
		Overall:    overall,
		Grade:      gradeFor(overall),
		Feedback:   feedbackFor(dims),
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.load()
	e.evals = append(e.evals, eval)
	if len(e.evals) > e.cap {
		e.evals = e.evals[len(e.evals)-e.cap:]
	}
	if err := e.store.WriteJSON(evaluationsFileName, e.evals); err != nil {
		return Evaluation{}, err
	}
	e.log.Debugw("outcome evaluated",
		"taskType", outcome.TaskType, "overall", overall, "grade", eval.Grade)
	return eval, nil
}

// History returns a copy of the persisted evaluations, oldest first.
func (e *Evaluator) History() []Evaluation {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.load()
	out := make([]Evaluation, len(e.evals))
	copy(out, e.evals)
	return out
}

// =============================================================================
// DIMENSION RULES
// =============================================================================

// scoreAccuracy starts at 4 on success and 1 on failure, adjusted one step by
// an explicit test signal when present.
func scoreAccuracy(o Outcome) float64 {
	score := 1.0
	if o.Success {
		score = 4.0
	}
	if o.TestsPassed != nil {
		if *o.TestsPassed {
			score++
		} else {
			score--
		}
	}
	return clampDim(score)
}

// scoreCompleteness grades the done/planned ratio when a plan was reported,
// otherwise falls back to a coarse success split.
func scoreCompleteness(o Outcome) float64 {
	if o.TasksPlanned > 0 {
		done := o.TasksCompleted
		if done > o.TasksPlanned {
			done = o.TasksPlanned
		}
		ratio := float64(done) / float64(o.TasksPlanned)
		return clampDim(1 + math.Round(4*ratio))
	}
	if o.Success {
		return 4
	}
	return 2
}

func scoreEfficiency(o Outcome) float64 {
	switch {
	case o.DurationMS < 30_000:
		return 5
	case o.DurationMS < 60_000:
		return 4
	case o.DurationMS < 120_000:
		return 3
	case o.DurationMS < 300_000:
		return 2
	default:
		return 1
	}
}

// scoreSatisfaction uses the explicit user rating when one was given, else a
// proxy from success/error state.
func scoreSatisfaction(o Outcome) float64 {
	if o.UserRating != nil {
		return clampDim(float64(*o.UserRating))
	}
	switch {
	case o.Success && o.ErrorCount == 0:
		return 4
	case o.Success:
		return 3
	default:
		return 2
	}
}

func gradeFor(overall float64) string {
	switch {
	case overall >= 4.5:
		return "A"
	case overall >= 3.5:
		return "B"
	case overall >= 2.5:
		return "C"
	case overall >= 1.5:
		return "D"
	default:
		return "F"
	}
}

// adviceByDimension is the static guidance attached when a dimension grades
// below the suggestion threshold.
var adviceByDimension = map[Dimension]string{
	DimAccuracy:     "verify changes with targeted tests before reporting success",
	DimCompleteness: "break work into explicit subtasks and confirm each is finished",
	DimEfficiency:   "prefer narrower searches and smaller edits to reduce task duration",
	DimSatisfaction: "surface errors early instead of retrying silently",
}

func feedbackFor(dims map[Dimension]DimensionScore) []string {
	var fb []string
	for _, dim := range []Dimension{DimAccuracy, DimCompleteness, DimEfficiency, DimSatisfaction} {
		if dims[dim].Score < 3 {
			fb = append(fb, adviceByDimension[dim])
		}
	}
	return fb
}

func clampDim(v float64) float64 {
	if v < 1 {
		return 1
	}
	if v > 5 {
		return 5
	}
	return v
}
