package selfeval

import (
	"testing"
	"time"

	"synapse/internal/storage"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	store, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	return NewEvaluator(store, 0)
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

func TestEvaluate_CleanFastSuccessGradesA(t *testing.T) {
	e := newTestEvaluator(t)

	eval, err := e.Evaluate(Outcome{
		TaskID:      "t1",
		TaskType:    "refactor",
		Success:     true,
		DurationMS:  12_000,
		TestsPassed: boolPtr(true),
	})
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}

	// accuracy 5, completeness 4, efficiency 5, satisfaction 4 → 4.55
	if eval.Dimensions[DimAccuracy].Score != 5 {
		t.Errorf("accuracy = %f, want 5", eval.Dimensions[DimAccuracy].Score)
	}
	if eval.Grade != "A" {
		t.Errorf("Grade = %q (overall %f), want A", eval.Grade, eval.Overall)
	}
	if len(eval.Feedback) != 0 {
		t.Errorf("clean success should carry no feedback, got %v", eval.Feedback)
	}
}

func TestEvaluate_FailureWithFailedTests(t *testing.T) {
	e := newTestEvaluator(t)

	eval, err := e.Evaluate(Outcome{
		TaskType:    "bugfix",
		Success:     false,
		DurationMS:  400_000,
		ErrorCount:  3,
		TestsPassed: boolPtr(false),
	})
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}

	// accuracy clamps at 1 (base 1, −1 for failed tests)
	if eval.Dimensions[DimAccuracy].Score != 1 {
		t.Errorf("accuracy = %f, want clamped 1", eval.Dimensions[DimAccuracy].Score)
	}
	if eval.Dimensions[DimEfficiency].Score != 1 {
		t.Errorf("efficiency = %f, want 1 for >=300s", eval.Dimensions[DimEfficiency].Score)
	}
	if eval.Grade != "F" && eval.Grade != "D" {
		t.Errorf("Grade = %q (overall %f), want D or F", eval.Grade, eval.Overall)
	}
	if len(eval.Feedback) == 0 {
		t.Error("weak dimensions should produce feedback")
	}
}

func TestEvaluate_CompletenessFromPlannedRatio(t *testing.T) {
	e := newTestEvaluator(t)

	eval, err := e.Evaluate(Outcome{
		TaskType:       "feature",
		Success:        true,
		DurationMS:     45_000,
		TasksPlanned:   4,
		TasksCompleted: 2,
	})
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	// 1 + round(4 * 2/4) = 3
	if got := eval.Dimensions[DimCompleteness].Score; got != 3 {
		t.Errorf("completeness = %f, want 3", got)
	}
}

func TestEvaluate_UserRatingOverridesProxy(t *testing.T) {
	e := newTestEvaluator(t)

	eval, err := e.Evaluate(Outcome{
		TaskType:   "review",
		Success:    true,
		DurationMS: 10_000,
		UserRating: intPtr(2),
	})
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if got := eval.Dimensions[DimSatisfaction].Score; got != 2 {
		t.Errorf("satisfaction = %f, want explicit rating 2", got)
	}
}

func TestEvaluate_HistoryIsCapped(t *testing.T) {
	store, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	e := NewEvaluator(store, 5)

	for i := 0; i < 8; i++ {
		if _, err := e.Evaluate(Outcome{TaskType: "task", Success: true, DurationMS: 1000}); err != nil {
			t.Fatalf("Evaluate %d error: %v", i, err)
		}
	}
	if got := len(e.History()); got != 5 {
		t.Errorf("history length = %d, want cap 5", got)
	}
}

func TestEvaluator_PersistsAcrossInstances(t *testing.T) {
	store, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}

	e1 := NewEvaluator(store, 0)
	if _, err := e1.Evaluate(Outcome{TaskType: "task", Success: true, DurationMS: 1000}); err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}

	e2 := NewEvaluator(store, 0)
	if got := len(e2.History()); got != 1 {
		t.Errorf("reloaded history length = %d, want 1", got)
	}
}

func TestImprovementSuggestions_FlagsWeakDimensions(t *testing.T) {
	e := newTestEvaluator(t)

	for i := 0; i < 6; i++ {
		if _, err := e.Evaluate(Outcome{
			TaskType:   "deploy",
			Success:    false,
			DurationMS: 500_000,
			ErrorCount: 2,
		}); err != nil {
			t.Fatalf("Evaluate error: %v", err)
		}
	}

	s := e.ImprovementSuggestions(SuggestOptions{})
	if len(s.WeakDimensions) == 0 {
		t.Fatal("all-failure history should flag weak dimensions")
	}
	found := false
	for _, taskType := range s.WeakTaskTypes {
		if taskType == "deploy" {
			found = true
		}
	}
	if !found {
		t.Errorf("WeakTaskTypes = %v, want deploy flagged", s.WeakTaskTypes)
	}
	if len(s.Advice) == 0 {
		t.Error("weak dimensions should carry advice")
	}
}

func TestImprovementSuggestions_DetectsImprovingTrend(t *testing.T) {
	e := newTestEvaluator(t)

	// First half: slow failures. Second half: fast clean successes.
	for i := 0; i < 4; i++ {
		if _, err := e.Evaluate(Outcome{TaskType: "task", Success: false, DurationMS: 400_000}); err != nil {
			t.Fatalf("Evaluate error: %v", err)
		}
	}
	for i := 0; i < 4; i++ {
		if _, err := e.Evaluate(Outcome{
			TaskType: "task", Success: true, DurationMS: 10_000, TestsPassed: boolPtr(true),
		}); err != nil {
			t.Fatalf("Evaluate error: %v", err)
		}
	}

	s := e.ImprovementSuggestions(SuggestOptions{})
	if s.Trend != TrendImproving {
		t.Errorf("Trend = %q, want improving", s.Trend)
	}
}

func TestLearningTrends_WindowsAndDirection(t *testing.T) {
	e := newTestEvaluator(t)
	base := time.Now()
	e.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		if _, err := e.Evaluate(Outcome{TaskType: "task", Success: false, DurationMS: 400_000}); err != nil {
			t.Fatalf("Evaluate error: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		if _, err := e.Evaluate(Outcome{
			TaskType: "task", Success: true, DurationMS: 10_000, TestsPassed: boolPtr(true),
		}); err != nil {
			t.Fatalf("Evaluate error: %v", err)
		}
	}

	trends := e.LearningTrends(3)
	if len(trends.Windows) != 2 {
		t.Fatalf("got %d windows, want 2", len(trends.Windows))
	}
	if trends.Windows[0].Count != 3 || trends.Windows[1].Count != 3 {
		t.Errorf("window counts = %d/%d, want 3/3", trends.Windows[0].Count, trends.Windows[1].Count)
	}
	if trends.Trend != TrendImproving {
		t.Errorf("Trend = %q, want improving", trends.Trend)
	}
}

func TestLearningTrends_EmptyHistoryIsStable(t *testing.T) {
	e := newTestEvaluator(t)

	trends := e.LearningTrends(0)
	if len(trends.Windows) != 0 {
		t.Errorf("got %d windows, want 0", len(trends.Windows))
	}
	if trends.Trend != TrendStable {
		t.Errorf("Trend = %q, want stable", trends.Trend)
	}
}
