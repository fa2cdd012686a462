package lifelong

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"synapse/internal/storage"
	"synapse/internal/transfer"
)

func newTestLearner(t *testing.T) (*Learner, *transfer.Engine) {
	t.Helper()
	store, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	engine, err := transfer.NewEngine(store, transfer.Config{})
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	l, err := NewLearner(store, engine, 0)
	if err != nil {
		t.Fatalf("NewLearner error: %v", err)
	}
	return l, engine
}

func grepSession(fastSuccess bool) SessionData {
	duration := int64(60_000)
	errorCount := 3
	success := false
	if fastSuccess {
		duration = 200
		errorCount = 0
		success = true
	}
	return SessionData{
		SessionID: "s1",
		ToolUsages: []ToolUsage{
			{Tool: "Grep", Context: "search:go", Success: success, DurationMS: duration, ErrorCount: errorCount, OutputLen: 500},
		},
	}
}

func TestCollectSessionExperiences_MapsAllKinds(t *testing.T) {
	l, _ := newTestLearner(t)

	n, err := l.CollectSessionExperiences(SessionData{
		SessionID:   "s1",
		ToolUsages:  []ToolUsage{{Tool: "Grep", Success: true, DurationMS: 100}},
		Errors:      []ErrorEvent{{Category: "compile", Message: "undefined symbol"}},
		Successes:   []SuccessEvent{{Category: "refactor", DurationMS: 5000, StepCount: 3}},
		Teams:       []TeamOutcome{{Pattern: "pipeline", Size: 3, Domain: "backend", SuccessRate: 0.9}},
		Evaluations: []EvalOutcome{{TaskType: "bugfix", Overall: 4.2}},
	})
	if err != nil {
		t.Fatalf("CollectSessionExperiences error: %v", err)
	}
	if n != 5 {
		t.Errorf("collected = %d, want 5", n)
	}

	types := make(map[ExperienceType]int)
	for _, exp := range l.Experiences() {
		types[exp.Type]++
		if exp.SessionID != "s1" {
			t.Errorf("SessionID = %q, want s1", exp.SessionID)
		}
		if exp.ID == "" {
			t.Error("experience must get an ID")
		}
	}
	for _, want := range []ExperienceType{ExperienceTool, ExperienceError, ExperienceSuccess, ExperienceTeam, ExperienceSelfEval} {
		if types[want] != 1 {
			t.Errorf("type %q count = %d, want 1", want, types[want])
		}
	}
}

func TestCollectSessionExperiences_CapEvictsOldestFirst(t *testing.T) {
	store, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	engine, err := transfer.NewEngine(store, transfer.Config{})
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	l, err := NewLearner(store, engine, 3)
	if err != nil {
		t.Fatalf("NewLearner error: %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, err := l.CollectSessionExperiences(grepSession(true)); err != nil {
			t.Fatalf("collect %d error: %v", i, err)
		}
	}
	if got := len(l.Experiences()); got != 3 {
		t.Errorf("log length = %d, want cap 3", got)
	}
}

func TestBatchLearn_SkipsSingletonGroups(t *testing.T) {
	l, _ := newTestLearner(t)

	if _, err := l.CollectSessionExperiences(grepSession(true)); err != nil {
		t.Fatalf("collect error: %v", err)
	}

	updated, err := l.BatchLearn(context.Background())
	if err != nil {
		t.Fatalf("BatchLearn error: %v", err)
	}
	if len(updated) != 0 {
		t.Errorf("singleton group produced patterns %v, want none", updated)
	}
}

func TestBatchLearn_ExtractsWinnerPattern(t *testing.T) {
	l, _ := newTestLearner(t)

	// One fast clean run against one slow failing run of the same tool.
	if _, err := l.CollectSessionExperiences(grepSession(true)); err != nil {
		t.Fatalf("collect error: %v", err)
	}
	if _, err := l.CollectSessionExperiences(grepSession(false)); err != nil {
		t.Fatalf("collect error: %v", err)
	}

	updated, err := l.BatchLearn(context.Background())
	if err != nil {
		t.Fatalf("BatchLearn error: %v", err)
	}
	if len(updated) != 1 || updated[0] != "tool::Grep" {
		t.Fatalf("updated = %v, want [tool::Grep]", updated)
	}

	p := l.Patterns()["tool::Grep"]
	if p.SampleSize != 2 {
		t.Errorf("SampleSize = %d, want 2", p.SampleSize)
	}
	if p.BestComposite <= p.GroupMean+0.05 {
		t.Errorf("best %f must clear mean %f by the gate margin", p.BestComposite, p.GroupMean)
	}
	if p.Confidence <= 0 || p.Confidence > 1 {
		t.Errorf("Confidence = %f, want (0,1]", p.Confidence)
	}
	if p.ConsecutiveSuccesses != 1 {
		t.Errorf("ConsecutiveSuccesses = %d, want 1 on first extraction", p.ConsecutiveSuccesses)
	}
	if success, _ := p.BestData["success"].(bool); !success {
		t.Errorf("BestData = %v, want the winning payload", p.BestData)
	}
}

func TestBatchLearn_RejectsFlatGroups(t *testing.T) {
	l, _ := newTestLearner(t)

	// Identical outcomes: no winner clears mean + margin.
	if _, err := l.CollectSessionExperiences(grepSession(true)); err != nil {
		t.Fatalf("collect error: %v", err)
	}
	if _, err := l.CollectSessionExperiences(grepSession(true)); err != nil {
		t.Fatalf("collect error: %v", err)
	}

	updated, err := l.BatchLearn(context.Background())
	if err != nil {
		t.Fatalf("BatchLearn error: %v", err)
	}
	if len(updated) != 0 {
		t.Errorf("flat group produced patterns %v, want none", updated)
	}
}

func TestBatchLearn_StreaksFollowConfidence(t *testing.T) {
	l, _ := newTestLearner(t)

	// Round 1: winner at composite c, loser far below.
	if _, err := l.CollectSessionExperiences(grepSession(true)); err != nil {
		t.Fatalf("collect error: %v", err)
	}
	if _, err := l.CollectSessionExperiences(grepSession(false)); err != nil {
		t.Fatalf("collect error: %v", err)
	}
	if _, err := l.BatchLearn(context.Background()); err != nil {
		t.Fatalf("BatchLearn error: %v", err)
	}
	first := l.Patterns()["tool::Grep"]

	// Round 2: add a second failing run. The winner stays, the mean drops,
	// and fewer entries sit above the mean, so confidence changes.
	if _, err := l.CollectSessionExperiences(grepSession(false)); err != nil {
		t.Fatalf("collect error: %v", err)
	}
	if _, err := l.BatchLearn(context.Background()); err != nil {
		t.Fatalf("second BatchLearn error: %v", err)
	}
	second := l.Patterns()["tool::Grep"]

	if second.UpdateCount != first.UpdateCount+1 {
		t.Errorf("UpdateCount = %d, want %d", second.UpdateCount, first.UpdateCount+1)
	}
	if !second.FirstSeen.Equal(first.FirstSeen) {
		t.Error("FirstSeen must be preserved across updates")
	}
	switch {
	case second.Confidence > first.Confidence:
		if second.ConsecutiveSuccesses != first.ConsecutiveSuccesses+1 {
			t.Errorf("higher confidence should extend the success streak, got %d", second.ConsecutiveSuccesses)
		}
		if second.ConsecutiveFailures != 0 {
			t.Errorf("higher confidence should reset failures, got %d", second.ConsecutiveFailures)
		}
	case second.Confidence < first.Confidence:
		if second.ConsecutiveFailures != first.ConsecutiveFailures+1 {
			t.Errorf("lower confidence should extend the failure streak, got %d", second.ConsecutiveFailures)
		}
		if second.ConsecutiveSuccesses != 0 {
			t.Errorf("lower confidence should reset successes, got %d", second.ConsecutiveSuccesses)
		}
	default:
		if second.ConsecutiveSuccesses != first.ConsecutiveSuccesses ||
			second.ConsecutiveFailures != first.ConsecutiveFailures {
			t.Error("equal confidence must move neither streak")
		}
	}
}

func TestUpdatePatterns_PersistsPerTypeFiles(t *testing.T) {
	store, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	engine, err := transfer.NewEngine(store, transfer.Config{})
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	l, err := NewLearner(store, engine, 0)
	if err != nil {
		t.Fatalf("NewLearner error: %v", err)
	}

	if _, err := l.CollectSessionExperiences(grepSession(true)); err != nil {
		t.Fatalf("collect error: %v", err)
	}
	if _, err := l.CollectSessionExperiences(grepSession(false)); err != nil {
		t.Fatalf("collect error: %v", err)
	}
	if _, err := l.BatchLearn(context.Background()); err != nil {
		t.Fatalf("BatchLearn error: %v", err)
	}
	if err := l.UpdatePatterns(); err != nil {
		t.Fatalf("UpdatePatterns error: %v", err)
	}

	// A fresh learner reads the pattern back from patterns/tool.json.
	l2, err := NewLearner(store, engine, 0)
	if err != nil {
		t.Fatalf("NewLearner error: %v", err)
	}
	if _, ok := l2.Patterns()["tool::Grep"]; !ok {
		t.Error("persisted pattern missing after reload")
	}
}

func TestRunSessionEnd_PipelineEndToEnd(t *testing.T) {
	l, engine := newTestLearner(t)

	// Three winner/loser rounds push the pattern's streak to 3 so the final
	// session's hot-swap can promote it, provided confidence clears 0.8.
	var summary SessionSummary
	for i := 0; i < 3; i++ {
		if _, err := l.CollectSessionExperiences(grepSession(false)); err != nil {
			t.Fatalf("collect error: %v", err)
		}
		summary = l.RunSessionEnd(context.Background(), grepSession(true))
		if summary.StageErrors != nil {
			t.Fatalf("stage errors: %v", summary.StageErrors)
		}
	}
	if summary.Collected != 1 {
		t.Errorf("Collected = %d, want 1", summary.Collected)
	}
	if summary.Patterns != 1 {
		t.Errorf("Patterns = %d, want 1", summary.Patterns)
	}

	p := l.Patterns()["tool::Grep"]
	if p.ConsecutiveSuccesses >= 3 && p.Confidence >= 0.8 {
		if _, ok := engine.Lookup("tool::Grep"); !ok {
			t.Error("eligible pattern should have been promoted by the session-end swap")
		}
	} else if _, ok := engine.Lookup("tool::Grep"); ok {
		t.Errorf("ineligible pattern (streak %d, confidence %f) must not be promoted",
			p.ConsecutiveSuccesses, p.Confidence)
	}
}

func TestRunSessionEnd_IsolatesStageFailures(t *testing.T) {
	store, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	engine, err := transfer.NewEngine(store, transfer.Config{LockMaxWait: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	l, err := NewLearner(store, engine, 0)
	if err != nil {
		t.Fatalf("NewLearner error: %v", err)
	}

	// Occupy the hot-swap lock with a fresh timestamp so that stage times
	// out while the earlier stages still run.
	lockDir := store.Path("locks/hotswap.lock")
	if err := os.Mkdir(lockDir, 0o755); err != nil {
		t.Fatalf("mkdir lock error: %v", err)
	}
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	if err := os.WriteFile(filepath.Join(lockDir, "timestamp"), []byte(stamp), 0o644); err != nil {
		t.Fatalf("write timestamp error: %v", err)
	}

	summary := l.RunSessionEnd(context.Background(), grepSession(true))
	if summary.Collected != 1 {
		t.Errorf("Collected = %d, want 1 even alongside failures", summary.Collected)
	}
	if summary.StageErrors["hotSwap"] == "" {
		t.Error("held lock should surface a hotSwap stage error")
	}
}
