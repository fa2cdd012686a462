// Package lifelong orchestrates the learning pipeline: collect session
// experiences, batch them into comparison groups, extract patterns from the
// groups that show a clear winner, and hand the winners to the transfer
// engine for promotion into the fast lookup table.
package lifelong

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"synapse/internal/logging"
	"synapse/internal/storage"
	"synapse/internal/transfer"
)

const (
	experiencesFileName = "experiences.json"
	patternsDirName     = "patterns"

	defaultExperienceCap = 1000
	minGroupSize         = 2
	patternGateMargin    = 0.05
	scoringParallelism   = 4
)

// Learner owns the experience log and the extracted pattern set.
type Learner struct {
	mu       sync.Mutex
	store    *storage.Store
	engine   *transfer.Engine
	log      *zap.SugaredLogger
	expCap   int
	now      func() time.Time

	experiences []Experience
	expLoaded   bool
	patterns    map[string]transfer.Pattern // key "type::category"
	patLoaded   bool
}

// NewLearner creates a learner persisting under store, feeding promotions
// through engine. expCap<=0 takes the default of 1000.
func NewLearner(store *storage.Store, engine *transfer.Engine, expCap int) (*Learner, error) {
	if expCap <= 0 {
		expCap = defaultExperienceCap
	}
	if err := store.EnsureDir(patternsDirName); err != nil {
		return nil, err
	}
	return &Learner{
		store:  store,
		engine: engine,
		log:    logging.Get(logging.CategoryLifelong),
		expCap: expCap,
		now:    time.Now,
	}, nil
}

func (l *Learner) loadExperiencesLocked() {
	if l.expLoaded {
		return
	}
	l.store.ReadJSON(experiencesFileName, &l.experiences)
	l.expLoaded = true
}

func patternFile(t ExperienceType) string {
	return patternsDirName + "/" + string(t) + ".json"
}

func (l *Learner) loadPatternsLocked() {
	if l.patLoaded {
		return
	}
	l.patterns = make(map[string]transfer.Pattern)
	for _, t := range []ExperienceType{ExperienceTool, ExperienceError, ExperienceSuccess, ExperienceTeam, ExperienceSelfEval} {
		var byKey map[string]transfer.Pattern
		l.store.ReadJSON(patternFile(t), &byKey)
		for key, p := range byKey {
			l.patterns[key] = p
		}
	}
	l.patLoaded = true
}

// =============================================================================
// EXPERIENCE COLLECTION
// =============================================================================

// CollectSessionExperiences converts session data into experiences and
// appends them to the rolling log, evicting oldest-first past the cap.
func (l *Learner) CollectSessionExperiences(session SessionData) (int, error) {
	now := l.now()
	var collected []Experience
	add := func(t ExperienceType, category string, data map[string]any) {
		collected = append(collected, Experience{
			ID:        uuid.NewString(),
			Type:      t,
			Category:  category,
			Data:      data,
			Timestamp: now,
			SessionID: session.SessionID,
		})
	}

	for _, u := range session.ToolUsages {
		add(ExperienceTool, u.Tool, map[string]any{
			"tool": u.Tool, "context": u.Context, "success": u.Success,
			"durationMs": float64(u.DurationMS), "errorCount": float64(u.ErrorCount),
			"outputLen": float64(u.OutputLen),
		})
	}
	for _, e := range session.Errors {
		add(ExperienceError, e.Category, map[string]any{
			"message": e.Message, "recovered": e.Recovered,
			"durationMs": float64(e.DurationMS),
		})
	}
	for _, s := range session.Successes {
		add(ExperienceSuccess, s.Category, map[string]any{
			"durationMs": float64(s.DurationMS), "stepCount": float64(s.StepCount),
		})
	}
	for _, tm := range session.Teams {
		add(ExperienceTeam, tm.Pattern, map[string]any{
			"pattern": tm.Pattern, "size": float64(tm.Size), "domain": tm.Domain,
			"successRate": tm.SuccessRate, "efficiency": tm.Efficiency,
			"resourceUse": tm.ResourceUse, "completeness": tm.Completeness,
		})
	}
	for _, ev := range session.Evaluations {
		add(ExperienceSelfEval, ev.TaskType, map[string]any{
			"overall": ev.Overall, "accuracy": ev.Accuracy,
			"efficiency": ev.Efficiency, "satisfaction": ev.Satisfaction,
		})
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadExperiencesLocked()
	l.experiences = append(l.experiences, collected...)
	if len(l.experiences) > l.expCap {
		l.experiences = l.experiences[len(l.experiences)-l.expCap:]
	}
	if err := l.store.WriteJSON(experiencesFileName, l.experiences); err != nil {
		return 0, err
	}
	l.log.Infow("session experiences collected",
		"session", session.SessionID, "collected", len(collected), "total", len(l.experiences))
	return len(collected), nil
}

// Experiences returns a copy of the rolling log.
func (l *Learner) Experiences() []Experience {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadExperiencesLocked()
	out := make([]Experience, len(l.experiences))
	copy(out, l.experiences)
	return out
}

// =============================================================================
// BATCH LEARNING
// =============================================================================

// scoredGroup is the outcome of ranking one type::category group.
type scoredGroup struct {
	key        string
	candidate  *transfer.Pattern
	sampleSize int
}

// BatchLearn groups the experience log by type::category, scores each group
// in parallel, and folds the winners into the pattern set. Groups smaller
// than two are skipped: a relative winner is undefined. Returns the keys of
// patterns extracted or refreshed.
func (l *Learner) BatchLearn(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	l.loadExperiencesLocked()
	groups := make(map[string][]Experience)
	for _, exp := range l.experiences {
		groups[exp.groupKey()] = append(groups[exp.groupKey()], exp)
	}
	l.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(scoringParallelism)
	results := make([]scoredGroup, 0, len(groups))
	var resultsMu sync.Mutex

	for key, group := range groups {
		if len(group) < minGroupSize {
			continue
		}
		key, group := key, group
		g.Go(func() error {
			cand := extractPattern(key, group, l.now())
			resultsMu.Lock()
			results = append(results, scoredGroup{key: key, candidate: cand, sampleSize: len(group)})
			resultsMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadPatternsLocked()
	var updated []string
	for _, res := range results {
		if res.candidate == nil {
			continue
		}
		l.mergePatternLocked(*res.candidate)
		updated = append(updated, res.key)
	}
	sort.Strings(updated)
	l.log.Infow("batch learning complete", "groups", len(groups), "patterns", len(updated))
	return updated, nil
}

// extractPattern ranks one group and returns a pattern when the best
// experience clears the acceptance gate, nil otherwise.
func extractPattern(key string, group []Experience, now time.Time) *transfer.Pattern {
	composites := make([]float64, len(group))
	var sum float64
	bestIdx := 0
	for i, exp := range group {
		composites[i] = experienceComposite(exp)
		sum += composites[i]
		if composites[i] > composites[bestIdx] {
			bestIdx = i
		}
	}
	mean := sum / float64(len(group))
	best := composites[bestIdx]
	if best <= mean+patternGateMargin {
		return nil
	}

	above := 0
	for _, c := range composites {
		if c > mean {
			above++
		}
	}
	confidence := float64(above) / float64(len(group)) * best
	if confidence > 1 {
		confidence = 1
	}

	return &transfer.Pattern{
		Key:           key,
		Confidence:    confidence,
		BestComposite: best,
		GroupMean:     mean,
		SampleSize:    len(group),
		Insight: fmt.Sprintf("best of %d %s outcomes scored %.2f against a group mean of %.2f",
			len(group), group[bestIdx].Type, best, mean),
		BestData:  group[bestIdx].Data,
		FirstSeen: now,
	}
}

// mergePatternLocked folds a freshly extracted pattern into the set. For an
// existing key, the success streak moves on strictly higher confidence and
// the failure streak on strictly lower; equal confidence moves neither.
func (l *Learner) mergePatternLocked(cand transfer.Pattern) {
	prev, exists := l.patterns[cand.Key]
	if !exists {
		cand.ConsecutiveSuccesses = 1
		cand.UpdateCount = 1
		l.patterns[cand.Key] = cand
		return
	}

	cand.FirstSeen = prev.FirstSeen
	cand.UpdateCount = prev.UpdateCount + 1
	switch {
	case cand.Confidence > prev.Confidence:
		cand.ConsecutiveSuccesses = prev.ConsecutiveSuccesses + 1
		cand.ConsecutiveFailures = 0
	case cand.Confidence < prev.Confidence:
		cand.ConsecutiveFailures = prev.ConsecutiveFailures + 1
		cand.ConsecutiveSuccesses = 0
	default:
		cand.ConsecutiveSuccesses = prev.ConsecutiveSuccesses
		cand.ConsecutiveFailures = prev.ConsecutiveFailures
	}
	l.patterns[cand.Key] = cand
}

// Patterns returns a copy of the current pattern set.
func (l *Learner) Patterns() map[string]transfer.Pattern {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadPatternsLocked()
	out := make(map[string]transfer.Pattern, len(l.patterns))
	for k, v := range l.patterns {
		out[k] = v
	}
	return out
}

// UpdatePatterns persists the pattern set to its per-type files.
func (l *Learner) UpdatePatterns() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadPatternsLocked()

	byType := make(map[ExperienceType]map[string]transfer.Pattern)
	for _, t := range []ExperienceType{ExperienceTool, ExperienceError, ExperienceSuccess, ExperienceTeam, ExperienceSelfEval} {
		byType[t] = make(map[string]transfer.Pattern)
	}
	for key, p := range l.patterns {
		for t := range byType {
			if len(key) > len(t)+2 && key[:len(t)] == string(t) && key[len(t):len(t)+2] == "::" {
				byType[t][key] = p
				break
			}
		}
	}
	for t, patterns := range byType {
		if err := l.store.WriteJSON(patternFile(t), patterns); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// SESSION-END PIPELINE
// =============================================================================

// RunSessionEnd drives the whole pipeline. Each stage is isolated: a failure
// is recorded in the summary and the remaining stages still run, so one
// broken subsystem never blocks shutdown.
func (l *Learner) RunSessionEnd(ctx context.Context, session SessionData) SessionSummary {
	summary := SessionSummary{StageErrors: make(map[string]string)}

	collected, err := l.CollectSessionExperiences(session)
	if err != nil {
		summary.StageErrors["collect"] = err.Error()
		l.log.Warnw("experience collection failed", "error", err)
	}
	summary.Collected = collected

	updated, err := l.BatchLearn(ctx)
	if err != nil {
		summary.StageErrors["batchLearn"] = err.Error()
		l.log.Warnw("batch learning failed", "error", err)
	}
	summary.Patterns = len(updated)

	if err := l.UpdatePatterns(); err != nil {
		summary.StageErrors["updatePatterns"] = err.Error()
		l.log.Warnw("pattern persistence failed", "error", err)
	}

	candidates := make([]transfer.Pattern, 0, len(updated))
	patterns := l.Patterns()
	for _, key := range updated {
		if p, ok := patterns[key]; ok {
			candidates = append(candidates, p)
		}
	}
	result, err := l.engine.HotSwap(candidates)
	if err != nil {
		summary.StageErrors["hotSwap"] = err.Error()
		l.log.Warnw("hot-swap failed", "error", err)
	}
	summary.Promoted = len(result.Promoted)
	summary.Demoted = len(result.Demoted)

	if len(summary.StageErrors) == 0 {
		summary.StageErrors = nil
	}
	return summary
}
