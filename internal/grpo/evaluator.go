package grpo

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"synapse/internal/logging"
	"synapse/internal/storage"
)

const (
	historyFileName = "grpo_history.json"
	roundLogCap     = 100

	weightFloor   = 0.01
	weightCeiling = 5.0
)

// Evaluator ranks comparison groups and maintains the cumulative strategy
// weights. State is one JSON file holding the weight tables plus a capped
// rolling round log; last-writer-wins across processes by contract.
type Evaluator struct {
	mu           sync.Mutex
	store        *storage.Store
	learningRate float64
	hist         history
	loaded       bool
}

type history struct {
	Rounds      []roundRecord      `json:"rounds"`
	Weights     map[string]float64 `json:"weights"`
	TeamWeights map[string]float64 `json:"teamWeights"`
}

// roundRecord is the persisted trace of one comparison.
type roundRecord struct {
	Mode        Mode          `json:"mode"`
	Rankings    []RankedEntry `json:"rankings"`
	Spread      float64       `json:"spread"`
	EvaluatedAt time.Time     `json:"evaluated_at"`
}

// NewEvaluator creates an evaluator persisting under store. learningRate 0
// selects the default of 0.1.
func NewEvaluator(store *storage.Store, learningRate float64) *Evaluator {
	if learningRate <= 0 {
		learningRate = 0.1
	}
	return &Evaluator{store: store, learningRate: learningRate}
}

func (e *Evaluator) load() {
	if e.loaded {
		return
	}
	e.store.ReadJSON(historyFileName, &e.hist)
	if e.hist.Weights == nil {
		e.hist.Weights = make(map[string]float64)
	}
	if e.hist.TeamWeights == nil {
		e.hist.TeamWeights = make(map[string]float64)
	}
	e.loaded = true
}

// EvaluateGroup scores each candidate as the mean of the clamped rule
// outputs, ranks the group descending by composite (ties keep input order)
// and derives per-candidate relative advantage. rules may be nil, in which
// case the rule set follows the payload mode.
func (e *Evaluator) EvaluateGroup(candidates []Candidate, rules []Rule) (*GroupResult, error) {
	if len(candidates) < 2 {
		return nil, ErrGroupTooSmall
	}

	mode, err := candidates[0].validate()
	if err != nil {
		return nil, err
	}
	for _, c := range candidates[1:] {
		m, err := c.validate()
		if err != nil {
			return nil, err
		}
		if m != mode {
			return nil, fmt.Errorf("grpo: mixed payload modes in one group (%s vs %s)", mode, m)
		}
	}

	if rules == nil {
		if mode == ModeTeam {
			rules = TeamRules()
		} else {
			rules = DefaultCLIRules()
		}
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("grpo: empty rule set")
	}

	entries := make([]RankedEntry, len(candidates))
	for i, c := range candidates {
		var sum float64
		for _, r := range rules {
			sum += clamp01(r.Score(c))
		}
		entries[i] = RankedEntry{
			Strategy:  c.Strategy,
			Composite: sum / float64(len(rules)),
		}
	}

	// Stable: equal composites keep caller order, so tie-breaking is
	// deterministic across runs.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Composite > entries[j].Composite
	})

	n := len(entries)
	for i := range entries {
		entries[i].Rank = i + 1
		entries[i].RelativeAdvantage = 1 - 2*float64(i)/float64(n-1)
	}

	result := &GroupResult{
		Mode:        mode,
		Rankings:    entries,
		Best:        entries[0],
		Worst:       entries[n-1],
		Spread:      entries[0].Composite - entries[n-1].Composite,
		EvaluatedAt: time.Now(),
	}

	logging.Get(logging.CategoryGRPO).Debugw("group evaluated",
		"mode", mode, "size", n, "best", result.Best.Strategy, "spread", result.Spread)
	return result, nil
}

// UpdateWeights nudges the persisted weight of every ranked strategy by
// learningRate * advantage * composite, clamped to [0.01, 5.0]. Unseen keys
// start at a neutral 1.0. Updates from separate groups commute: each nudge
// depends only on the stored weight and the group-local advantage.
func (e *Evaluator) UpdateWeights(group *GroupResult) error {
	if group == nil || len(group.Rankings) == 0 {
		return fmt.Errorf("grpo: nothing to update")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.load()

	table := e.hist.Weights
	if group.Mode == ModeTeam {
		table = e.hist.TeamWeights
	}

	for _, entry := range group.Rankings {
		old, ok := table[entry.Strategy]
		if !ok {
			old = 1.0
		}
		table[entry.Strategy] = clamp(
			old+e.learningRate*entry.RelativeAdvantage*entry.Composite,
			weightFloor, weightCeiling)
	}

	e.hist.Rounds = append(e.hist.Rounds, roundRecord{
		Mode:        group.Mode,
		Rankings:    group.Rankings,
		Spread:      group.Spread,
		EvaluatedAt: group.EvaluatedAt,
	})
	if len(e.hist.Rounds) > roundLogCap {
		e.hist.Rounds = e.hist.Rounds[len(e.hist.Rounds)-roundLogCap:]
	}

	return e.store.WriteJSON(historyFileName, &e.hist)
}

// Weight returns the persisted task-mode weight for a strategy, or the
// neutral 1.0 for strategies never ranked.
func (e *Evaluator) Weight(strategy string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.load()
	if w, ok := e.hist.Weights[strategy]; ok {
		return w
	}
	return 1.0
}

// TeamWeight returns the persisted team-mode weight for a composition key.
func (e *Evaluator) TeamWeight(key string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.load()
	if w, ok := e.hist.TeamWeights[key]; ok {
		return w
	}
	return 1.0
}

// Rounds returns a copy of the persisted round log, newest last.
func (e *Evaluator) Rounds() []GroupResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.load()
	out := make([]GroupResult, 0, len(e.hist.Rounds))
	for _, r := range e.hist.Rounds {
		out = append(out, GroupResult{
			Mode:        r.Mode,
			Rankings:    r.Rankings,
			Spread:      r.Spread,
			EvaluatedAt: r.EvaluatedAt,
		})
	}
	return out
}

// Reset discards in-memory state so the next call re-reads disk. Deliberate
// lifecycle hook for tests and embeddings that share a state directory.
func (e *Evaluator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hist = history{}
	e.loaded = false
}
