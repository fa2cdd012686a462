package toollearn

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"synapse/internal/logging"
	"synapse/internal/storage"
)

const (
	historyFileName = "tool_history.json"

	recordsPerContextCap = 50
	groupLogCap          = 100

	minSamplesToQualify = 3
	fallbackDiscount    = 0.8
	coldStartFloor      = 0.1
)

// Learner tracks per-context tool performance. All mutations update memory
// and mark the state dirty; a debounced timer persists at most once per
// debounce window. Flush and Close drain the buffer explicitly. Callers
// must Close before process exit.
type Learner struct {
	mu    sync.Mutex
	store *storage.Store

	debounce     time.Duration
	halfLife     time.Duration
	learningRate float64

	hist   historyFile
	loaded bool

	dirty      bool
	flushTimer *time.Timer
	closed     bool

	now func() time.Time
}

// NewLearner creates a learner persisting under store. Zero durations and
// rates select the defaults (5s debounce, 7d half-life, 0.1 learning rate).
func NewLearner(store *storage.Store, debounce, halfLife time.Duration, learningRate float64) *Learner {
	if debounce <= 0 {
		debounce = 5 * time.Second
	}
	if halfLife <= 0 {
		halfLife = 7 * 24 * time.Hour
	}
	if learningRate <= 0 {
		learningRate = 0.1
	}
	return &Learner{
		store:        store,
		debounce:     debounce,
		halfLife:     halfLife,
		learningRate: learningRate,
		now:          time.Now,
	}
}

func (l *Learner) load() {
	if l.loaded {
		return
	}
	l.store.ReadJSON(historyFileName, &l.hist)
	l.hist.init()
	l.loaded = true
}

// RecordUsage appends a usage record and updates the running aggregate.
// The write is buffered, not synchronous.
func (l *Learner) RecordUsage(rec UsageRecord) {
	if rec.Tool == "" || rec.Context == "" {
		return
	}
	rec.Score = clamp01(rec.Score)
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.load()

	bucket := append(l.hist.Records[rec.Context], rec)
	if len(bucket) > recordsPerContextCap {
		bucket = bucket[len(bucket)-recordsPerContextCap:]
	}
	l.hist.Records[rec.Context] = bucket

	byTool := l.hist.Aggregates[rec.Context]
	if byTool == nil {
		byTool = make(map[string]Aggregate)
		l.hist.Aggregates[rec.Context] = byTool
	}
	agg := byTool[rec.Tool]
	agg.TotalUses++
	agg.TotalScore += rec.Score
	agg.AvgScore = agg.TotalScore / float64(agg.TotalUses)
	if rec.Timestamp.After(agg.LastUsed) {
		agg.LastUsed = rec.Timestamp
	}
	byTool[rec.Tool] = agg

	l.markDirtyLocked()
}

// markDirtyLocked schedules a debounced flush. At most one timer is armed
// at a time; repeated mutations inside the window coalesce into one write.
func (l *Learner) markDirtyLocked() {
	if l.dirty || l.closed {
		l.dirty = true
		return
	}
	l.dirty = true
	l.flushTimer = time.AfterFunc(l.debounce, func() {
		if err := l.Flush(); err != nil {
			logging.Get(logging.CategoryTools).Warnw("debounced flush failed", "error", err)
		}
	})
}

// Flush drains the write buffer immediately.
func (l *Learner) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked()
}

func (l *Learner) flushLocked() error {
	if l.flushTimer != nil {
		l.flushTimer.Stop()
		l.flushTimer = nil
	}
	if !l.dirty {
		return nil
	}
	l.load()
	if err := l.store.WriteJSON(historyFileName, &l.hist); err != nil {
		return err
	}
	l.dirty = false
	return nil
}

// Close drains the buffer and stops the flush timer. The learner stays
// readable but further mutations are no longer auto-flushed.
func (l *Learner) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return l.flushLocked()
}

// decay returns the recency weight of a record: 0.5^(age/halfLife).
func (l *Learner) decay(age time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	return math.Pow(0.5, float64(age)/float64(l.halfLife))
}

// SuggestTool ranks tools for a context by decay-weighted mean score.
// Only tools with at least 3 samples and a weighted score at or above
// MinScore qualify. When the exact context has no records, sibling contexts
// sharing the operation prefix are consulted instead, with a discount and a
// forced low confidence.
func (l *Learner) SuggestTool(context string, opts SuggestOptions) []Suggestion {
	if opts.Limit <= 0 {
		opts.Limit = 3
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.load()

	records := l.hist.Records[context]
	fallback := false
	if len(records) == 0 {
		records = l.siblingRecordsLocked(context)
		fallback = true
	}
	if len(records) == 0 {
		return nil
	}

	type acc struct {
		weighted float64
		weights  float64
		samples  int
		lastUsed time.Time
	}
	now := l.now()
	byTool := make(map[string]*acc)
	for _, rec := range records {
		a := byTool[rec.Tool]
		if a == nil {
			a = &acc{}
			byTool[rec.Tool] = a
		}
		w := l.decay(now.Sub(rec.Timestamp))
		a.weighted += rec.Score * w
		a.weights += w
		a.samples++
		if rec.Timestamp.After(a.lastUsed) {
			a.lastUsed = rec.Timestamp
		}
	}

	suggestions := make([]Suggestion, 0, len(byTool))
	for tool, a := range byTool {
		if a.samples < minSamplesToQualify || a.weights == 0 {
			continue
		}
		score := a.weighted / a.weights
		if fallback {
			score *= fallbackDiscount
		}
		if score < opts.MinScore {
			continue
		}
		conf := confidenceFor(a.samples)
		if fallback {
			conf = ConfidenceLow
		}
		suggestions = append(suggestions, Suggestion{
			Tool:          tool,
			WeightedScore: score,
			Samples:       a.samples,
			Confidence:    conf,
			LastUsed:      a.lastUsed,
			Fallback:      fallback,
		})
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].WeightedScore > suggestions[j].WeightedScore
	})
	if len(suggestions) > opts.Limit {
		suggestions = suggestions[:opts.Limit]
	}
	return suggestions
}

// siblingRecordsLocked gathers records from contexts sharing the operation
// prefix (the segment before the first ':').
func (l *Learner) siblingRecordsLocked(context string) []UsageRecord {
	op, _, ok := strings.Cut(context, ":")
	if !ok || op == "" {
		return nil
	}
	prefix := op + ":"
	var out []UsageRecord
	for key, recs := range l.hist.Records {
		if key != context && strings.HasPrefix(key, prefix) {
			out = append(out, recs...)
		}
	}
	return out
}

// PruneOldRecords drops usage records and comparison rounds older than
// maxAge, rebuilds the aggregates from what remains, and discards GRPO
// scores for contexts with no surviving history. Running it twice without
// elapsed time is a no-op the second time.
func (l *Learner) PruneOldRecords(maxAge time.Duration) (pruned int, err error) {
	if maxAge <= 0 {
		maxAge = 90 * 24 * time.Hour
	}
	cutoff := l.now().Add(-maxAge)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.load()

	changed := false
	for context, recs := range l.hist.Records {
		kept := recs[:0]
		for _, rec := range recs {
			if rec.Timestamp.After(cutoff) {
				kept = append(kept, rec)
			} else {
				pruned++
			}
		}
		if len(kept) == 0 {
			delete(l.hist.Records, context)
			changed = changed || len(recs) > 0
			continue
		}
		if len(kept) != len(recs) {
			l.hist.Records[context] = append([]UsageRecord(nil), kept...)
			changed = true
		}
	}

	keptGroups := l.hist.Groups[:0]
	for _, g := range l.hist.Groups {
		if g.RecordedAt.After(cutoff) {
			keptGroups = append(keptGroups, g)
		} else {
			pruned++
			changed = true
		}
	}
	l.hist.Groups = append([]GroupComparison(nil), keptGroups...)

	// Rebuild aggregates from the surviving records.
	l.hist.Aggregates = make(map[string]map[string]Aggregate)
	for context, recs := range l.hist.Records {
		byTool := make(map[string]Aggregate)
		for _, rec := range recs {
			agg := byTool[rec.Tool]
			agg.TotalUses++
			agg.TotalScore += rec.Score
			agg.AvgScore = agg.TotalScore / float64(agg.TotalUses)
			if rec.Timestamp.After(agg.LastUsed) {
				agg.LastUsed = rec.Timestamp
			}
			byTool[rec.Tool] = agg
		}
		l.hist.Aggregates[context] = byTool
	}

	// GRPO scores survive only where some history still backs them.
	groupContexts := make(map[string]bool, len(l.hist.Groups))
	for _, g := range l.hist.Groups {
		groupContexts[g.Context] = true
	}
	for context := range l.hist.GRPOScores {
		if _, hasRecords := l.hist.Records[context]; !hasRecords && !groupContexts[context] {
			delete(l.hist.GRPOScores, context)
			changed = true
		}
	}

	if !changed {
		return 0, nil
	}
	if err := l.store.WriteJSON(historyFileName, &l.hist); err != nil {
		return pruned, err
	}
	l.dirty = false
	return pruned, nil
}

// Aggregates returns a copy of the per-tool aggregate for a context.
func (l *Learner) Aggregates(context string) map[string]Aggregate {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.load()
	src := l.hist.Aggregates[context]
	out := make(map[string]Aggregate, len(src))
	for tool, agg := range src {
		out[tool] = agg
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
