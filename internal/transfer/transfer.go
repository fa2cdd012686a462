// Package transfer moves high-confidence learned patterns into a fast
// lookup table ("System 1") and removes them when real usage shows them
// failing. Promotion and demotion are individually cheap; the batch
// hot-swap pass is the one operation guarded by a cross-process lock.
package transfer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"synapse/internal/logging"
	"synapse/internal/storage"
)

const (
	system1FileName = "system1.json"
	auditFileName   = "transfer_log.json"

	promoteMinStreak     = 3
	promoteMinConfidence = 0.8
	demoteFailureStreak  = 2
	demoteMinUsage       = 5
	demoteFailureRate    = 0.2

	defaultAuditCap      = 200
	defaultLockMaxWait   = 5 * time.Second
	defaultLockStaleAfter = 30 * time.Second
)

// Config tunes an Engine. Zero values take the defaults.
type Config struct {
	AuditCap       int
	LockMaxWait    time.Duration
	LockStaleAfter time.Duration
}

// Engine owns the promoted-pattern table and its audit log. The in-memory
// table is a process-local cache of system1.json; callers that know the
// file changed externally must InvalidateCache.
type Engine struct {
	mu       sync.Mutex
	store    *storage.Store
	log      *zap.SugaredLogger
	lock     *dirLock
	auditCap int

	table  map[string]System1Pattern
	loaded bool
	audit  []auditRecord
	now    func() time.Time
}

// NewEngine creates an engine persisting under store.
func NewEngine(store *storage.Store, cfg Config) (*Engine, error) {
	if cfg.AuditCap <= 0 {
		cfg.AuditCap = defaultAuditCap
	}
	if cfg.LockMaxWait <= 0 {
		cfg.LockMaxWait = defaultLockMaxWait
	}
	if cfg.LockStaleAfter <= 0 {
		cfg.LockStaleAfter = defaultLockStaleAfter
	}
	if err := store.EnsureDir("locks"); err != nil {
		return nil, err
	}
	return &Engine{
		store:    store,
		log:      logging.Get(logging.CategoryTransfer),
		lock:     newDirLock(store.Path(lockDirName), cfg.LockMaxWait, cfg.LockStaleAfter),
		auditCap: cfg.AuditCap,
		now:      time.Now,
	}, nil
}

func (e *Engine) loadLocked() {
	if e.loaded {
		return
	}
	e.table = make(map[string]System1Pattern)
	e.store.ReadJSON(system1FileName, &e.table)
	if e.table == nil {
		e.table = make(map[string]System1Pattern)
	}
	e.store.ReadJSON(auditFileName, &e.audit)
	e.loaded = true
}

func (e *Engine) persistTableLocked() error {
	return e.store.WriteJSON(system1FileName, e.table)
}

func (e *Engine) appendAuditLocked(action auditAction, key, reason string) {
	e.audit = append(e.audit, auditRecord{
		Timestamp: e.now(),
		Action:    action,
		Key:       key,
		Reason:    reason,
	})
	if len(e.audit) > e.auditCap {
		e.audit = e.audit[len(e.audit)-e.auditCap:]
	}
	if err := e.store.WriteJSON(auditFileName, e.audit); err != nil {
		e.log.Warnw("failed to persist audit log", "error", err)
	}
}

// InvalidateCache drops the process-local table so the next read goes back
// to disk. Needed when another process may have rewritten system1.json.
func (e *Engine) InvalidateCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loaded = false
	e.table = nil
	e.audit = nil
}

// Lookup returns the promoted pattern for a key, if one is active.
func (e *Engine) Lookup(key string) (System1Pattern, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loadLocked()
	p, ok := e.table[key]
	return p, ok
}

// Promoted returns the active table keys, sorted.
func (e *Engine) Promoted() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loadLocked()
	keys := make([]string, 0, len(e.table))
	for k := range e.table {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Promote copies an eligible pattern into the fast table. Eligibility misses
// are soft results, not errors; only a missing key is a caller bug.
func (e *Engine) Promote(p Pattern) (PromoteResult, error) {
	if p.Key == "" {
		return PromoteResult{}, ErrUnknownPattern
	}
	if p.ConsecutiveSuccesses < promoteMinStreak {
		return PromoteResult{Reason: fmt.Sprintf(
			"needs %d consecutive successes, has %d", promoteMinStreak, p.ConsecutiveSuccesses)}, nil
	}
	if p.Confidence < promoteMinConfidence {
		return PromoteResult{Reason: fmt.Sprintf(
			"confidence %.2f below promotion threshold %.2f", p.Confidence, promoteMinConfidence)}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.loadLocked()
	if err := e.promoteLocked(p); err != nil {
		return PromoteResult{}, err
	}
	return PromoteResult{Promoted: true}, nil
}

func (e *Engine) promoteLocked(p Pattern) error {
	entry := e.table[p.Key]
	entry.Key = p.Key
	entry.Confidence = p.Confidence
	entry.BestComposite = p.BestComposite
	entry.Insight = p.Insight
	entry.BestData = p.BestData
	entry.PromotionCount++
	entry.ConsecutiveFailures = 0
	entry.Status = statusActive
	entry.PromotedAt = e.now()
	e.table[p.Key] = entry

	if err := e.persistTableLocked(); err != nil {
		return err
	}
	e.appendAuditLocked(actionPromote, p.Key,
		fmt.Sprintf("confidence %.2f, streak %d", p.Confidence, p.ConsecutiveSuccesses))
	e.log.Infow("pattern promoted", "key", p.Key, "confidence", p.Confidence)
	return nil
}

// eligible reports whether a pattern clears both promotion gates.
func eligible(p Pattern) bool {
	return p.ConsecutiveSuccesses >= promoteMinStreak && p.Confidence >= promoteMinConfidence
}

// failing reports whether an active entry has crossed a demotion threshold.
func failing(p System1Pattern) bool {
	if p.ConsecutiveFailures >= demoteFailureStreak {
		return true
	}
	return p.UsageCount >= demoteMinUsage &&
		float64(p.FailureCount)/float64(p.UsageCount) > demoteFailureRate
}

func demotionReason(p System1Pattern) string {
	if p.ConsecutiveFailures >= demoteFailureStreak {
		return fmt.Sprintf("%d consecutive failures", p.ConsecutiveFailures)
	}
	return fmt.Sprintf("failure rate %.2f over %d uses",
		float64(p.FailureCount)/float64(p.UsageCount), p.UsageCount)
}

// RecordSystem1Usage feeds one real invocation back into the table and
// demotes the entry in the same call when it crosses a failure threshold.
// Returns whether the entry was demoted.
func (e *Engine) RecordSystem1Usage(key string, success bool) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loadLocked()

	entry, ok := e.table[key]
	if !ok {
		return false, ErrUnknownPattern
	}
	entry.UsageCount++
	entry.LastUsedAt = e.now()
	if success {
		entry.ConsecutiveFailures = 0
	} else {
		entry.FailureCount++
		entry.ConsecutiveFailures++
	}

	if failing(entry) {
		delete(e.table, key)
		if err := e.persistTableLocked(); err != nil {
			return false, err
		}
		e.appendAuditLocked(actionDemote, key, demotionReason(entry))
		e.log.Infow("pattern demoted", "key", key, "reason", demotionReason(entry))
		return true, nil
	}

	e.table[key] = entry
	return false, e.persistTableLocked()
}

// HotSwap runs one atomic batch pass under the cross-process lock: demote
// every currently-failing entry, then promote every eligible candidate. The
// table is re-read from disk inside the lock so concurrent swappers in other
// processes are observed.
func (e *Engine) HotSwap(candidates []Pattern) (HotSwapResult, error) {
	if err := e.lock.acquire(); err != nil {
		return HotSwapResult{}, err
	}
	defer e.lock.release()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Another process may have written the table while we waited.
	e.loaded = false
	e.loadLocked()

	var result HotSwapResult
	for key, entry := range e.table {
		if failing(entry) {
			delete(e.table, key)
			result.Demoted = append(result.Demoted, key)
			e.appendAuditLocked(actionDemote, key, demotionReason(entry))
		}
	}

	promoted := make(map[string]bool, len(candidates))
	for _, cand := range candidates {
		if cand.Key == "" || !eligible(cand) || promoted[cand.Key] {
			continue
		}
		promoted[cand.Key] = true
		if err := e.promoteLocked(cand); err != nil {
			return result, err
		}
		result.Promoted = append(result.Promoted, cand.Key)
	}

	if err := e.persistTableLocked(); err != nil {
		return result, err
	}
	sort.Strings(result.Demoted)
	sort.Strings(result.Promoted)
	e.appendAuditLocked(actionHotSwap, "",
		fmt.Sprintf("demoted %d, promoted %d", len(result.Demoted), len(result.Promoted)))
	e.log.Infow("hot-swap complete", "demoted", len(result.Demoted), "promoted", len(result.Promoted))
	return result, nil
}
