// Package memory implements four TTL-scoped stores with keyword-relevance
// search. Entries are tagged at save time by tokenizing the string leaves of
// their payload; search ranks by TF-IDF over tags blended with recency and
// access frequency. No embeddings, no timers: TTLs are evaluated lazily on
// read and during explicit prune sweeps.
package memory

import (
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"synapse/internal/logging"
	"synapse/internal/storage"
)

const (
	tagMinLen = 2
	tagMaxLen = 40
	tagCap    = 50
)

// Manager owns the four memory stores. Each store is a whole-file JSON
// document read on first use; writes rewrite the file (last-writer-wins
// across processes).
type Manager struct {
	mu     sync.Mutex
	store  *storage.Store
	log    *zap.SugaredLogger
	stores map[Type][]Entry
	loaded map[Type]bool
	now    func() time.Time
}

// NewManager creates a manager persisting under store's memory/ directory.
func NewManager(store *storage.Store) (*Manager, error) {
	if err := store.EnsureDir("memory"); err != nil {
		return nil, err
	}
	return &Manager{
		store:  store,
		log:    logging.Get(logging.CategoryMemory),
		stores: make(map[Type][]Entry),
		loaded: make(map[Type]bool),
		now:    time.Now,
	}, nil
}

func fileFor(t Type) string {
	return "memory/" + string(t) + ".json"
}

func (m *Manager) loadLocked(t Type) {
	if m.loaded[t] {
		return
	}
	var entries []Entry
	m.store.ReadJSON(fileFor(t), &entries)
	m.stores[t] = entries
	m.loaded[t] = true
}

func (m *Manager) writeLocked(t Type) error {
	return m.store.WriteJSON(fileFor(t), m.stores[t])
}

// SaveRequest describes one entry to persist. Tags are extracted from the
// payload's string leaves when left empty.
type SaveRequest struct {
	Type   Type
	Data   map[string]any
	Tags   []string
	Source string
}

// SaveMemory validates, tags, and persists an entry. Preference entries with
// the same data key replace the previous entry; capped stores evict
// oldest-first.
func (m *Manager) SaveMemory(req SaveRequest) (Entry, error) {
	pol, ok := policies[req.Type]
	if !ok {
		return Entry{}, ErrUnknownType
	}
	if err := validatePayload(req.Type, req.Data); err != nil {
		return Entry{}, err
	}

	now := m.now()
	entry := Entry{
		ID:             uuid.NewString(),
		Type:           req.Type,
		Data:           req.Data,
		Tags:           req.Tags,
		Source:         req.Source,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	if len(entry.Tags) == 0 {
		entry.Tags = extractTags(req.Data)
	}
	if pol.ttl > 0 {
		exp := now.Add(pol.ttl)
		entry.ExpiresAt = &exp
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadLocked(req.Type)

	entries := m.stores[req.Type]
	if pol.dedupeKey != "" {
		key, _ := req.Data[pol.dedupeKey].(string)
		for i := range entries {
			if k, _ := entries[i].Data[pol.dedupeKey].(string); k == key {
				entries = append(entries[:i], entries[i+1:]...)
				break
			}
		}
	}
	entries = append(entries, entry)
	if pol.cap > 0 && len(entries) > pol.cap {
		entries = entries[len(entries)-pol.cap:]
	}
	m.stores[req.Type] = entries

	if err := m.writeLocked(req.Type); err != nil {
		return Entry{}, err
	}
	m.log.Debugw("memory saved", "type", req.Type, "id", entry.ID, "tags", len(entry.Tags))
	return entry, nil
}

// PruneOldMemories sweeps every store and drops expired entries. Entries with
// a nil ExpiresAt never expire. Returns per-type pruned counts; a second
// immediate call prunes nothing.
func (m *Manager) PruneOldMemories() (map[Type]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	pruned := make(map[Type]int, len(policies))
	for _, t := range AllTypes() {
		m.loadLocked(t)
		entries := m.stores[t]
		kept := entries[:0]
		for _, e := range entries {
			if e.ExpiresAt != nil && !e.ExpiresAt.After(now) {
				pruned[t]++
				continue
			}
			kept = append(kept, e)
		}
		if pruned[t] == 0 {
			continue
		}
		m.stores[t] = kept
		if err := m.writeLocked(t); err != nil {
			return pruned, err
		}
		m.log.Infow("memories pruned", "type", t, "pruned", pruned[t], "remaining", len(kept))
	}
	return pruned, nil
}

// Entries returns a copy of a store's current non-expired entries.
func (m *Manager) Entries(t Type) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadLocked(t)

	now := m.now()
	out := make([]Entry, 0, len(m.stores[t]))
	for _, e := range m.stores[t] {
		if e.ExpiresAt != nil && !e.ExpiresAt.After(now) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// extractTags tokenizes every string leaf of the payload: split on
// non-alphanumerics, lowercase, keep tokens of length 2..40, dedupe, cap 50.
func extractTags(data map[string]any) []string {
	seen := make(map[string]bool)
	var tags []string
	var walk func(v any)
	walk = func(v any) {
		switch x := v.(type) {
		case string:
			for _, tok := range splitTokens(x) {
				if len(tags) >= tagCap {
					return
				}
				if !seen[tok] {
					seen[tok] = true
					tags = append(tags, tok)
				}
			}
		case map[string]any:
			keys := make([]string, 0, len(x))
			for k := range x {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(x[k])
			}
		case []any:
			for _, item := range x {
				walk(item)
			}
		}
	}
	walk(data)
	return tags
}

func splitTokens(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.ToLower(f)
		if len(f) >= tagMinLen && len(f) <= tagMaxLen {
			out = append(out, f)
		}
	}
	return out
}
