package memory

import (
	"math"
	"sort"
	"strings"
	"time"
)

const (
	defaultSearchLimit     = 10
	defaultSearchThreshold = 0.1
	recencyHorizon         = 90 * 24 * time.Hour
	accessBonusPerHit      = 0.02
	accessBonusCeiling     = 0.2

	weightTFIDF   = 0.6
	weightRecency = 0.25
	weightMatch   = 0.15
)

// SearchOptions narrows a search. Zero values take the defaults: all stores,
// limit 10, threshold 0.1.
type SearchOptions struct {
	Types     []Type
	Limit     int
	Threshold float64
}

// SearchResult pairs an entry with its relevance score.
type SearchResult struct {
	Entry Entry   `json:"entry"`
	Score float64 `json:"score"`
}

// SearchMemory ranks entries across the requested stores against the query.
// Score blends TF-IDF over entry tags (60%) with recency (25%), a small
// access-frequency bonus, and a flat bonus for any tag match (15%). Returned
// entries have their access counters refreshed.
func (m *Manager) SearchMemory(query string, opts SearchOptions) []SearchResult {
	terms := splitTokens(query)
	if len(terms) == 0 {
		return nil
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultSearchLimit
	}
	if opts.Threshold <= 0 {
		opts.Threshold = defaultSearchThreshold
	}
	types := opts.Types
	if len(types) == 0 {
		types = AllTypes()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var results []SearchResult
	for _, t := range types {
		if _, ok := policies[t]; !ok {
			continue
		}
		m.loadLocked(t)
		active := activeLocked(m.stores[t], now)
		df := documentFrequencies(active, terms)
		for _, e := range active {
			score, matched := scoreEntry(e, terms, df, len(active), now)
			if matched && score >= opts.Threshold {
				results = append(results, SearchResult{Entry: e, Score: score})
			}
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	m.touchLocked(results, now)
	return results
}

func activeLocked(entries []Entry, now time.Time) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.ExpiresAt != nil && !e.ExpiresAt.After(now) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func documentFrequencies(entries []Entry, terms []string) map[string]int {
	df := make(map[string]int, len(terms))
	for _, e := range entries {
		tags := make(map[string]bool, len(e.Tags))
		for _, tag := range e.Tags {
			tags[tag] = true
		}
		for _, term := range terms {
			if tags[term] {
				df[term]++
			}
		}
	}
	return df
}

// scoreEntry returns the blended relevance score and whether the entry
// relates to the query at all. tf counts exact tag matches; the flat match
// bonus also accepts substring hits so "authentication" still credits an
// entry tagged "auth".
func scoreEntry(e Entry, terms []string, df map[string]int, n int, now time.Time) (float64, bool) {
	var tfidfSum float64
	hasMatch := false
	for _, term := range terms {
		matches := 0
		for _, tag := range e.Tags {
			if tag == term {
				matches++
			}
			if !hasMatch && (strings.Contains(tag, term) || strings.Contains(term, tag)) {
				hasMatch = true
			}
		}
		if matches == 0 {
			continue
		}
		tf := float64(matches) / float64(len(e.Tags))
		idf := math.Log(float64(n+1)/float64(df[term]+1)) + 1
		tfidfSum += tf * idf
	}
	tfidf := tfidfSum / float64(len(terms))
	if tfidf > 1 {
		tfidf = 1
	}

	age := now.Sub(e.CreatedAt)
	recency := 1 - age.Seconds()/recencyHorizon.Seconds()
	if recency < 0 {
		recency = 0
	}

	accessBonus := accessBonusPerHit * float64(e.AccessCount)
	if accessBonus > accessBonusCeiling {
		accessBonus = accessBonusCeiling
	}

	score := weightTFIDF*tfidf + weightRecency*recency + accessBonus
	if hasMatch {
		score += weightMatch
	}
	return score, hasMatch
}

// touchLocked bumps access counters on the returned entries and rewrites the
// stores they came from.
func (m *Manager) touchLocked(results []SearchResult, now time.Time) {
	touched := make(map[Type]bool)
	for _, r := range results {
		entries := m.stores[r.Entry.Type]
		for i := range entries {
			if entries[i].ID == r.Entry.ID {
				entries[i].AccessCount++
				entries[i].LastAccessedAt = now
				touched[r.Entry.Type] = true
				break
			}
		}
	}
	for t := range touched {
		if err := m.writeLocked(t); err != nil {
			m.log.Warnw("failed to persist access counters", "type", t, "error", err)
		}
	}
}
