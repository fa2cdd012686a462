package toollearn

import (
	"sort"

	"synapse/internal/logging"
)

// Comparison weighting: success dominates, speed and accuracy are judged
// relative to the group, brevity is a mild tiebreaker.
const (
	weightSuccess  = 0.35
	weightSpeed    = 0.25
	weightAccuracy = 0.25
	weightBrevity  = 0.15

	minComparisonsToQualify = 2
	blendGRPO               = 0.6
	blendHistory            = 0.4
)

// RecordGroupComparison scores a multi-tool comparison for one context and
// nudges each tool's cumulative GRPO score by its relative advantage.
// Cumulative scores start neutral at 0.5 and stay in [0,1]. The round is
// appended to a capped rolling log; the write is buffered like RecordUsage.
func (l *Learner) RecordGroupComparison(context string, results []ComparisonResult) (*GroupComparison, error) {
	if len(results) < 2 {
		return nil, ErrGroupTooSmall
	}

	// Min-max normalize speed and accuracy within the group. A group with
	// no spread on a dimension scores it neutrally.
	minDur, maxDur := results[0].DurationMS, results[0].DurationMS
	minAcc, maxAcc := results[0].Accuracy, results[0].Accuracy
	for _, r := range results[1:] {
		minDur = min(minDur, r.DurationMS)
		maxDur = max(maxDur, r.DurationMS)
		minAcc = min(minAcc, r.Accuracy)
		maxAcc = max(maxAcc, r.Accuracy)
	}

	ranked := make([]RankedComparison, len(results))
	for i, r := range results {
		success := 0.0
		if r.Success {
			success = 1.0
		}
		speed := 0.5
		if maxDur > minDur {
			speed = (maxDur - r.DurationMS) / (maxDur - minDur)
		}
		accuracy := 0.5
		if maxAcc > minAcc {
			accuracy = (r.Accuracy - minAcc) / (maxAcc - minAcc)
		}
		brevity := 1 / (1 + float64(r.OutputLen)/50)

		ranked[i] = RankedComparison{
			Tool: r.Tool,
			Composite: weightSuccess*success +
				weightSpeed*speed +
				weightAccuracy*accuracy +
				weightBrevity*brevity,
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Composite > ranked[j].Composite
	})
	n := len(ranked)
	for i := range ranked {
		ranked[i].Rank = i + 1
		ranked[i].Advantage = 1 - 2*float64(i)/float64(n-1)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.load()

	byTool := l.hist.GRPOScores[context]
	if byTool == nil {
		byTool = make(map[string]grpoScore)
		l.hist.GRPOScores[context] = byTool
	}
	for _, entry := range ranked {
		g, ok := byTool[entry.Tool]
		if !ok {
			g = grpoScore{Score: 0.5}
		}
		g.Score = clamp01(g.Score + l.learningRate*entry.Advantage)
		g.Comparisons++
		byTool[entry.Tool] = g
	}

	group := GroupComparison{
		Context:    context,
		Rankings:   ranked,
		RecordedAt: l.now(),
	}
	l.hist.Groups = append(l.hist.Groups, group)
	if len(l.hist.Groups) > groupLogCap {
		l.hist.Groups = l.hist.Groups[len(l.hist.Groups)-groupLogCap:]
	}

	l.markDirtyLocked()
	logging.Get(logging.CategoryTools).Debugw("group comparison recorded",
		"context", context, "size", n, "best", ranked[0].Tool)
	return &group, nil
}

// RecommendCandidates ranks every tool known for a context, blending the
// cumulative GRPO score (60%) with the decayed usage score (40%) when both
// signals have enough samples; otherwise the one available signal stands
// alone. A context nothing is known about yields a single cold-start entry
// at the floor score.
func (l *Learner) RecommendCandidates(context string, limit int) []Recommendation {
	if limit <= 0 {
		limit = 3
	}

	historyByTool := make(map[string]Suggestion)
	for _, s := range l.SuggestTool(context, SuggestOptions{Limit: 50}) {
		if !s.Fallback {
			historyByTool[s.Tool] = s
		}
	}

	l.mu.Lock()
	l.load()
	grpoByTool := make(map[string]grpoScore)
	for tool, g := range l.hist.GRPOScores[context] {
		grpoByTool[tool] = g
	}
	l.mu.Unlock()

	tools := make(map[string]bool, len(historyByTool)+len(grpoByTool))
	for tool := range historyByTool {
		tools[tool] = true
	}
	for tool := range grpoByTool {
		tools[tool] = true
	}
	if len(tools) == 0 {
		return []Recommendation{{Score: coldStartFloor, Source: SourceColdStart, Confidence: ConfidenceLow}}
	}

	recs := make([]Recommendation, 0, len(tools))
	for tool := range tools {
		hist, hasHist := historyByTool[tool]
		g, hasGRPO := grpoByTool[tool]
		grpoQualifies := hasGRPO && g.Comparisons >= minComparisonsToQualify

		var rec Recommendation
		switch {
		case grpoQualifies && hasHist:
			rec = Recommendation{
				Tool:       tool,
				Score:      blendGRPO*g.Score + blendHistory*hist.WeightedScore,
				Source:     SourceBlended,
				Confidence: hist.Confidence,
			}
		case grpoQualifies:
			rec = Recommendation{
				Tool:       tool,
				Score:      g.Score,
				Source:     SourceGRPO,
				Confidence: confidenceFor(g.Comparisons),
			}
		case hasHist:
			rec = Recommendation{
				Tool:       tool,
				Score:      hist.WeightedScore,
				Source:     SourceHistory,
				Confidence: hist.Confidence,
			}
		default:
			// Seen only in a single comparison: too thin to rank.
			continue
		}
		recs = append(recs, rec)
	}

	if len(recs) == 0 {
		return []Recommendation{{Score: coldStartFloor, Source: SourceColdStart, Confidence: ConfidenceLow}}
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Score > recs[j].Score })
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs
}

// Recommend returns the single best candidate for a context.
func (l *Learner) Recommend(context string) Recommendation {
	return l.RecommendCandidates(context, 1)[0]
}
