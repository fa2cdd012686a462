package selfeval

const (
	defaultSuggestionThreshold = 3.0
	trendHysteresis            = 0.25
	defaultTrendWindow         = 10
)

// SuggestOptions scopes an improvement scan. Lookback<=0 means the whole
// history; Threshold<=0 takes the 3.0 default.
type SuggestOptions struct {
	Lookback  int
	Threshold float64
}

// ImprovementSuggestions flags dimensions and task types whose mean grade
// falls below the threshold and reports the first-half/second-half trend of
// the scanned window.
func (e *Evaluator) ImprovementSuggestions(opts SuggestOptions) Suggestions {
	if opts.Threshold <= 0 {
		opts.Threshold = defaultSuggestionThreshold
	}
	history := e.History()
	if opts.Lookback > 0 && len(history) > opts.Lookback {
		history = history[len(history)-opts.Lookback:]
	}
	out := Suggestions{Trend: TrendStable, Evaluated: len(history)}
	if len(history) == 0 {
		return out
	}

	dimSums := make(map[Dimension]float64)
	typeSums := make(map[string]float64)
	typeCounts := make(map[string]int)
	for _, ev := range history {
		for dim, d := range ev.Dimensions {
			dimSums[dim] += d.Score
		}
		typeSums[ev.TaskType] += ev.Overall
		typeCounts[ev.TaskType]++
	}

	for _, dim := range []Dimension{DimAccuracy, DimCompleteness, DimEfficiency, DimSatisfaction} {
		if dimSums[dim]/float64(len(history)) < opts.Threshold {
			out.WeakDimensions = append(out.WeakDimensions, dim)
			out.Advice = append(out.Advice, adviceByDimension[dim])
		}
	}
	for taskType, sum := range typeSums {
		if sum/float64(typeCounts[taskType]) < opts.Threshold {
			out.WeakTaskTypes = append(out.WeakTaskTypes, taskType)
		}
	}

	if len(history) >= 4 {
		half := len(history) / 2
		first := meanOverall(history[:half])
		second := meanOverall(history[half:])
		switch {
		case second > first+trendHysteresis:
			out.Trend = TrendImproving
		case second < first-trendHysteresis:
			out.Trend = TrendDeclining
		}
	}
	return out
}

// LearningTrends buckets history into fixed windows of windowSize evaluations
// (default 10) and compares the first and last complete windows.
func (e *Evaluator) LearningTrends(windowSize int) Trends {
	if windowSize <= 0 {
		windowSize = defaultTrendWindow
	}
	history := e.History()

	var trends Trends
	trends.Trend = TrendStable
	for start := 0; start < len(history); start += windowSize {
		end := start + windowSize
		if end > len(history) {
			end = len(history)
		}
		chunk := history[start:end]
		trends.Windows = append(trends.Windows, TrendWindow{
			Start:       chunk[0].Timestamp,
			End:         chunk[len(chunk)-1].Timestamp,
			MeanOverall: meanOverall(chunk),
			Count:       len(chunk),
		})
	}

	if n := len(trends.Windows); n >= 2 {
		first := trends.Windows[0].MeanOverall
		last := trends.Windows[n-1].MeanOverall
		switch {
		case last > first+trendHysteresis:
			trends.Trend = TrendImproving
		case last < first-trendHysteresis:
			trends.Trend = TrendDeclining
		}
	}
	return trends
}

func meanOverall(evals []Evaluation) float64 {
	if len(evals) == 0 {
		return 0
	}
	var sum float64
	for _, ev := range evals {
		sum += ev.Overall
	}
	return sum / float64(len(evals))
}
