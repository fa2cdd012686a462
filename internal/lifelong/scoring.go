package lifelong

// Experience composites blend four signals with fixed weights. Each
// experience type defines its own mapping from the raw payload onto the
// four signals; the mappings are deliberately coarse heuristics.
const (
	weightSuccess    = 0.35
	weightSpeed      = 0.25
	weightErrorRate  = 0.25
	weightEfficiency = 0.15
)

type signals struct {
	success    float64
	speed      float64
	errorRate  float64 // 1 is error-free, 0 is error-dominated
	efficiency float64
}

func (s signals) composite() float64 {
	return weightSuccess*clamp01(s.success) +
		weightSpeed*clamp01(s.speed) +
		weightErrorRate*clamp01(s.errorRate) +
		weightEfficiency*clamp01(s.efficiency)
}

// experienceComposite scores one experience in [0,1].
func experienceComposite(exp Experience) float64 {
	switch exp.Type {
	case ExperienceTool:
		return toolSignals(exp.Data).composite()
	case ExperienceError:
		return errorSignals(exp.Data).composite()
	case ExperienceSuccess:
		return successSignals(exp.Data).composite()
	case ExperienceTeam:
		return teamSignals(exp.Data).composite()
	case ExperienceSelfEval:
		return evalSignals(exp.Data).composite()
	default:
		return 0
	}
}

func toolSignals(data map[string]any) signals {
	s := signals{efficiency: 0.5}
	if asBool(data["success"]) {
		s.success = 1
	}
	s.speed = speedScore(asFloat(data["durationMs"]))
	s.errorRate = 1 / (1 + asFloat(data["errorCount"]))
	if outputLen := asFloat(data["outputLen"]); outputLen > 0 {
		s.efficiency = 1 / (1 + outputLen/1000)
	}
	return s
}

// errorSignals: an error experience never counts as a success. Recovery is
// the only positive signal it can carry.
func errorSignals(data map[string]any) signals {
	s := signals{success: 0, errorRate: 0, efficiency: 0.5}
	if asBool(data["recovered"]) {
		s.errorRate = 0.5
	}
	s.speed = speedScore(asFloat(data["durationMs"]))
	return s
}

func successSignals(data map[string]any) signals {
	s := signals{success: 1, errorRate: 1, efficiency: 0.5}
	s.speed = speedScore(asFloat(data["durationMs"]))
	if steps := asFloat(data["stepCount"]); steps > 0 {
		s.efficiency = 1 / (1 + steps/10)
	}
	return s
}

func teamSignals(data map[string]any) signals {
	return signals{
		success:    asFloat(data["successRate"]),
		speed:      asFloat(data["efficiency"]),
		errorRate:  asFloat(data["completeness"]),
		efficiency: asFloat(data["resourceUse"]),
	}
}

// evalSignals maps 1..5 dimension grades onto [0,1].
func evalSignals(data map[string]any) signals {
	return signals{
		success:    asFloat(data["overall"]) / 5,
		speed:      asFloat(data["efficiency"]) / 5,
		errorRate:  asFloat(data["accuracy"]) / 5,
		efficiency: asFloat(data["satisfaction"]) / 5,
	}
}

func speedScore(durationMS float64) float64 {
	if durationMS < 0 {
		durationMS = 0
	}
	return 1 / (1 + durationMS/1000)
}

// asFloat reads a numeric payload field; JSON round-trips land as float64.
func asFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return 0
	}
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
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
