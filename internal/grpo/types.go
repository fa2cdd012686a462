// Package grpo implements group-relative policy optimization over assistant
// strategies: candidates that attempted the same context are scored with
// deterministic rules, ranked against each other, and persisted weights are
// nudged by relative advantage. No judge model is involved anywhere.
package grpo

import (
	"errors"
	"fmt"
	"time"
)

// Mode selects which weight table an evaluation feeds.
type Mode string

const (
	// ModeTask ranks individual task strategies, keyed by strategy name.
	ModeTask Mode = "task"
	// ModeTeam ranks team compositions, keyed by "pattern|size|domain".
	ModeTeam Mode = "team"
)

// ErrGroupTooSmall is returned for comparison groups of fewer than two
// candidates; relative ranking is undefined for a group of one.
var ErrGroupTooSmall = errors.New("grpo: comparison group needs at least 2 candidates")

// CLIResult is the outcome payload of one command-line strategy attempt.
type CLIResult struct {
	ExitCode    int     `json:"exit_code"`
	Errors      int     `json:"errors"`
	DurationMS  float64 `json:"duration_ms"`
	OutputLen   int     `json:"output_len"`
	SideEffects bool    `json:"side_effects"`
}

// TeamResult is the outcome payload of one team composition. All fields are
// already expressed in [0,1]; ResourceUse means resource *efficiency*, so
// higher is better across the board.
type TeamResult struct {
	SuccessRate  float64 `json:"success_rate"`
	Efficiency   float64 `json:"efficiency"`
	ResourceUse  float64 `json:"resource_use"`
	Completeness float64 `json:"completeness"`
}

// Candidate is one entrant in a comparison group. Exactly one of CLI or Team
// must be set; the payload is validated at the boundary rather than carried
// as an untyped bag.
type Candidate struct {
	Strategy string      `json:"strategy"`
	CLI      *CLIResult  `json:"cli,omitempty"`
	Team     *TeamResult `json:"team,omitempty"`
}

func (c Candidate) validate() (Mode, error) {
	switch {
	case c.Strategy == "":
		return "", fmt.Errorf("grpo: candidate missing strategy name")
	case c.CLI != nil && c.Team != nil:
		return "", fmt.Errorf("grpo: candidate %q has both CLI and team payloads", c.Strategy)
	case c.CLI != nil:
		return ModeTask, nil
	case c.Team != nil:
		return ModeTeam, nil
	default:
		return "", fmt.Errorf("grpo: candidate %q has no result payload", c.Strategy)
	}
}

// Rule scores one aspect of a candidate. Outputs are clamped to [0,1]
// before they enter the composite.
type Rule struct {
	Name  string
	Score func(c Candidate) float64
}

// DefaultCLIRules returns the rule set for command-line strategy outcomes.
func DefaultCLIRules() []Rule {
	return []Rule{
		{Name: "exitCode", Score: func(c Candidate) float64 {
			if c.CLI.ExitCode == 0 {
				return 1
			}
			return 0
		}},
		{Name: "errorFree", Score: func(c Candidate) float64 {
			if c.CLI.Errors == 0 {
				return 1
			}
			return 0
		}},
		{Name: "speed", Score: func(c Candidate) float64 {
			return 1 / (1 + c.CLI.DurationMS/1000)
		}},
		{Name: "brevity", Score: func(c Candidate) float64 {
			return 1 / (1 + float64(c.CLI.OutputLen)/50)
		}},
		{Name: "sideEffects", Score: func(c Candidate) float64 {
			if c.CLI.SideEffects {
				return 0.5
			}
			return 1
		}},
	}
}

// TeamRules returns the rule set for team composition outcomes.
func TeamRules() []Rule {
	return []Rule{
		{Name: "successRate", Score: func(c Candidate) float64 { return c.Team.SuccessRate }},
		{Name: "efficiency", Score: func(c Candidate) float64 { return c.Team.Efficiency }},
		{Name: "resourceUse", Score: func(c Candidate) float64 { return c.Team.ResourceUse }},
		{Name: "completeness", Score: func(c Candidate) float64 { return c.Team.Completeness }},
	}
}

// RankedEntry is one candidate after group evaluation. Rank 1 is best.
// RelativeAdvantage spans +1 (rank 1) to -1 (rank N) and is 0 for the
// degenerate single-member case.
type RankedEntry struct {
	Strategy          string  `json:"strategy"`
	Composite         float64 `json:"composite"`
	RelativeAdvantage float64 `json:"relative_advantage"`
	Rank              int     `json:"rank"`
}

// GroupResult is the outcome of one comparison. It is ephemeral: only the
// weight nudges and a capped round log persist.
type GroupResult struct {
	Mode        Mode          `json:"mode"`
	Rankings    []RankedEntry `json:"rankings"`
	Best        RankedEntry   `json:"best"`
	Worst       RankedEntry   `json:"worst"`
	Spread      float64       `json:"spread"`
	EvaluatedAt time.Time     `json:"evaluated_at"`
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

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
