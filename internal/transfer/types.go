package transfer

import (
	"errors"
	"time"
)

// ErrUnknownPattern is returned when an operation names a pattern key that
// was never supplied.
var ErrUnknownPattern = errors.New("transfer: unknown pattern key")

// ErrLockTimeout is returned when the hot-swap lock cannot be acquired
// within the maximum wait.
var ErrLockTimeout = errors.New("transfer: hot-swap lock acquisition timed out")

// Pattern is a learned strategy candidate, keyed "type::category". Produced
// by batch learning; promotion copies it into the fast table.
type Pattern struct {
	Key                  string         `json:"key"`
	Confidence           float64        `json:"confidence"`
	BestComposite        float64        `json:"bestComposite"`
	GroupMean            float64        `json:"groupMean"`
	SampleSize           int            `json:"sampleSize"`
	Insight              string         `json:"insight,omitempty"`
	BestData             map[string]any `json:"bestData,omitempty"`
	ConsecutiveSuccesses int            `json:"consecutiveSuccesses"`
	ConsecutiveFailures  int            `json:"consecutiveFailures"`
	FirstSeen            time.Time      `json:"firstSeen"`
	UpdateCount          int            `json:"updateCount"`
}

// System1Pattern is a promoted pattern in the fast lookup table. It exists
// only while the pattern keeps earning its place; demotion deletes it.
type System1Pattern struct {
	Key                 string         `json:"key"`
	Confidence          float64        `json:"confidence"`
	BestComposite       float64        `json:"bestComposite"`
	Insight             string         `json:"insight,omitempty"`
	BestData            map[string]any `json:"bestData,omitempty"`
	PromotionCount      int            `json:"promotionCount"`
	UsageCount          int            `json:"usageCount"`
	FailureCount        int            `json:"failureCount"`
	ConsecutiveFailures int            `json:"consecutiveFailures"`
	Status              string         `json:"status"`
	PromotedAt          time.Time      `json:"promotedAt"`
	LastUsedAt          time.Time      `json:"lastUsedAt"`
}

const statusActive = "active"

// PromoteResult reports a soft eligibility outcome. Reason is set only when
// Promoted is false.
type PromoteResult struct {
	Promoted bool   `json:"promoted"`
	Reason   string `json:"reason,omitempty"`
}

// HotSwapResult summarizes one atomic swap pass.
type HotSwapResult struct {
	Demoted  []string `json:"demoted"`
	Promoted []string `json:"promoted"`
}

type auditAction string

const (
	actionPromote auditAction = "promote"
	actionDemote  auditAction = "demote"
	actionHotSwap auditAction = "hotswap"
)

type auditRecord struct {
	Timestamp time.Time   `json:"timestamp"`
	Action    auditAction `json:"action"`
	Key       string      `json:"key,omitempty"`
	Reason    string      `json:"reason,omitempty"`
}
