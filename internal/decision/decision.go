// Package decision holds the domain types of the decisioning core: the
// transaction context snapshot, verdicts, rule matches, and the immutable
// Decision record itself.
package decision

import "time"

// Verdict is the final outcome of scoring a transaction.
type Verdict string

const (
	VerdictAllow     Verdict = "ALLOW"
	VerdictChallenge Verdict = "CHALLENGE"
	VerdictDeny      Verdict = "DENY"
)

// Action is what a matched rule asks for.
type Action string

const (
	ActionAllow     Action = "allow"
	ActionDeny      Action = "deny"
	ActionReview    Action = "review"
	ActionChallenge Action = "challenge"
)

// ValidAction reports whether s is a known rule action.
func ValidAction(s string) bool {
	switch Action(s) {
	case ActionAllow, ActionDeny, ActionReview, ActionChallenge:
		return true
	}
	return false
}

// RuleMatch records one rule that fired during evaluation. Matches are only
// ever embedded in a Decision, never persisted standalone.
type RuleMatch struct {
	RuleID string `json:"ruleId"`
	Name   string `json:"name"`
	Action Action `json:"action"`
	Reason string `json:"reason"`
}

// LatencyBreakdown records where the request budget went, in microseconds.
type LatencyBreakdown struct {
	RulesUs    int64 `json:"rulesUs"`
	ScorerUs   int64 `json:"scorerUs"`
	FusionUs   int64 `json:"fusionUs"`
	AuditUs    int64 `json:"auditUs"`
	TotalUs    int64 `json:"totalUs"`
	Idempotent bool  `json:"idempotent"`
}

// Decision is the immutable record of one scoring outcome. A correction is a
// new Decision referencing the same EventID, never an update.
type Decision struct {
	ID             string           `json:"id"`
	EventID        string           `json:"eventId"`
	TenantID       string           `json:"tenantId"`
	Verdict        Verdict          `json:"verdict"`
	Score          *float64         `json:"score"` // nil when the scorer was unavailable
	ModelVersion   string           `json:"modelVersion,omitempty"`
	RuleSetVersion string           `json:"ruleSetVersion,omitempty"`
	Matches        []RuleMatch      `json:"matches"`
	Reasons        []string         `json:"reasons"`
	StrongAuth     bool             `json:"requiresStrongAuth"`
	Degraded       bool             `json:"degraded"` // a dependency was skipped or timed out
	Latency        LatencyBreakdown `json:"latency"`
	CreatedAt      time.Time        `json:"createdAt"`
}

// HasDenyMatch reports whether any match carries the deny action.
func (d *Decision) HasDenyMatch() bool {
	for _, m := range d.Matches {
		if m.Action == ActionDeny {
			return true
		}
	}
	return false
}
