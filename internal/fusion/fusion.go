// Package fusion combines rule matches and the model score into a final
// verdict. Fuse is a pure function: same inputs, same verdict, no clock, no
// I/O. All the messy parts (timeouts, degraded dependencies) happen before
// fusion; by the time inputs arrive here they are plain values.
package fusion

import (
	"fmt"

	"github.com/cardinalpay/arbiter/internal/decision"
)

// Default score thresholds. A score at or above High denies outright; at or
// above Mid it forces a challenge.
const (
	DefaultMidThreshold  = 0.5
	DefaultHighThreshold = 0.85
)

// Defaults for the strong-authentication mapping: any challenged score
// requires strong auth (zero margin), as does any challenged transaction
// at or above the amount threshold.
const (
	DefaultStrongAuthAmount = 500.0
	DefaultStrongAuthMargin = 0.0
)

// Config carries the tenant-tunable fusion thresholds.
type Config struct {
	MidThreshold  float64
	HighThreshold float64

	// StrongAuthAmount is the transaction amount at or above which a
	// challenge always demands strong authentication.
	StrongAuthAmount float64
	// StrongAuthMargin is how far above MidThreshold the score must be
	// for the score alone to demand strong authentication.
	StrongAuthMargin float64
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		MidThreshold:     DefaultMidThreshold,
		HighThreshold:    DefaultHighThreshold,
		StrongAuthAmount: DefaultStrongAuthAmount,
		StrongAuthMargin: DefaultStrongAuthMargin,
	}
}

// Normalize fills zero thresholds with defaults and repairs an inverted
// pair so a bad config can never make High easier to hit than Mid.
func (c Config) Normalize() Config {
	if c.MidThreshold <= 0 {
		c.MidThreshold = DefaultMidThreshold
	}
	if c.HighThreshold <= 0 {
		c.HighThreshold = DefaultHighThreshold
	}
	if c.HighThreshold < c.MidThreshold {
		c.HighThreshold = c.MidThreshold
	}
	if c.StrongAuthAmount <= 0 {
		c.StrongAuthAmount = DefaultStrongAuthAmount
	}
	if c.StrongAuthMargin < 0 {
		c.StrongAuthMargin = DefaultStrongAuthMargin
	}
	return c
}

// RequiresStrongAuth is the pure (score, amount) mapping behind the
// CHALLENGE verdict's strong-authentication flag. Strong auth is demanded
// when the score clears MidThreshold by at least StrongAuthMargin, or when
// the amount reaches StrongAuthAmount. A nil score contributes nothing.
func (c Config) RequiresStrongAuth(score *float64, amount float64) bool {
	c = c.Normalize()
	if score != nil && *score >= c.MidThreshold+c.StrongAuthMargin {
		return true
	}
	return amount >= c.StrongAuthAmount
}

// Input is everything the policy considers.
type Input struct {
	Matches []decision.RuleMatch
	HasDeny bool
	Score   *float64 // nil when the scorer was unavailable
	Amount  float64  // transaction amount, feeds the strong-auth mapping
}

// Outcome is the fused verdict plus the reasons that produced it.
type Outcome struct {
	Verdict    decision.Verdict
	StrongAuth bool
	Reasons    []string
}

// Fuse resolves the verdict. Precedence, strongest first:
//
//  1. any deny rule match denies; its reasons are the deny reasons only
//  2. score >= HighThreshold denies
//  3. score >= MidThreshold challenges
//  4. any review or challenge rule match challenges
//  5. otherwise allow
//
// A challenge's strong-authentication flag comes from RequiresStrongAuth
// over (score, amount); a challenge-action rule match forces it as well.
func Fuse(cfg Config, in Input) Outcome {
	cfg = cfg.Normalize()

	if in.HasDeny {
		return Outcome{
			Verdict: decision.VerdictDeny,
			Reasons: reasonsForAction(in.Matches, decision.ActionDeny),
		}
	}

	if in.Score != nil && *in.Score >= cfg.HighThreshold {
		return Outcome{
			Verdict: decision.VerdictDeny,
			Reasons: []string{fmt.Sprintf("model score %.2f at or above deny threshold %.2f", *in.Score, cfg.HighThreshold)},
		}
	}

	if in.Score != nil && *in.Score >= cfg.MidThreshold {
		out := Outcome{
			Verdict:    decision.VerdictChallenge,
			StrongAuth: cfg.RequiresStrongAuth(in.Score, in.Amount) || hasAction(in.Matches, decision.ActionChallenge),
			Reasons:    []string{fmt.Sprintf("model score %.2f at or above challenge threshold %.2f", *in.Score, cfg.MidThreshold)},
		}
		out.Reasons = append(out.Reasons, reasonsForAction(in.Matches, decision.ActionReview, decision.ActionChallenge)...)
		return out
	}

	if softReasons := reasonsForAction(in.Matches, decision.ActionReview, decision.ActionChallenge); len(softReasons) > 0 {
		return Outcome{
			Verdict:    decision.VerdictChallenge,
			StrongAuth: hasAction(in.Matches, decision.ActionChallenge) || cfg.RequiresStrongAuth(in.Score, in.Amount),
			Reasons:    softReasons,
		}
	}

	return Outcome{Verdict: decision.VerdictAllow}
}

func reasonsForAction(matches []decision.RuleMatch, actions ...decision.Action) []string {
	var out []string
	for _, m := range matches {
		for _, a := range actions {
			if m.Action == a {
				out = append(out, m.Reason)
				break
			}
		}
	}
	return out
}

func hasAction(matches []decision.RuleMatch, action decision.Action) bool {
	for _, m := range matches {
		if m.Action == action {
			return true
		}
	}
	return false
}
