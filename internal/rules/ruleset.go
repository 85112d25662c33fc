package rules

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/cardinalpay/arbiter/internal/decision"
)

// Rule is one decision rule: a compiled expression plus the action taken
// when it matches. Rules are authored externally; this struct is the
// in-memory, compiled form.
type Rule struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Expression   string            `json:"expression"`
	Action       decision.Action   `json:"action"`
	Priority     int               `json:"priority"` // higher = evaluated and reported first
	Enabled      bool              `json:"enabled"`
	ShortCircuit bool              `json:"shortCircuit"` // deny matches stop evaluation immediately
	Metadata     map[string]string `json:"metadata,omitempty"`

	ast Node
}

// Compiled reports whether the rule carries a compiled AST.
func (r *Rule) Compiled() bool { return r.ast != nil }

// RuleSet is an immutable, priority-sorted snapshot of compiled rules.
// A refresh builds a new snapshot and swaps a pointer; in-flight
// evaluations keep reading the one they started with.
type RuleSet struct {
	Version  string
	LoadedAt time.Time
	rules    []*Rule
}

// EvalResult is the output of evaluating a context against the set.
type EvalResult struct {
	Matches []decision.RuleMatch
	HasDeny bool
	Notes   []string // degradation notes gathered from rule traces
}

// BuildRuleSet compiles the given rules into a snapshot. Rules that fail
// to compile are excluded and reported; they never crash the evaluator or
// fail requests. The snapshot version is a digest of the included rules.
func BuildRuleSet(raw []*Rule) (*RuleSet, []*decision.CompileError) {
	var compileErrs []*decision.CompileError
	included := make([]*Rule, 0, len(raw))

	for _, r := range raw {
		ast, err := Compile(r.Expression)
		if err != nil {
			compileErrs = append(compileErrs, &decision.CompileError{RuleID: r.ID, Err: err})
			continue
		}
		cp := *r
		cp.ast = ast
		included = append(included, &cp)
	}

	sort.SliceStable(included, func(i, j int) bool {
		return included[i].Priority > included[j].Priority
	})

	return &RuleSet{
		Version:  ruleSetVersion(included),
		LoadedAt: time.Now().UTC(),
		rules:    included,
	}, compileErrs
}

// Rules returns the snapshot's rules in evaluation order.
func (rs *RuleSet) Rules() []*Rule {
	out := make([]*Rule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

// Len returns the number of compiled rules in the snapshot.
func (rs *RuleSet) Len() int { return len(rs.rules) }

// Evaluate runs the context through the set in priority order. All matches
// are collected, except that a matching short-circuit deny rule stops
// evaluation and is returned alone: critical rules (sanctioned country,
// confirmed AML flag) must not be diluted by softer matches.
func (rs *RuleSet) Evaluate(ctx context.Context, ev *Evaluator, txc *decision.TransactionContext) *EvalResult {
	result := &EvalResult{}

	for _, r := range rs.rules {
		if !r.Enabled {
			continue
		}
		matched, trace, err := ev.Evaluate(ctx, r.ast, txc)
		if err != nil {
			// Only a nil AST reaches here; skip the rule.
			continue
		}
		if trace != nil && trace.Degraded {
			result.Notes = append(result.Notes, trace.Notes...)
		}
		if !matched {
			continue
		}

		match := decision.RuleMatch{
			RuleID: r.ID,
			Name:   r.Name,
			Action: r.Action,
			Reason: fmt.Sprintf("rule %q matched: %s", r.Name, r.Expression),
		}
		if r.Action == decision.ActionDeny {
			result.HasDeny = true
			if r.ShortCircuit {
				result.Matches = []decision.RuleMatch{match}
				return result
			}
		}
		result.Matches = append(result.Matches, match)
	}
	return result
}

func ruleSetVersion(rules []*Rule) string {
	h := sha256.New()
	for _, r := range rules {
		fmt.Fprintf(h, "%s|%s|%s|%d|%t\n", r.ID, r.Expression, r.Action, r.Priority, r.ShortCircuit)
	}
	return "rs_" + hex.EncodeToString(h.Sum(nil))[:12]
}
