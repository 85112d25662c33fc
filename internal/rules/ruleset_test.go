package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalpay/arbiter/internal/decision"
)

func TestBuildRuleSetExcludesBadExpressions(t *testing.T) {
	raw := []*Rule{
		{ID: "rule_good", Name: "high amount", Expression: "amount > 5000", Action: decision.ActionReview, Enabled: true},
		{ID: "rule_bad", Name: "broken", Expression: "amount >", Action: decision.ActionDeny, Enabled: true},
	}

	rs, compileErrs := BuildRuleSet(raw)
	require.Len(t, compileErrs, 1)
	assert.Equal(t, "rule_bad", compileErrs[0].RuleID)
	assert.Equal(t, 1, rs.Len())
}

func TestBuildRuleSetVersionTracksContent(t *testing.T) {
	raw := []*Rule{
		{ID: "rule_1", Expression: "amount > 5000", Action: decision.ActionReview, Priority: 100, Enabled: true},
	}
	a, _ := BuildRuleSet(raw)
	b, _ := BuildRuleSet(raw)
	assert.Equal(t, a.Version, b.Version)

	raw[0].Expression = "amount > 6000"
	c, _ := BuildRuleSet(raw)
	assert.NotEqual(t, a.Version, c.Version)
}

func TestEvaluateCollectsMatchesInPriorityOrder(t *testing.T) {
	raw := []*Rule{
		{ID: "rule_low", Name: "low", Expression: "amount > 100", Action: decision.ActionReview, Priority: 10, Enabled: true},
		{ID: "rule_high", Name: "high", Expression: "amount > 1000", Action: decision.ActionChallenge, Priority: 90, Enabled: true},
		{ID: "rule_miss", Name: "miss", Expression: "amount > 100000", Action: decision.ActionDeny, Priority: 50, Enabled: true},
	}
	rs, compileErrs := BuildRuleSet(raw)
	require.Empty(t, compileErrs)

	txc := decision.NewTransactionContext(map[string]decision.Value{
		"amount": decision.Number(9500),
	})
	result := rs.Evaluate(context.Background(), NewEvaluator(nil), txc)

	require.Len(t, result.Matches, 2)
	assert.Equal(t, "rule_high", result.Matches[0].RuleID)
	assert.Equal(t, "rule_low", result.Matches[1].RuleID)
	assert.False(t, result.HasDeny)
}

func TestEvaluateShortCircuitDenyReturnsAlone(t *testing.T) {
	raw := []*Rule{
		{
			ID: "rule_amount", Name: "large amount", Expression: "amount > 5000",
			Action: decision.ActionReview, Priority: 100, Enabled: true,
		},
		{
			ID: "rule_mcc", Name: "risky mcc", Expression: "merchant.mcc IN ['6211'] AND amount > 1000",
			Action: decision.ActionDeny, Priority: 110, Enabled: true, ShortCircuit: true,
		},
	}
	rs, compileErrs := BuildRuleSet(raw)
	require.Empty(t, compileErrs)

	txc := decision.NewTransactionContext(map[string]decision.Value{
		"amount":           decision.Number(9500),
		"merchant.country": decision.String("RU"),
		"merchant.mcc":     decision.String("6211"),
	})
	result := rs.Evaluate(context.Background(), NewEvaluator(nil), txc)

	// The deny rule has higher priority and short-circuits: the softer
	// amount rule never appears even though it would also match.
	require.Len(t, result.Matches, 1)
	assert.Equal(t, "rule_mcc", result.Matches[0].RuleID)
	assert.Equal(t, decision.ActionDeny, result.Matches[0].Action)
	assert.True(t, result.HasDeny)
}

func TestEvaluateDenyWithoutShortCircuitKeepsCollecting(t *testing.T) {
	raw := []*Rule{
		{ID: "rule_deny", Name: "deny", Expression: "amount > 1000", Action: decision.ActionDeny, Priority: 90, Enabled: true},
		{ID: "rule_review", Name: "review", Expression: "amount > 100", Action: decision.ActionReview, Priority: 10, Enabled: true},
	}
	rs, _ := BuildRuleSet(raw)

	txc := decision.NewTransactionContext(map[string]decision.Value{
		"amount": decision.Number(5000),
	})
	result := rs.Evaluate(context.Background(), NewEvaluator(nil), txc)

	assert.Len(t, result.Matches, 2)
	assert.True(t, result.HasDeny)
}

func TestEvaluateSkipsDisabledRules(t *testing.T) {
	raw := []*Rule{
		{ID: "rule_off", Name: "off", Expression: "amount > 0", Action: decision.ActionDeny, Priority: 100, Enabled: false},
		{ID: "rule_on", Name: "on", Expression: "amount > 0", Action: decision.ActionReview, Priority: 10, Enabled: true},
	}
	rs, _ := BuildRuleSet(raw)

	txc := decision.NewTransactionContext(map[string]decision.Value{
		"amount": decision.Number(50),
	})
	result := rs.Evaluate(context.Background(), NewEvaluator(nil), txc)

	require.Len(t, result.Matches, 1)
	assert.Equal(t, "rule_on", result.Matches[0].RuleID)
}
