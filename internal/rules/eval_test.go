package rules

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalpay/arbiter/internal/decision"
)

// fakeGateway answers from fixed maps, optionally after a delay or with a
// forced error. It counts invocations so tests can assert short-circuiting.
type fakeGateway struct {
	counts map[string]int
	sums   map[string]float64
	lists  map[string]map[string]bool
	delay  time.Duration
	err    error
	calls  atomic.Int64
}

func (f *fakeGateway) wait(ctx context.Context) error {
	f.calls.Add(1)
	if f.err != nil {
		return f.err
	}
	if f.delay == 0 {
		return nil
	}
	select {
	case <-time.After(f.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeGateway) Count(ctx context.Context, key string, _ time.Duration) (int, error) {
	if err := f.wait(ctx); err != nil {
		return 0, err
	}
	return f.counts[key], nil
}

func (f *fakeGateway) Sum(ctx context.Context, key string, _ time.Duration) (float64, error) {
	if err := f.wait(ctx); err != nil {
		return 0, err
	}
	return f.sums[key], nil
}

func (f *fakeGateway) IsMember(ctx context.Context, listID, value string) (bool, error) {
	if err := f.wait(ctx); err != nil {
		return false, err
	}
	return f.lists[listID][value], nil
}

func evalExpr(t *testing.T, ev *Evaluator, src string, attrs map[string]decision.Value) (bool, *Trace) {
	t.Helper()
	node, err := Compile(src)
	require.NoError(t, err)
	matched, trace, err := ev.Evaluate(context.Background(), node, decision.NewTransactionContext(attrs))
	require.NoError(t, err)
	return matched, trace
}

func TestEvaluateComparisons(t *testing.T) {
	ev := NewEvaluator(nil)
	attrs := map[string]decision.Value{
		"amount":           decision.Number(9500),
		"currency":         decision.String("USD"),
		"merchant.country": decision.String("RU"),
		"merchant.mcc":     decision.String("6211"),
		"flagged":          decision.Bool(true),
	}

	cases := []struct {
		src  string
		want bool
	}{
		{"amount > 5000", true},
		{"amount < 5000", false},
		{"amount >= 9500", true},
		{"amount <= 9499", false},
		{"amount == 9500", true},
		{"amount != 9500", false},
		{"currency == 'USD'", true},
		{"currency == 'usd'", false}, // strings compare case-sensitively
		{"merchant.country IN ['RU', 'KP']", true},
		{"merchant.country IN ['US', 'GB']", false},
		{"flagged == true", true},
		{"NOT flagged", false},
		{"amount > 5000 AND merchant.country == 'RU'", true},
		{"amount > 50000 OR merchant.mcc IN ['6211']", true},
		{"amount > 50000 AND merchant.mcc IN ['6211']", false},
	}
	for _, tc := range cases {
		matched, _ := evalExpr(t, ev, tc.src, attrs)
		assert.Equal(t, tc.want, matched, "expression %q", tc.src)
	}
}

func TestEvaluateAbsentIsFalse(t *testing.T) {
	ev := NewEvaluator(nil)
	attrs := map[string]decision.Value{"amount": decision.Number(100)}

	cases := []string{
		"device.id == 'abc'",
		"device.id != 'abc'", // != against absent is still false, not true
		"missing > 0",
		"missing IN ['a']",
	}
	for _, src := range cases {
		matched, _ := evalExpr(t, ev, src, attrs)
		assert.False(t, matched, "expression %q", src)
	}

	// NOT over an absent sub-expression must not become a match.
	matched, _ := evalExpr(t, ev, "NOT (device.id == 'abc')", attrs)
	assert.False(t, matched)
}

func TestEvaluateNumericCoercion(t *testing.T) {
	ev := NewEvaluator(nil)
	attrs := map[string]decision.Value{
		"amount_str": decision.String("9500"),
		"mcc_num":    decision.Number(6211),
	}

	// Ordered comparisons coerce numeric strings.
	matched, _ := evalExpr(t, ev, "amount_str > 5000", attrs)
	assert.True(t, matched)

	// IN membership is exact: a number never matches a string element.
	matched, _ = evalExpr(t, ev, "mcc_num IN ['6211']", attrs)
	assert.False(t, matched)
}

func TestEvaluateGatewayFunctions(t *testing.T) {
	gw := &fakeGateway{
		counts: map[string]int{"card.number=4111=tok": 11},
		sums:   map[string]float64{"device.id=d1": 2500.50},
		lists:  map[string]map[string]bool{"deny_merchants": {"m_99": true}},
	}
	ev := NewEvaluator(gw)
	attrs := map[string]decision.Value{
		"card.number": decision.String("4111=tok"),
		"device.id":   decision.String("d1"),
		"merchant.id": decision.String("m_99"),
	}

	matched, trace := evalExpr(t, ev, "velocity_24h('card.number') > 10", attrs)
	assert.True(t, matched)
	assert.False(t, trace.Degraded)

	matched, _ = evalExpr(t, ev, "sum_1h('device.id') > 2500", attrs)
	assert.True(t, matched)

	matched, _ = evalExpr(t, ev, "in_list('deny_merchants', merchant.id)", attrs)
	assert.True(t, matched)

	matched, _ = evalExpr(t, ev, "in_list('deny_merchants', 'm_other')", attrs)
	assert.False(t, matched)
}

func TestEvaluateGatewayErrorDegrades(t *testing.T) {
	gw := &fakeGateway{err: context.DeadlineExceeded}
	ev := NewEvaluator(gw)
	attrs := map[string]decision.Value{"card.number": decision.String("4111")}

	matched, trace := evalExpr(t, ev, "velocity_1h('card.number') > 10", attrs)
	assert.False(t, matched)
	assert.True(t, trace.Degraded)
	assert.NotEmpty(t, trace.Notes)
}

func TestEvaluateGatewayTimeoutDegrades(t *testing.T) {
	gw := &fakeGateway{delay: 200 * time.Millisecond}
	ev := NewEvaluator(gw).WithFuncTimeout(5 * time.Millisecond)
	attrs := map[string]decision.Value{"card.number": decision.String("4111")}

	start := time.Now()
	matched, trace := evalExpr(t, ev, "velocity_1h('card.number') > 0", attrs)
	elapsed := time.Since(start)

	assert.False(t, matched)
	assert.True(t, trace.Degraded)
	assert.Less(t, elapsed, 100*time.Millisecond, "call should be cut off by the function timeout")
}

func TestEvaluateShortCircuitSkipsGateway(t *testing.T) {
	gw := &fakeGateway{}
	ev := NewEvaluator(gw)
	attrs := map[string]decision.Value{
		"amount":      decision.Number(10),
		"card.number": decision.String("4111"),
	}

	// Left side is false, so the gateway call on the right must not run.
	matched, _ := evalExpr(t, ev, "amount > 5000 AND velocity_1h('card.number') > 0", attrs)
	assert.False(t, matched)
	assert.Zero(t, gw.calls.Load())

	// Left side is true, so OR never reaches the gateway either.
	matched, _ = evalExpr(t, ev, "amount > 5 OR velocity_1h('card.number') > 0", attrs)
	assert.True(t, matched)
	assert.Zero(t, gw.calls.Load())
}

func TestEvaluateUnknownFunctionDegrades(t *testing.T) {
	ev := NewEvaluator(&fakeGateway{})
	matched, trace := evalExpr(t, ev, "bogus_fn('x') > 0", nil)
	assert.False(t, matched)
	assert.True(t, trace.Degraded)
}

func TestEvaluateNilAST(t *testing.T) {
	ev := NewEvaluator(nil)
	_, _, err := ev.Evaluate(context.Background(), nil, decision.NewTransactionContext(nil))
	assert.ErrorIs(t, err, ErrNilAST)
}
