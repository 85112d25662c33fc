package fanout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalpay/arbiter/internal/circuitbreaker"
	"github.com/cardinalpay/arbiter/internal/decision"
	"github.com/cardinalpay/arbiter/internal/rules"
	"github.com/cardinalpay/arbiter/internal/scorer"
	"github.com/cardinalpay/arbiter/internal/velocity"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLoader(t *testing.T, defs ...*rules.Rule) *rules.Loader {
	t.Helper()
	repo := rules.NewMemoryRepository()
	for _, r := range defs {
		repo.Put(r)
	}
	l := rules.NewLoader(repo, 0, testLogger())
	require.NoError(t, l.Refresh(context.Background()))
	return l
}

func testTxc() *decision.TransactionContext {
	return decision.NewTransactionContext(map[string]decision.Value{
		"amount":       decision.Number(9500),
		"merchant.mcc": decision.String("6211"),
	})
}

// slowScorer sleeps until its delay elapses or the context is cancelled.
type slowScorer struct {
	delay  time.Duration
	result scorer.Result
	calls  atomic.Int64
}

func (s *slowScorer) Score(ctx context.Context, _ *decision.TransactionContext) (*scorer.Result, error) {
	s.calls.Add(1)
	select {
	case <-time.After(s.delay):
		r := s.result
		return &r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// stallGateway holds every call for a fixed wall-clock delay, ignoring the
// context, so the rules path reliably overruns a short budget.
type stallGateway struct{ delay time.Duration }

func (g stallGateway) Count(context.Context, string, time.Duration) (int, error) {
	time.Sleep(g.delay)
	return 0, velocity.ErrUnavailable
}
func (g stallGateway) Sum(context.Context, string, time.Duration) (float64, error) {
	time.Sleep(g.delay)
	return 0, velocity.ErrUnavailable
}
func (g stallGateway) IsMember(context.Context, string, string) (bool, error) {
	time.Sleep(g.delay)
	return false, velocity.ErrUnavailable
}

var _ velocity.Gateway = stallGateway{}

func TestRunBothPathsSucceed(t *testing.T) {
	loader := testLoader(t,
		&rules.Rule{ID: "rule_amount", Name: "large amount", Expression: "amount > 5000", Action: decision.ActionReview, Priority: 100, Enabled: true},
	)
	sc := &scorer.Static{Result: scorer.Result{Score: 0.3, ModelVersion: "m-1"}}
	c := NewCoordinator(loader, rules.NewEvaluator(nil), sc, nil, Config{}, testLogger())

	result, err := c.Run(context.Background(), testTxc())
	require.NoError(t, err)

	require.NotNil(t, result.Rules)
	assert.Len(t, result.Rules.Matches, 1)
	require.NotNil(t, result.Score)
	assert.Equal(t, 0.3, result.Score.Score)
	assert.False(t, result.Degraded)
	assert.Equal(t, loader.Active().Version, result.RuleSetVersion)
}

func TestRunSlowScorerDegradesWithinBudget(t *testing.T) {
	loader := testLoader(t,
		&rules.Rule{ID: "rule_amount", Name: "large amount", Expression: "amount > 5000", Action: decision.ActionReview, Priority: 100, Enabled: true},
	)
	sc := &slowScorer{delay: 2 * time.Second}
	cfg := Config{Budget: 100 * time.Millisecond, ScoreTimeout: 20 * time.Millisecond}
	c := NewCoordinator(loader, rules.NewEvaluator(nil), sc, nil, cfg, testLogger())

	start := time.Now()
	result, err := c.Run(context.Background(), testTxc())
	elapsed := time.Since(start)

	require.NoError(t, err, "one degraded path must not fail the run")
	assert.Less(t, elapsed, 500*time.Millisecond)
	require.NotNil(t, result.Rules)
	assert.Nil(t, result.Score)
	assert.Error(t, result.ScoreErr)
	assert.True(t, result.Degraded)
	assert.NotEmpty(t, result.Notes)
}

func TestRunScorerErrorIsRulesOnly(t *testing.T) {
	loader := testLoader(t,
		&rules.Rule{ID: "rule_amount", Name: "large amount", Expression: "amount > 5000", Action: decision.ActionReview, Priority: 100, Enabled: true},
	)
	sc := &scorer.Static{Err: scorer.ErrUnavailable}
	c := NewCoordinator(loader, rules.NewEvaluator(nil), sc, nil, Config{}, testLogger())

	result, err := c.Run(context.Background(), testTxc())
	require.NoError(t, err)
	require.NotNil(t, result.Rules)
	assert.Nil(t, result.Score)
	assert.True(t, result.Degraded)
}

func TestRunOpenBreakerSkipsScorer(t *testing.T) {
	loader := testLoader(t)
	breaker := circuitbreaker.New(1, time.Minute)
	breaker.RecordFailure("scorer") // trip it

	sc := &slowScorer{delay: 0, result: scorer.Result{Score: 0.1}}
	c := NewCoordinator(loader, rules.NewEvaluator(nil), sc, breaker, Config{}, testLogger())

	result, err := c.Run(context.Background(), testTxc())
	require.NoError(t, err)
	assert.Nil(t, result.Score)
	assert.ErrorIs(t, result.ScoreErr, decision.ErrDependencyUnavailable)
	assert.Zero(t, sc.calls.Load(), "scorer must not be called while the circuit is open")
}

func TestRunBreakerRecordsScorerOutcomes(t *testing.T) {
	loader := testLoader(t)
	breaker := circuitbreaker.New(2, time.Minute)
	sc := &scorer.Static{Err: errors.New("boom")}
	c := NewCoordinator(loader, rules.NewEvaluator(nil), sc, breaker, Config{}, testLogger())

	_, _ = c.Run(context.Background(), testTxc())
	_, _ = c.Run(context.Background(), testTxc())

	assert.Equal(t, circuitbreaker.StateOpen, breaker.State("scorer"))
}

func TestRunTotalFailure(t *testing.T) {
	// Rules stall on a gateway that never answers; the scorer errors
	// immediately. Nothing usable remains, so the run itself fails.
	loader := testLoader(t,
		&rules.Rule{ID: "rule_vel", Name: "velocity", Expression: "velocity_1h('amount') > 3", Action: decision.ActionDeny, Priority: 100, Enabled: true},
	)
	eval := rules.NewEvaluator(stallGateway{delay: 2 * time.Second}).WithFuncTimeout(time.Minute)
	sc := &scorer.Static{Err: scorer.ErrUnavailable}
	cfg := Config{Budget: 50 * time.Millisecond, RulesTimeout: time.Minute}
	c := NewCoordinator(loader, eval, sc, nil, cfg, testLogger())

	result, err := c.Run(context.Background(), testTxc())
	assert.ErrorIs(t, err, decision.ErrTotalFailure)
	assert.Nil(t, result.Rules)
	assert.Nil(t, result.Score)
	assert.ErrorIs(t, result.RulesErr, decision.ErrTimeout)
}

func TestRunNilScorerConfigured(t *testing.T) {
	loader := testLoader(t,
		&rules.Rule{ID: "rule_amount", Name: "large amount", Expression: "amount > 5000", Action: decision.ActionReview, Priority: 100, Enabled: true},
	)
	c := NewCoordinator(loader, rules.NewEvaluator(nil), nil, nil, Config{}, testLogger())

	result, err := c.Run(context.Background(), testTxc())
	require.NoError(t, err)
	require.NotNil(t, result.Rules)
	assert.ErrorIs(t, result.ScoreErr, decision.ErrDependencyUnavailable)
}
