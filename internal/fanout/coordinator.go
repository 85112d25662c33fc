// Package fanout runs the two independent decision inputs, rule evaluation
// and model scoring, concurrently under one latency budget. Each path has
// its own sub-timeout so a slow scorer cannot consume the whole budget, and
// a partial result is always preferred over waiting past the deadline.
package fanout

import (
	"context"
	"log/slog"
	"time"

	"github.com/cardinalpay/arbiter/internal/circuitbreaker"
	"github.com/cardinalpay/arbiter/internal/decision"
	"github.com/cardinalpay/arbiter/internal/rules"
	"github.com/cardinalpay/arbiter/internal/scorer"
)

// Default path budgets. The overall budget leaves headroom below a typical
// 150ms caller SLA for fusion, audit, and response serialization.
const (
	DefaultBudget       = 120 * time.Millisecond
	DefaultRulesTimeout = 50 * time.Millisecond
	DefaultScoreTimeout = 80 * time.Millisecond
)

// breakerKey guards the scorer dependency.
const breakerKey = "scorer"

// Config carries the fan-out timing budgets.
type Config struct {
	Budget       time.Duration
	RulesTimeout time.Duration
	ScoreTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Budget <= 0 {
		c.Budget = DefaultBudget
	}
	if c.RulesTimeout <= 0 {
		c.RulesTimeout = DefaultRulesTimeout
	}
	if c.ScoreTimeout <= 0 {
		c.ScoreTimeout = DefaultScoreTimeout
	}
	return c
}

// Result carries whatever the two paths produced within budget. A nil
// Rules or Score with its error set means that path failed or timed out.
type Result struct {
	Rules          *rules.EvalResult
	RulesErr       error
	RuleSetVersion string

	Score        *scorer.Result
	ScoreErr     error

	RulesElapsed time.Duration
	ScoreElapsed time.Duration

	Degraded bool
	Notes    []string
}

// Coordinator owns the fan-out. The rule snapshot is pinned once per run so
// both an evaluation and its reported version come from the same set.
type Coordinator struct {
	loader  *rules.Loader
	eval    *rules.Evaluator
	scorer  scorer.Scorer
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
	cfg     Config
}

// NewCoordinator creates a coordinator. The breaker may be nil, in which
// case the scorer is always consulted.
func NewCoordinator(loader *rules.Loader, eval *rules.Evaluator, sc scorer.Scorer, breaker *circuitbreaker.Breaker, cfg Config, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		loader:  loader,
		eval:    eval,
		scorer:  sc,
		breaker: breaker,
		logger:  logger,
		cfg:     cfg.withDefaults(),
	}
}

type pathOutcome struct {
	path    string // "rules" or "score"
	rules   *rules.EvalResult
	score   *scorer.Result
	err     error
	elapsed time.Duration
}

// Run evaluates both paths concurrently and joins within the budget. It
// returns decision.ErrTotalFailure only when neither path produced a
// usable result; one degraded path alone never fails the run.
func (c *Coordinator) Run(ctx context.Context, txc *decision.TransactionContext) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Budget)
	defer cancel()

	snapshot := c.loader.Active()
	result := &Result{RuleSetVersion: snapshot.Version}

	// Buffered so a path finishing after the deadline does not leak its
	// goroutine on send.
	outcomes := make(chan pathOutcome, 2)

	go c.runRules(ctx, snapshot, txc, outcomes)
	go c.runScore(ctx, txc, outcomes)

	pending := 2
	for pending > 0 {
		select {
		case out := <-outcomes:
			pending--
			switch out.path {
			case "rules":
				result.Rules = out.rules
				result.RulesErr = out.err
				result.RulesElapsed = out.elapsed
			case "score":
				result.Score = out.score
				result.ScoreErr = out.err
				result.ScoreElapsed = out.elapsed
			}
		case <-ctx.Done():
			// Budget exhausted: whatever has not reported is a timeout.
			if result.Rules == nil && result.RulesErr == nil {
				result.RulesErr = decision.ErrTimeout
			}
			if result.Score == nil && result.ScoreErr == nil {
				result.ScoreErr = decision.ErrTimeout
			}
			pending = 0
		}
	}

	if result.RulesErr != nil {
		result.Degraded = true
		result.Notes = append(result.Notes, "rules path unavailable: "+result.RulesErr.Error())
	}
	if result.ScoreErr != nil {
		result.Degraded = true
		result.Notes = append(result.Notes, "score path unavailable: "+result.ScoreErr.Error())
	}
	if result.Rules != nil {
		result.Notes = append(result.Notes, result.Rules.Notes...)
	}

	if result.Rules == nil && result.Score == nil {
		c.logger.Error("both decision paths failed",
			"rules_error", result.RulesErr,
			"score_error", result.ScoreErr,
		)
		return result, decision.ErrTotalFailure
	}
	return result, nil
}

func (c *Coordinator) runRules(ctx context.Context, snapshot *rules.RuleSet, txc *decision.TransactionContext, out chan<- pathOutcome) {
	rctx, cancel := context.WithTimeout(ctx, c.cfg.RulesTimeout)
	defer cancel()

	start := time.Now()
	evalResult := snapshot.Evaluate(rctx, c.eval, txc)
	out <- pathOutcome{path: "rules", rules: evalResult, elapsed: time.Since(start)}
}

func (c *Coordinator) runScore(ctx context.Context, txc *decision.TransactionContext, out chan<- pathOutcome) {
	if c.scorer == nil {
		out <- pathOutcome{path: "score", err: decision.ErrDependencyUnavailable}
		return
	}
	if c.breaker != nil && !c.breaker.Allow(breakerKey) {
		out <- pathOutcome{path: "score", err: decision.ErrDependencyUnavailable}
		return
	}

	sctx, cancel := context.WithTimeout(ctx, c.cfg.ScoreTimeout)
	defer cancel()

	start := time.Now()
	res, err := c.scorer.Score(sctx, txc)
	elapsed := time.Since(start)

	if c.breaker != nil {
		if err != nil {
			c.breaker.RecordFailure(breakerKey)
		} else {
			c.breaker.RecordSuccess(breakerKey)
		}
	}
	out <- pathOutcome{path: "score", score: res, err: err, elapsed: elapsed}
}
