// Package orchestrator is the decision façade. A request moves through a
// fixed pipeline: validate, idempotency check, concurrent fan-out, fusion,
// audit, respond, then best-effort publication. Every transaction that
// passes validation gets a verdict; when every input fails, that verdict is
// a fail-safe DENY, and it is audited like any other.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/cardinalpay/arbiter/internal/audit"
	"github.com/cardinalpay/arbiter/internal/decision"
	"github.com/cardinalpay/arbiter/internal/fanout"
	"github.com/cardinalpay/arbiter/internal/fusion"
	"github.com/cardinalpay/arbiter/internal/idempotency"
	"github.com/cardinalpay/arbiter/internal/idgen"
	"github.com/cardinalpay/arbiter/internal/metrics"
	"github.com/cardinalpay/arbiter/internal/pagination"
	"github.com/cardinalpay/arbiter/internal/traces"
	"github.com/cardinalpay/arbiter/internal/velocity"
)

// Broadcaster pushes finalized decisions to live subscribers.
type Broadcaster interface {
	BroadcastDecision(d *decision.Decision)
}

// Publisher enqueues finalized decisions for downstream delivery.
type Publisher interface {
	Publish(d *decision.Decision)
}

// Service wires the decision pipeline together.
type Service struct {
	guard       *idempotency.Guard
	coordinator *fanout.Coordinator
	fusionCfg   fusion.Config
	auditor     *audit.Writer
	store       DecisionStore
	recorder    velocity.Recorder
	publisher   Publisher
	broadcaster Broadcaster
	logger      *slog.Logger
}

// NewService creates the decision service. recorder, publisher, and
// broadcaster may be nil; the corresponding side effects are skipped.
func NewService(
	guard *idempotency.Guard,
	coordinator *fanout.Coordinator,
	fusionCfg fusion.Config,
	auditor *audit.Writer,
	store DecisionStore,
	recorder velocity.Recorder,
	publisher Publisher,
	broadcaster Broadcaster,
	logger *slog.Logger,
) *Service {
	return &Service{
		guard:       guard,
		coordinator: coordinator,
		fusionCfg:   fusionCfg.Normalize(),
		auditor:     auditor,
		store:       store,
		recorder:    recorder,
		publisher:   publisher,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// Score produces the decision for one transaction. The only error cases
// are request validation and an unavailable audit log; everything else
// resolves to a verdict.
func (s *Service) Score(ctx context.Context, req *decision.ScoreRequest) (*decision.Decision, error) {
	if errs := decision.ValidateScoreRequest(req); len(errs) > 0 {
		return nil, errs
	}

	ctx, span := traces.StartSpan(ctx, "decision.score",
		traces.TenantID(req.TenantID), traces.EventID(req.EventID))
	defer span.End()

	dec, cached, err := s.guard.GetOrCompute(ctx, req.TenantID, req.IdempotencyKey, func(ctx context.Context) (*decision.Decision, error) {
		return s.decide(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	if cached {
		metrics.IdempotentHitsTotal.Inc()
		// The cached record keeps its original timings; only the replay
		// flag differs per response.
		cp := *dec
		cp.Latency.Idempotent = true
		return &cp, nil
	}
	return dec, nil
}

// decide runs the non-cached path: fan-out, fusion, audit, side effects.
func (s *Service) decide(ctx context.Context, req *decision.ScoreRequest) (*decision.Decision, error) {
	started := time.Now()
	txc := decision.ContextFromRequest(req)

	result, runErr := s.coordinator.Run(ctx, txc)

	var outcome fusion.Outcome
	fusionStart := time.Now()
	if runErr != nil {
		// Nothing usable came back. Failing closed is the only safe
		// answer for a fraud gate.
		outcome = fusion.Outcome{
			Verdict: decision.VerdictDeny,
			Reasons: []string{"fail-safe denial: no decision inputs available"},
		}
		metrics.FailSafeDenialsTotal.Inc()
	} else {
		in := fusion.Input{Amount: txc.Amount()}
		if result.Rules != nil {
			in.Matches = result.Rules.Matches
			in.HasDeny = result.Rules.HasDeny
		}
		if result.Score != nil {
			score := result.Score.Score
			in.Score = &score
		}
		outcome = fusion.Fuse(s.fusionCfg, in)
	}
	fusionElapsed := time.Since(fusionStart)

	dec := &decision.Decision{
		ID:             idgen.WithPrefix("dec_"),
		EventID:        req.EventID,
		TenantID:       req.TenantID,
		Verdict:        outcome.Verdict,
		RuleSetVersion: result.RuleSetVersion,
		Reasons:        outcome.Reasons,
		StrongAuth:     outcome.StrongAuth,
		Degraded:       runErr != nil || result.Degraded,
		CreatedAt:      time.Now().UTC(),
	}
	if result.Rules != nil {
		dec.Matches = result.Rules.Matches
	}
	if result.Score != nil {
		score := result.Score.Score
		dec.Score = &score
		dec.ModelVersion = result.Score.ModelVersion
	}
	if dec.Degraded {
		dec.Reasons = append(dec.Reasons, result.Notes...)
	}

	s.recordDegradation(result, runErr)

	auditStart := time.Now()
	if _, err := s.auditor.Record(ctx, dec); err != nil {
		// A decision we cannot audit is a decision we cannot release.
		metrics.AuditAppendErrorsTotal.Inc()
		s.logger.Error("audit record failed, withholding decision",
			"tenant_id", dec.TenantID, "event_id", dec.EventID, "error", err)
		return nil, err
	}
	metrics.AuditAppendsTotal.Inc()

	dec.Latency = decision.LatencyBreakdown{
		RulesUs:  result.RulesElapsed.Microseconds(),
		ScorerUs: result.ScoreElapsed.Microseconds(),
		FusionUs: fusionElapsed.Microseconds(),
		AuditUs:  time.Since(auditStart).Microseconds(),
		TotalUs:  time.Since(started).Microseconds(),
	}

	metrics.DecisionsTotal.WithLabelValues(string(dec.Verdict)).Inc()
	metrics.DecisionDuration.Observe(time.Since(started).Seconds())

	if err := s.store.Create(ctx, dec); err != nil {
		// Reads degrade; the audit chain already holds the record.
		s.logger.Warn("decision store write failed", "decision_id", dec.ID, "error", err)
	}

	s.recordVelocity(ctx, req, txc)

	if s.publisher != nil {
		s.publisher.Publish(dec)
	}
	if s.broadcaster != nil {
		s.broadcaster.BroadcastDecision(dec)
	}

	s.logger.Info("decision finalized",
		"decision_id", dec.ID,
		"tenant_id", dec.TenantID,
		"event_id", dec.EventID,
		"verdict", dec.Verdict,
		"degraded", dec.Degraded,
		"total_us", dec.Latency.TotalUs,
	)
	return dec, nil
}

// GetDecision returns a stored decision scoped to its tenant.
func (s *Service) GetDecision(ctx context.Context, tenantID, id string) (*decision.Decision, error) {
	return s.store.Get(ctx, tenantID, id)
}

// ListDecisionsByEvent returns the decision history of one event, oldest
// first. Corrections append; they never replace.
func (s *Service) ListDecisionsByEvent(ctx context.Context, tenantID, eventID string) ([]*decision.Decision, error) {
	return s.store.ListByEvent(ctx, tenantID, eventID)
}

// ListDecisions returns a page of the tenant's decisions, newest first.
func (s *Service) ListDecisions(ctx context.Context, tenantID string, before *pagination.Cursor, limit int) ([]*decision.Decision, error) {
	return s.store.ListByTenant(ctx, tenantID, before, limit)
}

func (s *Service) recordDegradation(result *fanout.Result, runErr error) {
	if runErr != nil {
		metrics.DegradedDecisionsTotal.WithLabelValues("all").Inc()
		return
	}
	if result.RulesErr != nil {
		metrics.DegradedDecisionsTotal.WithLabelValues("rules").Inc()
	}
	if result.ScoreErr != nil {
		metrics.DegradedDecisionsTotal.WithLabelValues("score").Inc()
	}
}

// velocityAttrs are the context attributes recorded as counter keys. They
// mirror what rule authors reference in velocity_* and sum_* calls.
var velocityAttrs = []string{"card.number", "device.id", "ip", "merchant.id"}

func (s *Service) recordVelocity(ctx context.Context, req *decision.ScoreRequest, txc *decision.TransactionContext) {
	if s.recorder == nil {
		return
	}
	at := req.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	for _, attr := range velocityAttrs {
		v := txc.Get(attr)
		if v.Kind != decision.KindString || v.Str == "" {
			continue
		}
		key := attr + "=" + v.Str
		if err := s.recorder.Record(ctx, key, req.Amount, at); err != nil {
			s.logger.Warn("velocity record failed", "key", attr, "error", err)
		}
	}
}
