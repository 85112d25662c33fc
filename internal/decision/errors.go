package decision

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy for the decisioning core. Dependency-level failures are
// absorbed into degraded decisions; only validation failures and total
// inability to produce a fail-safe verdict surface to the caller.
var (
	// ErrTimeout marks a dependency that exceeded its sub-budget.
	ErrTimeout = errors.New("dependency timed out")
	// ErrDependencyUnavailable marks an unreachable scorer or gateway.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	// ErrTotalFailure means both the rules path and the scorer failed;
	// the service responds with a fail-safe DENY and audits the failure.
	ErrTotalFailure = errors.New("rules and scorer both unavailable")
	// ErrIntegrity marks an audit chain verification failure. Fatal for
	// the audit subsystem; never silently ignored.
	ErrIntegrity = errors.New("audit chain integrity violation")
)

// ValidationError reports a malformed or missing request field. Requests
// failing validation are rejected before fan-out.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors aggregates all field problems in one rejection.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(e))
	for i, v := range e {
		parts[i] = v.Error()
	}
	return strings.Join(parts, "; ")
}

// ValidateScoreRequest checks the required fields of a score request.
func ValidateScoreRequest(req *ScoreRequest) ValidationErrors {
	var errs ValidationErrors
	if strings.TrimSpace(req.TenantID) == "" {
		errs = append(errs, ValidationError{Field: "tenantId", Message: "is required"})
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		errs = append(errs, ValidationError{Field: "idempotencyKey", Message: "is required"})
	}
	if strings.TrimSpace(req.EventID) == "" {
		errs = append(errs, ValidationError{Field: "eventId", Message: "is required"})
	}
	if req.Amount <= 0 {
		errs = append(errs, ValidationError{Field: "amount", Message: "must be greater than zero"})
	}
	if req.Currency == "" {
		errs = append(errs, ValidationError{Field: "currency", Message: "is required"})
	} else if len(req.Currency) != 3 {
		errs = append(errs, ValidationError{Field: "currency", Message: "must be a 3-letter ISO code"})
	}
	return errs
}

// CompileError reports a rule expression that failed to compile. A bad rule
// is excluded from the active set; it never fails a request.
type CompileError struct {
	RuleID string
	Err    error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.RuleID, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }
