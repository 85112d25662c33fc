// Package scorer calls the ML risk scoring service. The scorer is advisory:
// its result carries a probability-of-fraud in [0,1] and the model version
// that produced it, and the caller tolerates its absence.
package scorer

import (
	"context"
	"errors"
	"fmt"

	"github.com/cardinalpay/arbiter/internal/decision"
)

// ErrUnavailable is returned when the scoring service cannot answer.
var ErrUnavailable = errors.New("scorer: service unavailable")

// Result is one scoring outcome.
type Result struct {
	Score        float64 `json:"score"`
	ModelVersion string  `json:"modelVersion"`
}

// Scorer produces a risk score for a transaction context.
type Scorer interface {
	Score(ctx context.Context, txc *decision.TransactionContext) (*Result, error)
}

// validate rejects scores outside [0,1]. A model emitting out-of-range
// values is treated the same as an unavailable one.
func validate(r *Result) error {
	if r.Score < 0 || r.Score > 1 {
		return fmt.Errorf("%w: score %v out of range", ErrUnavailable, r.Score)
	}
	return nil
}

// Static always returns the same result. Used in tests and as a stand-in
// when no scoring service is configured.
type Static struct {
	Result Result
	Err    error
}

func (s *Static) Score(_ context.Context, _ *decision.TransactionContext) (*Result, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	r := s.Result
	if err := validate(&r); err != nil {
		return nil, err
	}
	return &r, nil
}
