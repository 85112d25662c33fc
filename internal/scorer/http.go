package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cardinalpay/arbiter/internal/decision"
)

// HTTPScorer calls an external scoring service over HTTP. The request body
// is the flattened transaction context; the response carries the score and
// model version.
type HTTPScorer struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTPScorer creates a scorer client. The client timeout is a backstop;
// the per-call context deadline from the fan-out coordinator is what
// normally bounds a request.
func NewHTTPScorer(url, apiKey string, timeout time.Duration) *HTTPScorer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPScorer{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

type scoreRequest struct {
	Attributes map[string]interface{} `json:"attributes"`
}

func (s *HTTPScorer) Score(ctx context.Context, txc *decision.TransactionContext) (*Result, error) {
	payload, err := json.Marshal(scoreRequest{Attributes: txc.Export()})
	if err != nil {
		return nil, fmt.Errorf("marshal score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if err := validate(&result); err != nil {
		return nil, err
	}
	return &result, nil
}
