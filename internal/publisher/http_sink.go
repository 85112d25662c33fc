package publisher

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cardinalpay/arbiter/internal/decision"
	"github.com/cardinalpay/arbiter/internal/idgen"
)

// HTTPSink posts decisions to a consumer webhook. Payloads are signed with
// HMAC-SHA256 so the consumer can authenticate the sender.
type HTTPSink struct {
	url    string
	secret string
	client *http.Client
}

// NewHTTPSink creates a sink posting to url. If secret is non-empty each
// request carries an X-Arbiter-Signature header.
func NewHTTPSink(url, secret string) *HTTPSink {
	return &HTTPSink{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type event struct {
	ID        string             `json:"id"`
	Type      string             `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
	Decision  *decision.Decision `json:"decision"`
}

func (s *HTTPSink) Deliver(ctx context.Context, d *decision.Decision) error {
	payload, err := json.Marshal(event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      "decision.finalized",
		Timestamp: time.Now().UTC(),
		Decision:  d,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.secret != "" {
		req.Header.Set("X-Arbiter-Signature", signPayload(s.secret, payload))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("consumer returned status %d", resp.StatusCode)
	}
	return nil
}

func signPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
