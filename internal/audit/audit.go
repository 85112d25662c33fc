// Package audit maintains the append-only, hash-chained decision log.
// Every decision, including fail-safe denials, lands here before the caller
// sees a verdict. Entries within a chain are linked by prev_hash and signed
// with HMAC-SHA256, so any later mutation or reordering is detectable.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

// ErrAppendOnly is returned by stores when something attempts to mutate an
// existing entry.
var ErrAppendOnly = errors.New("audit: log is append-only")

// Entry is one audit record. Fields are fixed so the canonical JSON used
// for hashing is deterministic; maps never appear in the hashed payload.
type Entry struct {
	ID             string    `json:"id"`
	ChainID        string    `json:"chainId"` // one chain per tenant
	Seq            int64     `json:"seq"`
	DecisionID     string    `json:"decisionId"`
	EventID        string    `json:"eventId"`
	Verdict        string    `json:"verdict"`
	Score          *float64  `json:"score"`
	RuleSetVersion string    `json:"ruleSetVersion,omitempty"`
	ModelVersion   string    `json:"modelVersion,omitempty"`
	Reasons        []string  `json:"reasons,omitempty"`
	Degraded       bool      `json:"degraded"`
	CreatedAt      time.Time `json:"createdAt"`
	PrevHash       string    `json:"prevHash"`
	Hash           string    `json:"hash"`
	Signature      string    `json:"signature"`
}

// entryPayload is the hashed portion of an entry: everything except the
// hash and signature themselves.
type entryPayload struct {
	ID             string    `json:"id"`
	ChainID        string    `json:"chainId"`
	Seq            int64     `json:"seq"`
	DecisionID     string    `json:"decisionId"`
	EventID        string    `json:"eventId"`
	Verdict        string    `json:"verdict"`
	Score          *float64  `json:"score"`
	RuleSetVersion string    `json:"ruleSetVersion,omitempty"`
	ModelVersion   string    `json:"modelVersion,omitempty"`
	Reasons        []string  `json:"reasons,omitempty"`
	Degraded       bool      `json:"degraded"`
	CreatedAt      time.Time `json:"createdAt"`
	PrevHash       string    `json:"prevHash"`
}

// canonical returns the deterministic JSON bytes the hash covers.
func (e *Entry) canonical() []byte {
	data, _ := json.Marshal(entryPayload{
		ID:             e.ID,
		ChainID:        e.ChainID,
		Seq:            e.Seq,
		DecisionID:     e.DecisionID,
		EventID:        e.EventID,
		Verdict:        e.Verdict,
		Score:          e.Score,
		RuleSetVersion: e.RuleSetVersion,
		ModelVersion:   e.ModelVersion,
		Reasons:        e.Reasons,
		Degraded:       e.Degraded,
		CreatedAt:      e.CreatedAt,
		PrevHash:       e.PrevHash,
	})
	return data
}

// ComputeHash returns the SHA-256 of the entry's canonical payload.
func (e *Entry) ComputeHash() string {
	sum := sha256.Sum256(e.canonical())
	return hex.EncodeToString(sum[:])
}

// Store persists audit entries. Implementations must reject mutation of
// existing rows; the chain is only ever extended.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	// Last returns the newest entry of a chain, or (nil, nil) for an empty
	// chain.
	Last(ctx context.Context, chainID string) (*Entry, error)
	// List returns a chain's entries in sequence order.
	List(ctx context.Context, chainID string, limit int) ([]*Entry, error)
}

// VerifyChain walks entries from genesis and checks linkage, content
// hashes, and signatures. It returns -1 when the chain is intact,
// otherwise the index of the first broken entry. A nil signer skips
// signature checks.
func VerifyChain(entries []*Entry, signer *Signer) int {
	return VerifyChainFrom(entries, signer, "", 0)
}

// VerifyChainFrom verifies entries as a suffix of a longer chain, anchored
// at the hash and sequence of the entry just before the slice. Any
// retroactive edit inside the suffix, or a mismatched anchor, is reported
// the same way VerifyChain reports it. An empty prevHash anchors at
// genesis.
func VerifyChainFrom(entries []*Entry, signer *Signer, prevHash string, prevSeq int64) int {
	anchored := prevHash != ""
	for i, e := range entries {
		if e.PrevHash != prevHash {
			return i
		}
		if (i > 0 || anchored) && e.Seq != prevSeq+1 {
			return i
		}
		if e.ComputeHash() != e.Hash {
			return i
		}
		if signer != nil && !signer.Verify(e.Hash, e.Signature) {
			return i
		}
		prevHash = e.Hash
		prevSeq = e.Seq
	}
	return -1
}
