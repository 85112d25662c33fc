package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cardinalpay/arbiter/internal/decision"
	"github.com/cardinalpay/arbiter/internal/idgen"
)

const chainChanSize = 256

// Writer serializes appends per chain. Exactly one goroutine extends any
// given chain, so prev_hash linkage can never race; different chains
// proceed independently. Append blocks until the entry is durable, because
// a decision must not be released before its audit record exists.
type Writer struct {
	store  Store
	signer *Signer
	logger *slog.Logger

	mu     sync.Mutex
	chains map[string]*chainWriter
	closed bool
}

// NewWriter creates a writer over the given store.
func NewWriter(store Store, signer *Signer, logger *slog.Logger) *Writer {
	return &Writer{
		store:  store,
		signer: signer,
		logger: logger,
		chains: make(map[string]*chainWriter),
	}
}

type appendReq struct {
	ctx   context.Context
	entry *Entry
	reply chan appendReply
}

type appendReply struct {
	entry *Entry
	err   error
}

type chainWriter struct {
	chainID string
	ch      chan appendReq
	stop    chan struct{}
}

// Record builds, links, signs, and persists an audit entry for a decision.
// It returns the completed entry with its hash and signature filled in.
func (w *Writer) Record(ctx context.Context, d *decision.Decision) (*Entry, error) {
	entry := &Entry{
		ID:             idgen.WithPrefix("aud_"),
		ChainID:        d.TenantID,
		DecisionID:     d.ID,
		EventID:        d.EventID,
		Verdict:        string(d.Verdict),
		Score:          d.Score,
		RuleSetVersion: d.RuleSetVersion,
		ModelVersion:   d.ModelVersion,
		Reasons:        d.Reasons,
		Degraded:       d.Degraded,
		// Truncated to microseconds so the hash survives a TIMESTAMPTZ
		// round trip.
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	return w.Append(ctx, entry)
}

// Append routes the entry to its chain's writer goroutine and waits for
// the result.
func (w *Writer) Append(ctx context.Context, entry *Entry) (*Entry, error) {
	cw, err := w.chain(entry.ChainID)
	if err != nil {
		return nil, err
	}

	req := appendReq{ctx: ctx, entry: entry, reply: make(chan appendReply, 1)}
	select {
	case cw.ch <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case rep := <-req.reply:
		return rep.entry, rep.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops all chain writers. Pending appends already queued are still
// processed before each writer exits.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	for _, cw := range w.chains {
		close(cw.stop)
	}
}

func (w *Writer) chain(chainID string) (*chainWriter, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, context.Canceled
	}
	cw, ok := w.chains[chainID]
	if !ok {
		cw = &chainWriter{
			chainID: chainID,
			ch:      make(chan appendReq, chainChanSize),
			stop:    make(chan struct{}),
		}
		w.chains[chainID] = cw
		go w.run(cw)
	}
	return cw, nil
}

// run is the single writer for one chain. It loads the chain head once,
// then extends in memory, so steady-state appends cost one store write.
func (w *Writer) run(cw *chainWriter) {
	var (
		lastHash string
		lastSeq  int64
		loaded   bool
	)

	for {
		select {
		case <-cw.stop:
			w.drain(cw, &lastHash, &lastSeq, &loaded)
			return
		case req := <-cw.ch:
			w.handle(cw, req, &lastHash, &lastSeq, &loaded)
		}
	}
}

func (w *Writer) drain(cw *chainWriter, lastHash *string, lastSeq *int64, loaded *bool) {
	for {
		select {
		case req := <-cw.ch:
			w.handle(cw, req, lastHash, lastSeq, loaded)
		default:
			return
		}
	}
}

func (w *Writer) handle(cw *chainWriter, req appendReq, lastHash *string, lastSeq *int64, loaded *bool) {
	if !*loaded {
		head, err := w.store.Last(req.ctx, cw.chainID)
		if err != nil {
			req.reply <- appendReply{err: err}
			return
		}
		if head != nil {
			*lastHash = head.Hash
			*lastSeq = head.Seq
		}
		*loaded = true
	}

	entry := req.entry
	entry.Seq = *lastSeq + 1
	entry.PrevHash = *lastHash
	entry.Hash = entry.ComputeHash()
	entry.Signature = w.signer.Sign(entry.Hash)

	if err := w.store.Append(req.ctx, entry); err != nil {
		w.logger.Error("audit append failed", "chain_id", cw.chainID, "seq", entry.Seq, "error", err)
		req.reply <- appendReply{err: err}
		return
	}

	*lastHash = entry.Hash
	*lastSeq = entry.Seq
	req.reply <- appendReply{entry: entry}
}
