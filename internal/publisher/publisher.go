// Package publisher delivers finalized decisions to downstream consumers
// (case management, analytics). Delivery is best effort and strictly after
// the decision is audited and returned: a dead consumer never slows or
// fails the decision path.
package publisher

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cardinalpay/arbiter/internal/decision"
	"github.com/cardinalpay/arbiter/internal/retry"
)

const (
	queueSize    = 1024
	maxAttempts  = 3
	retryBackoff = 250 * time.Millisecond
)

var (
	publishTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbiter",
		Subsystem: "publisher",
		Name:      "publish_total",
		Help:      "Total decision publish attempts by verdict.",
	}, []string{"verdict"})

	publishErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "arbiter",
		Subsystem: "publisher",
		Name:      "publish_errors_total",
		Help:      "Total decision publishes that failed after all retries.",
	})

	publishDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "arbiter",
		Subsystem: "publisher",
		Name:      "dropped_total",
		Help:      "Total decisions dropped because the publish queue was full.",
	})
)

func init() {
	prometheus.MustRegister(publishTotal, publishErrors, publishDropped)
}

// Sink is one delivery target.
type Sink interface {
	Deliver(ctx context.Context, d *decision.Decision) error
}

// Publisher drains a bounded queue into the sink with retries. When the
// queue is full the oldest-first guarantee is kept by dropping the new
// decision and counting it; the decision itself is already durable in the
// audit log.
type Publisher struct {
	sink   Sink
	logger *slog.Logger

	ch      chan *decision.Decision
	stop    chan struct{}
	running atomic.Bool
	dropped atomic.Int64
}

// New creates a publisher over the given sink.
func New(sink Sink, logger *slog.Logger) *Publisher {
	return &Publisher{
		sink:   sink,
		logger: logger,
		ch:     make(chan *decision.Decision, queueSize),
		stop:   make(chan struct{}),
	}
}

// Publish enqueues a decision. Non-blocking: drops and counts if the queue
// is full.
func (p *Publisher) Publish(d *decision.Decision) {
	select {
	case p.ch <- d:
	default:
		p.dropped.Add(1)
		publishDropped.Inc()
		p.logger.Warn("publish queue full, decision dropped",
			"decision_id", d.ID, "tenant_id", d.TenantID)
	}
}

// Dropped returns the number of decisions dropped due to a full queue.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

// Running reports whether the drain loop is active.
func (p *Publisher) Running() bool {
	return p.running.Load()
}

// Start drains the queue. Call in a goroutine.
func (p *Publisher) Start(ctx context.Context) {
	p.running.Store(true)
	defer p.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case d := <-p.ch:
			p.deliver(ctx, d)
		}
	}
}

// Stop signals the drain loop to exit.
func (p *Publisher) Stop() {
	select {
	case p.stop <- struct{}{}:
	default:
	}
}

func (p *Publisher) deliver(ctx context.Context, d *decision.Decision) {
	publishTotal.WithLabelValues(string(d.Verdict)).Inc()

	err := retry.Do(ctx, maxAttempts, retryBackoff, func() error {
		dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return p.sink.Deliver(dctx, d)
	})
	if err != nil {
		publishErrors.Inc()
		p.logger.Warn("decision publish failed after retries",
			"decision_id", d.ID, "tenant_id", d.TenantID, "error", err)
	}
}
