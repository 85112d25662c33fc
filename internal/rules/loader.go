package rules

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultRefreshInterval is how often the loader polls the repository.
const DefaultRefreshInterval = 30 * time.Second

// Repository is the external source of rule definitions, polled on a TTL.
type Repository interface {
	ListEnabled(ctx context.Context) ([]*Rule, error)
}

// Loader keeps the active RuleSet snapshot fresh. The snapshot lives
// behind an atomic pointer: readers never block the refresh and a refresh
// never exposes a half-built set to an in-flight evaluation.
type Loader struct {
	repo     Repository
	interval time.Duration
	logger   *slog.Logger

	active  atomic.Pointer[RuleSet]
	running atomic.Bool
	stop    chan struct{}
}

// NewLoader creates a loader. Call Refresh once at startup, then Start in
// a goroutine.
func NewLoader(repo Repository, interval time.Duration, logger *slog.Logger) *Loader {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	l := &Loader{
		repo:     repo,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
	empty, _ := BuildRuleSet(nil)
	l.active.Store(empty)
	return l
}

// Active returns the current immutable snapshot. Never nil.
func (l *Loader) Active() *RuleSet {
	return l.active.Load()
}

// Refresh fetches rules from the repository and atomically swaps in a new
// snapshot. Rules that fail to compile are logged and excluded; the rest
// of the set still loads. On repository failure the previous snapshot
// stays active.
func (l *Loader) Refresh(ctx context.Context) error {
	raw, err := l.repo.ListEnabled(ctx)
	if err != nil {
		l.logger.Warn("rule refresh failed, keeping previous snapshot", "error", err)
		return err
	}

	snapshot, compileErrs := BuildRuleSet(raw)
	for _, ce := range compileErrs {
		l.logger.Error("rule excluded from active set", "rule_id", ce.RuleID, "error", ce.Err)
	}

	prev := l.active.Swap(snapshot)
	if prev == nil || prev.Version != snapshot.Version {
		l.logger.Info("rule set refreshed",
			"version", snapshot.Version,
			"rules", snapshot.Len(),
			"excluded", len(compileErrs),
		)
	}
	return nil
}

// Running reports whether the refresh loop is active.
func (l *Loader) Running() bool { return l.running.Load() }

// Start begins the TTL refresh loop. Call in a goroutine.
func (l *Loader) Start(ctx context.Context) {
	l.running.Store(true)
	defer l.running.Store(false)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		case <-ticker.C:
			_ = l.Refresh(ctx)
		}
	}
}

// Stop terminates the refresh loop.
func (l *Loader) Stop() {
	close(l.stop)
}
