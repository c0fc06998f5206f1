package offline

import (
	"context"
	"sync"
	"time"

	"biocollab/pkg/faults"
	"biocollab/pkg/logger"
	"biocollab/pkg/models"
	"biocollab/pkg/store"
	"biocollab/pkg/telemetry"
)

// FailedItem is a queued action that was terminally rejected during
// reconciliation. The original payload is preserved for user inspection and
// the item stays visible until acknowledged.
type FailedItem struct {
	Action models.QueuedAction `json:"action"`
	Reason string              `json:"reason"`
	// TS timestamp (ns) of the rejection
	TS int64 `json:"ts"`
}

// Result summarizes one reconciliation pass.
type Result struct {
	Applied int `json:"applied"`
	Retried int `json:"retried"`
	Failed  int `json:"failed"`
}

// EngineConfig bounds the centralized retry policy. Zero values take the
// defaults.
type EngineConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (c *EngineConfig) defaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
}

// Engine drains the durable queue through the dispatcher when connectivity
// returns. Retry policy lives here and only here: retryable failures stay
// queued with bounded exponential backoff, terminal failures move to the
// failed-sync list.
type Engine struct {
	q   *Queue
	d   *Dispatcher
	cfg EngineConfig

	notify chan struct{}

	mu      sync.Mutex
	failed  []FailedItem
	applied uint64
}

// NewEngine builds an engine over the queue and dispatcher.
func NewEngine(q *Queue, d *Dispatcher, cfg EngineConfig) *Engine {
	cfg.defaults()
	return &Engine{q: q, d: d, cfg: cfg, notify: make(chan struct{}, 1)}
}

// Notify signals that connectivity was restored. Safe to call from any
// goroutine; coalesces while a drain is in flight.
func (e *Engine) Notify() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is done, draining the queue on every Notify and
// re-draining with exponential backoff while retryable actions remain.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.notify:
		}
		backoff := e.cfg.BaseBackoff
		for {
			res := e.Drain()
			if res.Retried == 0 {
				break
			}
			logger.Info("reconcile_backoff", "retried", res.Retried, "sleep", backoff.String())
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > e.cfg.MaxBackoff {
				backoff = e.cfg.MaxBackoff
			}
		}
	}
}

// Drain performs one reconciliation pass: every pending action, in FIFO
// order, through the same acceptance path a live client uses. Duplicate
// replay after a crash is safe: votes are last-write-wins and annotation
// creation dedupes on the client local id.
func (e *Engine) Drain() Result {
	var res Result
	for _, a := range e.q.Pending() {
		err := e.d.Apply(a)
		switch {
		case err == nil:
			if aerr := e.q.Ack(a.LocalID); aerr != nil {
				logger.Error("reconcile_ack_failed", "local_id", a.LocalID, "err", aerr)
			}
			e.mu.Lock()
			e.applied++
			e.mu.Unlock()
			res.Applied++
			telemetry.ReplayOutcomes.WithLabelValues("applied").Inc()

		case !faults.Retryable(err):
			// terminal: surface, never retry
			e.mu.Lock()
			e.failed = append(e.failed, FailedItem{Action: a, Reason: err.Error(), TS: store.NowTS()})
			e.mu.Unlock()
			if ferr := e.q.Fail(a.LocalID); ferr != nil {
				logger.Error("reconcile_fail_mark_failed", "local_id", a.LocalID, "err", ferr)
			}
			res.Failed++
			telemetry.ReplayOutcomes.WithLabelValues("failed").Inc()
			logger.Warn("reconcile_action_rejected", "local_id", a.LocalID, "kind", a.Kind, "err", err)

		case a.Attempts+1 >= e.cfg.MaxAttempts:
			// retry budget exhausted; treat as failed-sync
			e.mu.Lock()
			e.failed = append(e.failed, FailedItem{Action: a, Reason: err.Error(), TS: store.NowTS()})
			e.mu.Unlock()
			if ferr := e.q.Fail(a.LocalID); ferr != nil {
				logger.Error("reconcile_fail_mark_failed", "local_id", a.LocalID, "err", ferr)
			}
			res.Failed++
			telemetry.ReplayOutcomes.WithLabelValues("failed").Inc()
			logger.Warn("reconcile_retries_exhausted", "local_id", a.LocalID, "kind", a.Kind, "attempts", a.Attempts+1, "err", err)

		default:
			if berr := e.q.BumpAttempts(a.LocalID); berr != nil {
				logger.Error("reconcile_bump_failed", "local_id", a.LocalID, "err", berr)
			}
			res.Retried++
			telemetry.ReplayOutcomes.WithLabelValues("retried").Inc()
			logger.Info("reconcile_action_retryable", "local_id", a.LocalID, "kind", a.Kind, "err", err)
		}
	}
	telemetry.QueuedActions.Set(float64(e.q.Len()))
	logger.Info("reconcile_pass_done", "applied", res.Applied, "retried", res.Retried, "failed", res.Failed, "pending", e.q.Len())
	return res
}

// Applied returns the total number of successfully replayed actions.
func (e *Engine) Applied() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applied
}

// FailedItems returns the terminally rejected actions still awaiting user
// acknowledgment.
func (e *Engine) FailedItems() []FailedItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]FailedItem, len(e.failed))
	copy(out, e.failed)
	return out
}

// AckFailed clears a failed-sync item once the user has acknowledged it.
// Reports whether the item existed.
func (e *Engine) AckFailed(localID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.failed {
		if e.failed[i].Action.LocalID == localID {
			e.failed = append(e.failed[:i], e.failed[i+1:]...)
			return true
		}
	}
	return false
}
