// Package offline holds the durable local action queue and the
// reconciliation engine that drains it through the live acceptance path
// once connectivity returns.
package offline

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/valyala/bytebufferpool"

	"biocollab/pkg/logger"
	"biocollab/pkg/models"
	"biocollab/pkg/store"
	"biocollab/pkg/utils"
)

const (
	opEnqueue = "enqueue"
	opAck     = "ack"
	opFail    = "fail"
	opAttempt = "attempt"
)

// queueEntry is one journal record. Enqueue entries carry the full action;
// ack/fail/attempt entries reference it by local id.
type queueEntry struct {
	Op      string               `json:"op"`
	Action  *models.QueuedAction `json:"action,omitempty"`
	LocalID string               `json:"local_id,omitempty"`
}

// Queue is the durable FIFO of actions recorded while offline. Every
// mutation is journaled before it is visible, so the pending set survives
// process restart; a queued action leaves the queue only on acknowledged
// success or terminal failure.
type Queue struct {
	mu      sync.Mutex
	j       *journal
	order   []string
	pending map[string]*models.QueuedAction
}

// OpenQueue opens (or recovers) the durable queue journaled under dir.
func OpenQueue(dir string) (*Queue, error) {
	j, err := openJournal(dir, 0)
	if err != nil {
		return nil, err
	}
	q := &Queue{j: j, pending: make(map[string]*models.QueuedAction)}
	err = j.recover(func(rec journalRecord) error {
		var e queueEntry
		if err := json.Unmarshal(rec.data, &e); err != nil {
			logger.Warn("queue_entry_unmarshal_failed", "offset", rec.offset, "err", err)
			return nil
		}
		switch e.Op {
		case opEnqueue:
			if e.Action == nil || e.Action.LocalID == "" {
				return nil
			}
			if _, ok := q.pending[e.Action.LocalID]; !ok {
				q.pending[e.Action.LocalID] = e.Action
				q.order = append(q.order, e.Action.LocalID)
			}
		case opAck, opFail:
			q.remove(e.LocalID)
		case opAttempt:
			if a, ok := q.pending[e.LocalID]; ok {
				a.Attempts++
			}
		}
		return nil
	})
	if err != nil {
		_ = j.close()
		return nil, err
	}
	logger.Info("offline_queue_opened", "dir", dir, "pending", len(q.order))
	return q, nil
}

// Enqueue journals an action and appends it to the pending set. A missing
// LocalID or CreatedTS is filled in; the LocalID is returned.
func (q *Queue) Enqueue(a models.QueuedAction) (string, error) {
	if !a.Kind.Valid() {
		return "", fmt.Errorf("unknown action kind %q", a.Kind)
	}
	if a.LocalID == "" {
		a.LocalID = utils.GenActionID()
	}
	if a.CreatedTS == 0 {
		a.CreatedTS = store.NowTS()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, dup := q.pending[a.LocalID]; dup {
		return a.LocalID, nil
	}
	if err := q.appendLocked(queueEntry{Op: opEnqueue, Action: &a}); err != nil {
		return "", err
	}
	q.pending[a.LocalID] = &a
	q.order = append(q.order, a.LocalID)
	logger.Debug("action_queued", "local_id", a.LocalID, "kind", a.Kind, "room", a.RoomID)
	return a.LocalID, nil
}

// Pending returns the queued actions in FIFO (CreatedTS) order.
func (q *Queue) Pending() []models.QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.QueuedAction, 0, len(q.order))
	for _, id := range q.order {
		if a, ok := q.pending[id]; ok {
			out = append(out, *a)
		}
	}
	return out
}

// Len reports the number of pending actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Ack removes a successfully applied action. When the queue empties, old
// journal files are truncated.
func (q *Queue) Ack(localID string) error {
	return q.finish(opAck, localID)
}

// Fail removes a terminally rejected action. The caller is responsible for
// preserving the payload as a failed-sync item before calling Fail.
func (q *Queue) Fail(localID string) error {
	return q.finish(opFail, localID)
}

// BumpAttempts journals one more delivery attempt for a retryable failure.
func (q *Queue) BumpAttempts(localID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	a, ok := q.pending[localID]
	if !ok {
		return nil
	}
	if err := q.appendLocked(queueEntry{Op: opAttempt, LocalID: localID}); err != nil {
		return err
	}
	a.Attempts++
	return nil
}

// Close flushes and closes the backing journal.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.j.close()
}

func (q *Queue) finish(op, localID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.pending[localID]; !ok {
		return nil
	}
	if err := q.appendLocked(queueEntry{Op: op, LocalID: localID}); err != nil {
		return err
	}
	q.remove(localID)
	if len(q.order) == 0 {
		// everything settled; drop fully-consumed journal files
		if err := q.j.truncateBefore(q.j.nextSeq()); err != nil {
			logger.Warn("queue_truncate_failed", "err", err)
		}
	}
	return nil
}

func (q *Queue) appendLocked(e queueEntry) error {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	if err := json.NewEncoder(bb).Encode(e); err != nil {
		return fmt.Errorf("failed to encode queue entry: %w", err)
	}
	if _, err := q.j.append(bb.B); err != nil {
		return fmt.Errorf("failed to journal queue entry: %w", err)
	}
	return nil
}

func (q *Queue) remove(localID string) {
	if _, ok := q.pending[localID]; !ok {
		return
	}
	delete(q.pending, localID)
	for i, id := range q.order {
		if id == localID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}
