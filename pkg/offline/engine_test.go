package offline

import (
	"encoding/json"
	"testing"

	"biocollab/pkg/annotations"
	"biocollab/pkg/models"
	"biocollab/pkg/registry"
	"biocollab/pkg/store"
)

func setupAcceptance(t *testing.T) (*registry.Registry, *annotations.Store, models.Session) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	reg := registry.New()
	s, err := reg.CreateSession("reef survey", "", "alice")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := reg.JoinSession(s.ID, "bob", models.RoleEditor); err != nil {
		t.Fatalf("join bob: %v", err)
	}
	return reg, annotations.New(reg), s
}

func queuedCreate(localID, roomID string, seq string) models.QueuedAction {
	payload, _ := json.Marshal(models.CreateAnnotationPayload{
		SequenceID: seq,
		Position:   models.Position{Start: 140, End: 162},
		Content:    "possible chimera",
	})
	return models.QueuedAction{
		LocalID:     localID,
		Kind:        models.ActionCreateAnnotation,
		RoomID:      roomID,
		ScientistID: "bob",
		Payload:     payload,
	}
}

func queuedReview(localID, roomID, seq string, kind models.ActionKind) models.QueuedAction {
	payload, _ := json.Marshal(models.ReviewPayload{SequenceID: seq})
	return models.QueuedAction{
		LocalID:     localID,
		Kind:        kind,
		RoomID:      roomID,
		ScientistID: "bob",
		Payload:     payload,
	}
}

func TestDrainAppliesInOrder(t *testing.T) {
	reg, ann, s := setupAcceptance(t)
	d := NewDispatcher(reg, ann, nil)
	q, err := OpenQueue(t.TempDir())
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	defer q.Close()
	e := NewEngine(q, d, EngineConfig{})

	// flag then validate: the later action must win after replay
	if _, err := q.Enqueue(queuedReview("l1", s.ID, "seq-42", models.ActionFlag)); err != nil {
		t.Fatalf("enqueue flag: %v", err)
	}
	if _, err := q.Enqueue(queuedReview("l2", s.ID, "seq-42", models.ActionValidate)); err != nil {
		t.Fatalf("enqueue validate: %v", err)
	}

	res := e.Drain()
	if res.Applied != 2 || res.Failed != 0 || res.Retried != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if q.Len() != 0 {
		t.Fatalf("queue not drained: %d", q.Len())
	}

	revs, err := ann.ListReviews(s.ID)
	if err != nil {
		t.Fatalf("list reviews: %v", err)
	}
	if len(revs) != 1 || revs[0].Status != models.ReviewValidated {
		t.Fatalf("replay order broken: %+v", revs)
	}
	if e.Applied() != 2 {
		t.Fatalf("applied counter = %d", e.Applied())
	}
}

func TestDrainTerminalRejection(t *testing.T) {
	reg, ann, s := setupAcceptance(t)
	d := NewDispatcher(reg, ann, nil)
	q, err := OpenQueue(t.TempDir())
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	defer q.Close()
	e := NewEngine(q, d, EngineConfig{})

	// mallory never joined; permission errors are terminal
	bad := queuedCreate("l-bad", s.ID, "seq-42")
	bad.ScientistID = "mallory"
	if _, err := q.Enqueue(bad); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Enqueue(queuedCreate("l-good", s.ID, "seq-42")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	res := e.Drain()
	if res.Applied != 1 || res.Failed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	// rejection does not abort the rest of the batch
	list, err := ann.ListByRoom(s.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].CreatedBy != "bob" {
		t.Fatalf("expected bob's annotation only, got %+v", list)
	}

	failed := e.FailedItems()
	if len(failed) != 1 || failed[0].Action.LocalID != "l-bad" {
		t.Fatalf("unexpected failed items: %+v", failed)
	}
	if failed[0].Reason == "" {
		t.Fatalf("failed item lost its reason")
	}

	// acknowledge clears it; acknowledging twice reports absence
	if !e.AckFailed("l-bad") {
		t.Fatalf("ack failed item")
	}
	if e.AckFailed("l-bad") {
		t.Fatalf("double ack should report missing")
	}
	if len(e.FailedItems()) != 0 {
		t.Fatalf("failed list not cleared")
	}
}

func TestDrainReplaySafeAfterCrash(t *testing.T) {
	reg, ann, s := setupAcceptance(t)
	d := NewDispatcher(reg, ann, nil)
	q, err := OpenQueue(t.TempDir())
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	defer q.Close()
	e := NewEngine(q, d, EngineConfig{})

	act := queuedCreate("l-crash", s.ID, "seq-42")
	if _, err := q.Enqueue(act); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// the action was applied but the process died before the ack was
	// journaled; on restart the drain replays it
	if err := d.Apply(act); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	res := e.Drain()
	if res.Applied != 1 {
		t.Fatalf("replay result: %+v", res)
	}

	list, err := ann.ListByRoom(s.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("replay created a duplicate annotation: %d", len(list))
	}
}

func TestDrainRetryableKeepsAction(t *testing.T) {
	reg, ann, s := setupAcceptance(t)
	d := NewDispatcher(reg, ann, nil)
	q, err := OpenQueue(t.TempDir())
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	defer q.Close()
	e := NewEngine(q, d, EngineConfig{MaxAttempts: 3})

	if _, err := q.Enqueue(queuedCreate("l1", s.ID, "seq-42")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// simulate the backend being unreachable
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}
	res := e.Drain()
	if res.Retried != 1 || res.Failed != 0 {
		t.Fatalf("expected a retryable outcome, got %+v", res)
	}
	if q.Len() != 1 {
		t.Fatalf("retryable action must stay queued")
	}
	if got := q.Pending()[0].Attempts; got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}

	// a second failing pass exhausts the budget on the third
	if res := e.Drain(); res.Retried != 1 {
		t.Fatalf("second pass: %+v", res)
	}
	if res := e.Drain(); res.Failed != 1 {
		t.Fatalf("third pass should exhaust retries: %+v", res)
	}
	if q.Len() != 0 {
		t.Fatalf("exhausted action must leave the queue")
	}
	if len(e.FailedItems()) != 1 {
		t.Fatalf("exhausted action must surface as failed-sync")
	}
}

func TestDispatcherUnknownKind(t *testing.T) {
	reg, ann, s := setupAcceptance(t)
	d := NewDispatcher(reg, ann, nil)
	err := d.Apply(models.QueuedAction{Kind: models.ActionKind("nope"), RoomID: s.ID, ScientistID: "bob"})
	if err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
