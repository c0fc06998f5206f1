package annotations

import (
	"errors"
	"sync"
	"testing"

	"biocollab/pkg/faults"
	"biocollab/pkg/models"
	"biocollab/pkg/registry"
	"biocollab/pkg/store"
)

func setup(t *testing.T) (*registry.Registry, *Store, models.Session) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("failed to close store: %v", err)
		}
	})
	reg := registry.New()
	s, err := reg.CreateSession("reef survey", "dataset-7", "alice")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := reg.JoinSession(s.ID, "bob", models.RoleEditor); err != nil {
		t.Fatalf("join bob: %v", err)
	}
	if _, err := reg.JoinSession(s.ID, "carol", models.RoleViewer); err != nil {
		t.Fatalf("join carol: %v", err)
	}
	return reg, New(reg), s
}

func mustCreate(t *testing.T, ann *Store, roomID, author, localID string) models.Annotation {
	t.Helper()
	a, err := ann.CreateAnnotation(roomID, author, localID, models.CreateAnnotationPayload{
		SequenceID: "seq-42",
		Position:   models.Position{Start: 140, End: 162},
		Content:    "possible chimera",
	})
	if err != nil {
		t.Fatalf("create annotation: %v", err)
	}
	return a
}

func TestCreateAnnotationValidation(t *testing.T) {
	_, ann, s := setup(t)

	_, err := ann.CreateAnnotation(s.ID, "bob", "", models.CreateAnnotationPayload{
		Position: models.Position{Start: 1, End: 2},
	})
	if !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error for missing sequence, got %v", err)
	}

	_, err = ann.CreateAnnotation(s.ID, "bob", "", models.CreateAnnotationPayload{
		SequenceID: "seq-42",
		Position:   models.Position{Start: 10, End: 2},
	})
	if !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error for inverted position, got %v", err)
	}
}

func TestCreateAnnotationPermissions(t *testing.T) {
	_, ann, s := setup(t)

	// viewers cannot annotate
	_, err := ann.CreateAnnotation(s.ID, "carol", "", models.CreateAnnotationPayload{
		SequenceID: "seq-42",
		Position:   models.Position{Start: 1, End: 2},
	})
	if !errors.Is(err, faults.ErrPermission) {
		t.Fatalf("expected permission error for viewer, got %v", err)
	}

	// non-participants cannot annotate
	_, err = ann.CreateAnnotation(s.ID, "mallory", "", models.CreateAnnotationPayload{
		SequenceID: "seq-42",
		Position:   models.Position{Start: 1, End: 2},
	})
	if !errors.Is(err, faults.ErrPermission) {
		t.Fatalf("expected permission error for outsider, got %v", err)
	}
}

func TestCreateAnnotationDedup(t *testing.T) {
	_, ann, s := setup(t)

	first := mustCreate(t, ann, s.ID, "bob", "local-1")
	second := mustCreate(t, ann, s.ID, "bob", "local-1")
	if second.ID != first.ID {
		t.Fatalf("duplicate local id created a second annotation: %s vs %s", first.ID, second.ID)
	}

	list, err := ann.ListByRoom(s.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected exactly one annotation, got %d", len(list))
	}
}

func TestCreateAnnotationArchivedRoom(t *testing.T) {
	reg, ann, s := setup(t)
	if _, err := reg.ArchiveSession(s.ID, "alice"); err != nil {
		t.Fatalf("archive: %v", err)
	}
	_, err := ann.CreateAnnotation(s.ID, "bob", "", models.CreateAnnotationPayload{
		SequenceID: "seq-42",
		Position:   models.Position{Start: 1, End: 2},
	})
	if !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected not found for archived room, got %v", err)
	}

	// reads still work
	if _, err := ann.ListByRoom(s.ID); err != nil {
		t.Fatalf("archived room should stay readable: %v", err)
	}
}

func TestSubmitVoteValidation(t *testing.T) {
	_, ann, s := setup(t)
	a := mustCreate(t, ann, s.ID, "bob", "")

	if _, err := ann.SubmitVote(a.ID, "carol", models.VoteValue("maybe"), 50, 0); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error for bad value, got %v", err)
	}
	if _, err := ann.SubmitVote(a.ID, "carol", models.VoteConfirm, 101, 0); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error for confidence > 100, got %v", err)
	}
	if _, err := ann.SubmitVote("ann_missing", "carol", models.VoteConfirm, 50, 0); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected not found for unknown annotation, got %v", err)
	}
	if _, err := ann.SubmitVote(a.ID, "mallory", models.VoteConfirm, 50, 0); !errors.Is(err, faults.ErrPermission) {
		t.Fatalf("expected permission error for outsider, got %v", err)
	}
}

func TestSubmitVoteViewerAllowed(t *testing.T) {
	_, ann, s := setup(t)
	a := mustCreate(t, ann, s.ID, "bob", "")

	got, err := ann.SubmitVote(a.ID, "carol", models.VoteUncertain, 30, 0)
	if err != nil {
		t.Fatalf("viewer vote: %v", err)
	}
	if len(got.Votes) != 1 || got.Votes[0].Value != models.VoteUncertain {
		t.Fatalf("unexpected votes: %+v", got.Votes)
	}
}

func TestSubmitVoteLastWriteWins(t *testing.T) {
	_, ann, s := setup(t)
	a := mustCreate(t, ann, s.ID, "bob", "")

	if _, err := ann.SubmitVote(a.ID, "carol", models.VoteConfirm, 80, 100); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	got, err := ann.SubmitVote(a.ID, "carol", models.VoteReject, 60, 200)
	if err != nil {
		t.Fatalf("second vote: %v", err)
	}
	if len(got.Votes) != 1 {
		t.Fatalf("expected one vote per scientist, got %d", len(got.Votes))
	}
	if got.Votes[0].Value != models.VoteReject || got.Votes[0].TS != 200 {
		t.Fatalf("newer vote did not replace: %+v", got.Votes[0])
	}

	// stale replay in the other order is ignored
	got, err = ann.SubmitVote(a.ID, "carol", models.VoteConfirm, 80, 100)
	if err != nil {
		t.Fatalf("stale vote: %v", err)
	}
	if got.Votes[0].Value != models.VoteReject {
		t.Fatalf("stale vote overwrote newer one: %+v", got.Votes[0])
	}
}

func TestSubmitVoteEqualTimestampLaterApplied(t *testing.T) {
	_, ann, s := setup(t)
	a := mustCreate(t, ann, s.ID, "bob", "")

	if _, err := ann.SubmitVote(a.ID, "carol", models.VoteConfirm, 80, 100); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	got, err := ann.SubmitVote(a.ID, "carol", models.VoteReject, 70, 100)
	if err != nil {
		t.Fatalf("tied vote: %v", err)
	}
	if got.Votes[0].Value != models.VoteReject {
		t.Fatalf("on a timestamp tie the later applied vote must win: %+v", got.Votes[0])
	}
}

func TestSubmitVoteIdempotentReplay(t *testing.T) {
	_, ann, s := setup(t)
	a := mustCreate(t, ann, s.ID, "bob", "")

	if _, err := ann.SubmitVote(a.ID, "carol", models.VoteConfirm, 80, 100); err != nil {
		t.Fatalf("vote: %v", err)
	}
	got, err := ann.SubmitVote(a.ID, "carol", models.VoteConfirm, 80, 100)
	if err != nil {
		t.Fatalf("replayed vote: %v", err)
	}
	if len(got.Votes) != 1 {
		t.Fatalf("replay duplicated the vote: %+v", got.Votes)
	}
}

func TestVotesFromTwoScientists(t *testing.T) {
	_, ann, s := setup(t)
	a := mustCreate(t, ann, s.ID, "bob", "")

	if _, err := ann.SubmitVote(a.ID, "bob", models.VoteConfirm, 90, 0); err != nil {
		t.Fatalf("bob vote: %v", err)
	}
	got, err := ann.SubmitVote(a.ID, "carol", models.VoteReject, 40, 0)
	if err != nil {
		t.Fatalf("carol vote: %v", err)
	}
	if len(got.Votes) != 2 {
		t.Fatalf("expected two votes, got %d", len(got.Votes))
	}
}

func TestListBySequenceAcrossRooms(t *testing.T) {
	reg, ann, s := setup(t)
	other, err := reg.CreateSession("deep survey", "", "alice")
	if err != nil {
		t.Fatalf("create second session: %v", err)
	}

	mustCreate(t, ann, s.ID, "bob", "")
	mustCreate(t, ann, other.ID, "alice", "")

	list, err := ann.ListBySequence("seq-42")
	if err != nil {
		t.Fatalf("list by sequence: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected annotations from both rooms, got %d", len(list))
	}

	if _, err := ann.ListBySequence(""); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error for empty sequence, got %v", err)
	}
}

func TestFlagThenValidate(t *testing.T) {
	_, ann, s := setup(t)

	if _, err := ann.FlagFinding(s.ID, "carol", "seq-42"); err != nil {
		t.Fatalf("flag: %v", err)
	}
	rev, err := ann.ValidateFinding(s.ID, "bob", "seq-42")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if rev.Status != models.ReviewValidated {
		t.Fatalf("expected validated, got %q", rev.Status)
	}

	revs, err := ann.ListReviews(s.ID)
	if err != nil {
		t.Fatalf("list reviews: %v", err)
	}
	if len(revs) != 1 {
		t.Fatalf("expected one review record, got %d", len(revs))
	}
	if revs[0].Status != models.ReviewValidated || revs[0].ReviewedBy != "bob" {
		t.Fatalf("latest review must win: %+v", revs[0])
	}
}

func TestReviewPermissions(t *testing.T) {
	_, ann, s := setup(t)
	if _, err := ann.FlagFinding(s.ID, "mallory", "seq-42"); !errors.Is(err, faults.ErrPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if _, err := ann.FlagFinding(s.ID, "carol", ""); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateAnnotationConcurrentDedup(t *testing.T) {
	_, ann, s := setup(t)

	p := models.CreateAnnotationPayload{
		SequenceID: "seq-42",
		Position:   models.Position{Start: 140, End: 162},
		Content:    "possible chimera",
	}
	const n = 4
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := ann.CreateAnnotation(s.ID, "bob", "local-race", p)
			ids[i], errs[i] = a.ID, err
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("create %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("divergent ids for one local id: %q vs %q", ids[i], ids[0])
		}
	}
	list, err := ann.ListByRoom(s.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("concurrent submissions created %d annotations, want 1", len(list))
	}
}
