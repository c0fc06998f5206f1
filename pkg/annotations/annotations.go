// Package annotations is the canonical record of annotations, votes and
// finding reviews. It is the single acceptance path for these mutations:
// live clients and queue replay go through the same functions, so
// validation and idempotency rules apply identically to both.
package annotations

import (
	"encoding/json"

	"biocollab/pkg/faults"
	"biocollab/pkg/logger"
	"biocollab/pkg/models"
	"biocollab/pkg/registry"
	"biocollab/pkg/store"
	"biocollab/pkg/utils"
)

// Store serializes concurrent writers per annotation and persists through
// the durable store. Role checks consult the session registry.
type Store struct {
	reg   *registry.Registry
	locks utils.KeyedMutex
}

// New returns an annotation Store using reg for participant lookups.
func New(reg *registry.Registry) *Store {
	return &Store{reg: reg}
}

// CreateAnnotation records a positional note in a room. The author must be
// a participant with role editor or admin, the position must satisfy
// start <= end, and the room must be active. localID, when set, makes the
// call replay-safe: a duplicate submission of the same localID returns the
// previously created annotation instead of a second record.
func (s *Store) CreateAnnotation(roomID, authorID, localID string, p models.CreateAnnotationPayload) (models.Annotation, error) {
	if p.SequenceID == "" {
		return models.Annotation{}, faults.Validationf("sequence id is required")
	}
	if p.Position.Start > p.Position.End {
		return models.Annotation{}, faults.Validationf("position start %d > end %d", p.Position.Start, p.Position.End)
	}
	sess, err := s.reg.RequireActive(roomID)
	if err != nil {
		return models.Annotation{}, err
	}
	role := sess.ParticipantRole(authorID)
	if role == "" {
		return models.Annotation{}, faults.Permissionf("scientist %s is not a participant of room %s", authorID, roomID)
	}
	if !role.CanAnnotate() {
		return models.Annotation{}, faults.Permissionf("role %s cannot author annotations", role)
	}

	if localID != "" {
		// hold the lock across the dedup check and the save so two
		// concurrent submissions of the same localID serialize
		key := roomID + "/" + localID
		s.locks.Lock(key)
		defer s.locks.Unlock(key)
		if annID, derr := store.GetDedup(roomID, localID); derr == nil {
			existing, gerr := s.get(annID)
			if gerr == nil {
				logger.Info("annotation_duplicate_ignored", "room", roomID, "local_id", localID, "annotation", annID)
				return existing, nil
			}
		} else if !store.IsNotFound(derr) {
			return models.Annotation{}, faults.Transientf("dedup lookup: %v", derr)
		}
	}

	a := models.Annotation{
		ID:         utils.GenAnnotationID(),
		RoomID:     roomID,
		SequenceID: p.SequenceID,
		Position:   p.Position,
		Content:    p.Content,
		CreatedBy:  authorID,
		CreatedTS:  store.NowTS(),
		LocalID:    localID,
	}
	if err := store.SaveAnnotation(a, true); err != nil {
		return models.Annotation{}, faults.Transientf("save annotation: %v", err)
	}
	if err := s.reg.TouchActivity(roomID); err != nil {
		logger.Warn("touch_activity_failed", "room", roomID, "err", err)
	}
	logger.Info("annotation_created", "annotation", a.ID, "room", roomID, "sequence", p.SequenceID, "author", authorID)
	return a, nil
}

// SubmitVote records or replaces a scientist's vote on an annotation.
// At most one vote per (annotation, scientist): last-write-wins by
// timestamp, and on an exact timestamp tie the vote applied later wins.
// Safe to apply twice with the same payload.
func (s *Store) SubmitVote(annotationID, scientistID string, value models.VoteValue, confidence int, ts int64) (models.Annotation, error) {
	if !value.Valid() {
		return models.Annotation{}, faults.Validationf("unknown vote value %q", value)
	}
	if confidence < 0 || confidence > 100 {
		return models.Annotation{}, faults.Validationf("confidence %d outside [0,100]", confidence)
	}
	s.locks.Lock(annotationID)
	defer s.locks.Unlock(annotationID)

	a, err := s.get(annotationID)
	if err != nil {
		return models.Annotation{}, err
	}
	sess, err := s.reg.RequireActive(a.RoomID)
	if err != nil {
		return models.Annotation{}, err
	}
	if sess.ParticipantRole(scientistID) == "" {
		return models.Annotation{}, faults.Permissionf("scientist %s is not a participant of room %s", scientistID, a.RoomID)
	}
	if ts == 0 {
		ts = store.NowTS()
	}
	vote := models.Vote{ScientistID: scientistID, Value: value, Confidence: confidence, TS: ts}

	replaced := false
	for i := range a.Votes {
		if a.Votes[i].ScientistID == scientistID {
			if vote.TS < a.Votes[i].TS {
				// stale replay of an older vote; current record wins
				logger.Debug("vote_stale_ignored", "annotation", annotationID, "scientist", scientistID)
				return a, nil
			}
			a.Votes[i] = vote
			replaced = true
			break
		}
	}
	if !replaced {
		a.Votes = append(a.Votes, vote)
	}
	if err := store.SaveAnnotation(a, false); err != nil {
		return models.Annotation{}, faults.Transientf("save vote: %v", err)
	}
	if err := s.reg.TouchActivity(a.RoomID); err != nil {
		logger.Warn("touch_activity_failed", "room", a.RoomID, "err", err)
	}
	logger.Info("vote_submitted", "annotation", annotationID, "scientist", scientistID, "value", value, "replaced", replaced)
	return a, nil
}

// ListByRoom returns the current annotations for a room, votes included.
// Archived rooms stay readable.
func (s *Store) ListByRoom(roomID string) ([]models.Annotation, error) {
	if _, err := s.reg.GetSession(roomID); err != nil {
		return nil, err
	}
	vals, err := store.ListAnnotationsByRoom(roomID)
	if err != nil {
		return nil, faults.Transientf("list annotations: %v", err)
	}
	return decodeAll(vals), nil
}

// ListBySequence returns all annotations referencing a sequence across rooms.
func (s *Store) ListBySequence(sequenceID string) ([]models.Annotation, error) {
	if sequenceID == "" {
		return nil, faults.Validationf("sequence id is required")
	}
	vals, err := store.ListAnnotationsBySequence(sequenceID)
	if err != nil {
		return nil, faults.Transientf("list annotations: %v", err)
	}
	return decodeAll(vals), nil
}

// FlagFinding marks a sequence's classification as disputed in a room.
func (s *Store) FlagFinding(roomID, scientistID, sequenceID string) (models.Review, error) {
	return s.review(roomID, scientistID, sequenceID, models.ReviewFlagged)
}

// ValidateFinding marks a sequence's classification as confirmed in a room.
func (s *Store) ValidateFinding(roomID, scientistID, sequenceID string) (models.Review, error) {
	return s.review(roomID, scientistID, sequenceID, models.ReviewValidated)
}

func (s *Store) review(roomID, scientistID, sequenceID string, status models.ReviewStatus) (models.Review, error) {
	if sequenceID == "" {
		return models.Review{}, faults.Validationf("sequence id is required")
	}
	sess, err := s.reg.RequireActive(roomID)
	if err != nil {
		return models.Review{}, err
	}
	if sess.ParticipantRole(scientistID) == "" {
		return models.Review{}, faults.Permissionf("scientist %s is not a participant of room %s", scientistID, roomID)
	}
	r := models.Review{
		RoomID:     roomID,
		SequenceID: sequenceID,
		Status:     status,
		ReviewedBy: scientistID,
		TS:         store.NowTS(),
	}
	if err := store.SaveReview(r); err != nil {
		return models.Review{}, faults.Transientf("save review: %v", err)
	}
	if err := s.reg.TouchActivity(roomID); err != nil {
		logger.Warn("touch_activity_failed", "room", roomID, "err", err)
	}
	logger.Info("finding_reviewed", "room", roomID, "sequence", sequenceID, "status", status, "scientist", scientistID)
	return r, nil
}

// ListReviews returns the latest review state for every finding in a room.
func (s *Store) ListReviews(roomID string) ([]models.Review, error) {
	if _, err := s.reg.GetSession(roomID); err != nil {
		return nil, err
	}
	vals, err := store.ListReviews(roomID)
	if err != nil {
		return nil, faults.Transientf("list reviews: %v", err)
	}
	out := make([]models.Review, 0, len(vals))
	for _, v := range vals {
		var r models.Review
		if err := json.Unmarshal(v, &r); err != nil {
			logger.Warn("review_unmarshal_failed", "err", err)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) get(annotationID string) (models.Annotation, error) {
	v, err := store.GetAnnotation(annotationID)
	if err != nil {
		if store.IsNotFound(err) {
			return models.Annotation{}, faults.NotFoundf("annotation %s", annotationID)
		}
		return models.Annotation{}, faults.Transientf("load annotation %s: %v", annotationID, err)
	}
	var a models.Annotation
	if err := json.Unmarshal(v, &a); err != nil {
		return models.Annotation{}, faults.Transientf("invalid annotation record %s: %v", annotationID, err)
	}
	return a, nil
}

func decodeAll(vals [][]byte) []models.Annotation {
	out := make([]models.Annotation, 0, len(vals))
	for _, v := range vals {
		var a models.Annotation
		if err := json.Unmarshal(v, &a); err != nil {
			logger.Warn("annotation_unmarshal_failed", "err", err)
			continue
		}
		out = append(out, a)
	}
	return out
}
