package handlers

import (
	"encoding/json"
	"net/http"

	"biocollab/pkg/auth"
	"biocollab/pkg/hub"
	"biocollab/pkg/logger"
	"biocollab/pkg/models"
	"biocollab/pkg/telemetry"
	"biocollab/pkg/utils"

	"github.com/gorilla/mux"
)

// RegisterAnnotations registers the annotation routes on the /v1 subrouter.
func (a *API) RegisterAnnotations(r *mux.Router) {
	r.HandleFunc("/sessions/{id}/annotations", a.createAnnotation).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/annotations", a.listRoomAnnotations).Methods(http.MethodGet)
	r.HandleFunc("/annotations", a.listSequenceAnnotations).Methods(http.MethodGet)
	r.HandleFunc("/annotations/{id}/votes", a.submitVote).Methods(http.MethodPost)
}

// createAnnotation handles POST /sessions/{id}/annotations. A local_id in
// the body makes the call replay-safe: resubmitting the same local_id
// returns the annotation created the first time.
func (a *API) createAnnotation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SequenceID string          `json:"sequence_id"`
		Position   models.Position `json:"position"`
		Content    string          `json:"content"`
		LocalID    string          `json:"local_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	id := auth.IdentityFromContext(r.Context())
	roomID := mux.Vars(r)["id"]

	ann, err := a.ann.CreateAnnotation(roomID, id.ScientistID, req.LocalID, models.CreateAnnotationPayload{
		SequenceID: req.SequenceID,
		Position:   req.Position,
		Content:    req.Content,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	a.hub.Broadcast(hub.AnnotationCreated(ann), nil)
	telemetry.ActionsAccepted.WithLabelValues(string(models.ActionCreateAnnotation)).Inc()
	logger.Info("annotation_created", "session", roomID, "annotation", ann.ID, "author", id.ScientistID)
	_ = utils.JSONWrite(w, http.StatusCreated, ann)
}

func (a *API) listRoomAnnotations(w http.ResponseWriter, r *http.Request) {
	anns, err := a.ann.ListByRoom(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Annotations []models.Annotation `json:"annotations"`
	}{Annotations: anns})
}

// listSequenceAnnotations handles GET /annotations?sequence=<seqId>: the
// cross-room view of one sequence.
func (a *API) listSequenceAnnotations(w http.ResponseWriter, r *http.Request) {
	seq := r.URL.Query().Get("sequence")
	if seq == "" {
		utils.JSONError(w, http.StatusBadRequest, "sequence query parameter is required")
		return
	}
	anns, err := a.ann.ListBySequence(seq)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		SequenceID  string              `json:"sequence_id"`
		Annotations []models.Annotation `json:"annotations"`
	}{SequenceID: seq, Annotations: anns})
}

// submitVote handles POST /annotations/{id}/votes. One vote per scientist
// per annotation; a newer timestamp replaces the previous vote and a stale
// one is ignored.
func (a *API) submitVote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value      models.VoteValue `json:"value"`
		Confidence int              `json:"confidence"`
		TS         int64            `json:"ts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	id := auth.IdentityFromContext(r.Context())
	annID := mux.Vars(r)["id"]

	ann, err := a.ann.SubmitVote(annID, id.ScientistID, req.Value, req.Confidence, req.TS)
	if err != nil {
		writeErr(w, err)
		return
	}
	if v, ok := findVote(ann, id.ScientistID); ok {
		a.hub.Broadcast(hub.VoteSubmitted(ann.RoomID, ann.ID, v), nil)
	}
	telemetry.ActionsAccepted.WithLabelValues(string(models.ActionSubmitVote)).Inc()
	_ = utils.JSONWrite(w, http.StatusOK, ann)
}

func findVote(a models.Annotation, scientistID string) (models.Vote, bool) {
	for _, v := range a.Votes {
		if v.ScientistID == scientistID {
			return v, true
		}
	}
	return models.Vote{}, false
}
