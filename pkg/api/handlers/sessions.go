package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"biocollab/pkg/auth"
	"biocollab/pkg/hub"
	"biocollab/pkg/logger"
	"biocollab/pkg/models"
	"biocollab/pkg/registry"
	"biocollab/pkg/utils"

	"github.com/gorilla/mux"
)

// RegisterSessions registers the session routes on the /v1 subrouter.
func (a *API) RegisterSessions(r *mux.Router) {
	r.HandleFunc("/sessions", a.createSession).Methods(http.MethodPost)
	r.HandleFunc("/sessions", a.listSessions).Methods(http.MethodGet)
	r.HandleFunc("/sessions/stats", a.sessionStats).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", a.getSession).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/join", a.joinSession).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/archive", a.archiveSession).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/chat", a.postChat).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/reviews", a.listReviews).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/reviews", a.postReview).Methods(http.MethodPost)
}

// createSession handles POST /sessions. The caller becomes the session
// admin.
func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string `json:"name"`
		DatasetRef string `json:"dataset_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	id := auth.IdentityFromContext(r.Context())
	s, err := a.reg.CreateSession(req.Name, req.DatasetRef, id.ScientistID)
	if err != nil {
		writeErr(w, err)
		return
	}
	logger.Info("session_created", "session", s.ID, "creator", id.ScientistID)
	_ = utils.JSONWrite(w, http.StatusCreated, s)
}

// listSessions handles GET /sessions with optional status, page and
// page_size query parameters. Sessions are ordered by last activity,
// newest first.
func (a *API) listSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := registry.Filter{Status: models.SessionStatus(q.Get("status"))}
	if v := q.Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Page = n
		}
	}
	if v := q.Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.PageSize = n
		}
	}
	page, err := a.reg.ListSessions(f)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, page)
}

func (a *API) sessionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.reg.Stats()
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, stats)
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	s, err := a.reg.GetSession(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, s)
}

// joinSession handles POST /sessions/{id}/join. The role comes from the
// body when given, else from the identity header, else viewer. Rejoining
// is idempotent and never demotes an existing participant.
func (a *API) joinSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role models.Role `json:"role"`
	}
	// body is optional
	_ = json.NewDecoder(r.Body).Decode(&req)

	id := auth.IdentityFromContext(r.Context())
	role := req.Role
	if !role.Valid() {
		role = id.Role
	}

	roomID := mux.Vars(r)["id"]
	s, err := a.reg.JoinSession(roomID, id.ScientistID, role)
	if err != nil {
		writeErr(w, err)
		return
	}
	if p, ok := findParticipant(s, id.ScientistID); ok {
		a.hub.Broadcast(hub.ParticipantJoined(roomID, p), nil)
	}
	logger.Info("session_joined", "session", roomID, "scientist", id.ScientistID)
	_ = utils.JSONWrite(w, http.StatusOK, s)
}

// archiveSession handles POST /sessions/{id}/archive. Admin only; the
// session becomes read-only and further writes report not found.
func (a *API) archiveSession(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	s, err := a.reg.ArchiveSession(mux.Vars(r)["id"], id.ScientistID)
	if err != nil {
		writeErr(w, err)
		return
	}
	logger.Info("session_archived", "session", s.ID, "by", id.ScientistID)
	_ = utils.JSONWrite(w, http.StatusOK, s)
}

// postChat handles POST /sessions/{id}/chat. Messages are broadcast to
// current members only and never persisted.
func (a *API) postChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	id := auth.IdentityFromContext(r.Context())
	msg, err := a.reg.PostChat(mux.Vars(r)["id"], id.ScientistID, id.DisplayName, req.Body)
	if err != nil {
		writeErr(w, err)
		return
	}
	a.hub.Broadcast(hub.ChatMessage(msg), nil)
	_ = utils.JSONWrite(w, http.StatusCreated, msg)
}

// postReview handles POST /sessions/{id}/reviews to flag or validate a
// sequence finding.
func (a *API) postReview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SequenceID string              `json:"sequence_id"`
		Status     models.ReviewStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	id := auth.IdentityFromContext(r.Context())
	roomID := mux.Vars(r)["id"]

	var (
		rev models.Review
		err error
	)
	switch req.Status {
	case models.ReviewValidated:
		rev, err = a.ann.ValidateFinding(roomID, id.ScientistID, req.SequenceID)
	case models.ReviewFlagged:
		rev, err = a.ann.FlagFinding(roomID, id.ScientistID, req.SequenceID)
	default:
		utils.JSONError(w, http.StatusBadRequest, "status must be flagged or validated")
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, rev)
}

func (a *API) listReviews(w http.ResponseWriter, r *http.Request) {
	revs, err := a.ann.ListReviews(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Reviews []models.Review `json:"reviews"`
	}{Reviews: revs})
}

func findParticipant(s models.Session, scientistID string) (models.Participant, bool) {
	for _, p := range s.Participants {
		if p.ScientistID == scientistID {
			return p, true
		}
	}
	return models.Participant{}, false
}
