package handlers

import (
	"encoding/json"
	"net/http"

	"biocollab/pkg/auth"
	"biocollab/pkg/faults"
	"biocollab/pkg/logger"
	"biocollab/pkg/models"
	"biocollab/pkg/offline"
	"biocollab/pkg/telemetry"
	"biocollab/pkg/utils"

	"github.com/gorilla/mux"
)

// RegisterSync registers the reconciliation routes on the /v1 subrouter.
func (a *API) RegisterSync(r *mux.Router) {
	r.HandleFunc("/sync", a.syncBatch).Methods(http.MethodPost)
	r.HandleFunc("/sync/failed", a.listFailed).Methods(http.MethodGet)
	r.HandleFunc("/sync/failed/{localId}/ack", a.ackFailed).Methods(http.MethodPost)
}

// syncOutcome is the per-action result of a reconciliation batch.
type syncOutcome struct {
	LocalID string `json:"local_id"`
	// Status is "applied", "rejected" (terminal, do not retry) or
	// "retry" (transient, resubmit later).
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// syncBatch handles POST /sync: a batch of actions queued while the client
// was disconnected, applied in submission order through the same acceptance
// path as live actions. Each action gets its own outcome; one rejection
// does not abort the batch.
func (a *API) syncBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actions []models.QueuedAction `json:"actions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	id := auth.IdentityFromContext(r.Context())

	outcomes := make([]syncOutcome, 0, len(req.Actions))
	for _, act := range req.Actions {
		// the identity header is authoritative for the whole batch
		act.ScientistID = id.ScientistID
		out := syncOutcome{LocalID: act.LocalID, Status: "applied"}
		if err := a.disp.Apply(act); err != nil {
			out.Error = err.Error()
			if faults.Retryable(err) {
				out.Status = "retry"
			} else {
				out.Status = "rejected"
			}
		}
		telemetry.ReplayOutcomes.WithLabelValues(outcomeLabel(out.Status)).Inc()
		outcomes = append(outcomes, out)
	}
	logger.Info("sync_batch", "scientist", id.ScientistID, "actions", len(req.Actions))
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Outcomes []syncOutcome `json:"outcomes"`
	}{Outcomes: outcomes})
}

func outcomeLabel(status string) string {
	if status == "retry" {
		return "retried"
	}
	return status
}

// listFailed handles GET /sync/failed: terminally failed local actions,
// payloads intact, kept until acknowledged.
func (a *API) listFailed(w http.ResponseWriter, r *http.Request) {
	items := []offline.FailedItem{}
	if a.engine != nil {
		items = a.engine.FailedItems()
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Failed []offline.FailedItem `json:"failed"`
	}{Failed: items})
}

func (a *API) ackFailed(w http.ResponseWriter, r *http.Request) {
	localID := mux.Vars(r)["localId"]
	if a.engine == nil || !a.engine.AckFailed(localID) {
		utils.JSONError(w, http.StatusNotFound, "no failed action with local id "+localID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
