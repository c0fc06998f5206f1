// Package api assembles the HTTP surface: REST routes under /v1, the
// websocket endpoint, health probes and the metrics handler.
package api

import (
	"net/http"

	"biocollab/pkg/annotations"
	"biocollab/pkg/api/handlers"
	"biocollab/pkg/hub"
	"biocollab/pkg/offline"
	"biocollab/pkg/registry"
	"biocollab/pkg/store"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps carries the service components the handlers operate on.
type Deps struct {
	Registry    *registry.Registry
	Annotations *annotations.Store
	Hub         *hub.Hub
	Dispatcher  *offline.Dispatcher
	Engine      *offline.Engine

	// SendBuffer sizes each websocket member's outbound event buffer.
	SendBuffer int
}

// NewRouter builds the full route table.
func NewRouter(d Deps) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	r.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !store.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"store not ready"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	h := handlers.New(handlers.Deps{
		Registry:    d.Registry,
		Annotations: d.Annotations,
		Hub:         d.Hub,
		Dispatcher:  d.Dispatcher,
		Engine:      d.Engine,
		SendBuffer:  d.SendBuffer,
	})

	v1 := r.PathPrefix("/v1").Subrouter()
	h.RegisterSessions(v1)
	h.RegisterAnnotations(v1)
	h.RegisterSync(v1)
	h.RegisterWS(v1)

	return r
}
