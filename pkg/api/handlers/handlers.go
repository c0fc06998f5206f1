// Package handlers implements the /v1 route handlers. Handlers translate
// HTTP to service calls and map service errors to status codes; all domain
// rules live in the service packages so live and replayed actions share one
// acceptance path.
package handlers

import (
	"net/http"

	"biocollab/pkg/annotations"
	"biocollab/pkg/faults"
	"biocollab/pkg/hub"
	"biocollab/pkg/offline"
	"biocollab/pkg/registry"
	"biocollab/pkg/utils"
)

// Deps carries the service components the handlers operate on.
type Deps struct {
	Registry    *registry.Registry
	Annotations *annotations.Store
	Hub         *hub.Hub
	Dispatcher  *offline.Dispatcher
	Engine      *offline.Engine
	SendBuffer  int
}

// API binds route handlers to their service dependencies.
type API struct {
	reg    *registry.Registry
	ann    *annotations.Store
	hub    *hub.Hub
	disp   *offline.Dispatcher
	engine *offline.Engine

	sendBuffer int
}

// New returns an API over the given dependencies.
func New(d Deps) *API {
	buf := d.SendBuffer
	if buf <= 0 {
		buf = hub.DefaultSendBuffer
	}
	return &API{
		reg:        d.Registry,
		ann:        d.Annotations,
		hub:        d.Hub,
		disp:       d.Dispatcher,
		engine:     d.Engine,
		sendBuffer: buf,
	}
}

// writeErr maps a service error onto the wire using the fault taxonomy.
func writeErr(w http.ResponseWriter, err error) {
	utils.JSONError(w, faults.HTTPStatus(err), err.Error())
}
