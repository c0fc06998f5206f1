package offline

import (
	"encoding/json"

	"biocollab/pkg/annotations"
	"biocollab/pkg/faults"
	"biocollab/pkg/hub"
	"biocollab/pkg/models"
	"biocollab/pkg/registry"
	"biocollab/pkg/telemetry"
)

// Broadcaster publishes an accepted action's event to a room. Satisfied by
// *hub.Hub; a nil Broadcaster disables fan-out (tests, detached replay).
type Broadcaster interface {
	Broadcast(ev hub.Event, except *hub.Member)
}

// Dispatcher routes an action to its acceptance-path function by kind. The
// same dispatcher serves the reconciliation engine, the batch sync
// endpoint, and the live websocket path, so replayed and live actions are
// validated identically.
type Dispatcher struct {
	reg *registry.Registry
	ann *annotations.Store
	bc  Broadcaster
}

// NewDispatcher wires a dispatcher over the acceptance-path components.
func NewDispatcher(reg *registry.Registry, ann *annotations.Store, bc Broadcaster) *Dispatcher {
	return &Dispatcher{reg: reg, ann: ann, bc: bc}
}

// Apply runs one action through its acceptance path and, on success,
// broadcasts the resulting event to the action's room. Errors carry the
// taxonomy of the acceptance path untouched.
func (d *Dispatcher) Apply(a models.QueuedAction) error {
	switch a.Kind {
	case models.ActionCreateAnnotation:
		var p models.CreateAnnotationPayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return faults.Validationf("create_annotation payload: %v", err)
		}
		ann, err := d.ann.CreateAnnotation(a.RoomID, a.ScientistID, a.LocalID, p)
		if err != nil {
			return err
		}
		d.broadcast(hub.AnnotationCreated(ann))

	case models.ActionSubmitVote:
		var p models.SubmitVotePayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return faults.Validationf("submit_vote payload: %v", err)
		}
		ts := p.TS
		if ts == 0 {
			// replayed votes keep their queue-time ordering
			ts = a.CreatedTS
		}
		ann, err := d.ann.SubmitVote(p.AnnotationID, a.ScientistID, p.Value, p.Confidence, ts)
		if err != nil {
			return err
		}
		for _, v := range ann.Votes {
			if v.ScientistID == a.ScientistID {
				d.broadcast(hub.VoteSubmitted(ann.RoomID, ann.ID, v))
				break
			}
		}

	case models.ActionFlag:
		var p models.ReviewPayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return faults.Validationf("flag payload: %v", err)
		}
		if _, err := d.ann.FlagFinding(a.RoomID, a.ScientistID, p.SequenceID); err != nil {
			return err
		}

	case models.ActionValidate:
		var p models.ReviewPayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return faults.Validationf("validate payload: %v", err)
		}
		if _, err := d.ann.ValidateFinding(a.RoomID, a.ScientistID, p.SequenceID); err != nil {
			return err
		}

	case models.ActionChatMessage:
		var p models.ChatPayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return faults.Validationf("chat payload: %v", err)
		}
		msg, err := d.reg.PostChat(a.RoomID, a.ScientistID, p.SenderDisplayName, p.Body)
		if err != nil {
			return err
		}
		d.broadcast(hub.ChatMessage(msg))

	default:
		return faults.Validationf("unknown action kind %q", a.Kind)
	}
	telemetry.ActionsAccepted.WithLabelValues(string(a.Kind)).Inc()
	return nil
}

func (d *Dispatcher) broadcast(ev hub.Event) {
	if d.bc == nil {
		return
	}
	d.bc.Broadcast(ev, nil)
}
