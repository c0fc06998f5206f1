package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"biocollab/pkg/auth"
	"biocollab/pkg/faults"
	"biocollab/pkg/hub"
	"biocollab/pkg/logger"
	"biocollab/pkg/models"
	"biocollab/pkg/store"
	"biocollab/pkg/utils"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// origin policy is enforced by the security middleware
		return true
	},
}

// clientFrame is a JSON message sent by a websocket client: either a live
// action or a replayed one carrying the client's local_id.
type clientFrame struct {
	Kind    models.ActionKind `json:"kind"`
	LocalID string            `json:"local_id,omitempty"`
	Payload json.RawMessage   `json:"payload"`
}

// serverFrame is a JSON message sent to a websocket client.
type serverFrame struct {
	Type    string     `json:"type"` // "event", "ack" or "error"
	LocalID string     `json:"local_id,omitempty"`
	Event   *hub.Event `json:"event,omitempty"`
	Error   string     `json:"error,omitempty"`
	// Terminal marks an error the client must not retry.
	Terminal bool `json:"terminal,omitempty"`
}

// wsSession is one upgraded connection. All writes to the connection go
// through writePump; readPump hands its replies over the frames channel.
type wsSession struct {
	conn   *websocket.Conn
	member *hub.Member
	frames chan serverFrame
	done   chan struct{}
}

// RegisterWS registers the websocket endpoint on the /v1 subrouter.
func (a *API) RegisterWS(r *mux.Router) {
	r.HandleFunc("/ws/{roomId}", a.serveWS).Methods(http.MethodGet)
}

// serveWS handles GET /ws/{roomId}: joins the caller to the session, then
// upgrades the connection. The member receives every event broadcast to the
// room from that point on; a member already connected to another room is
// moved.
func (a *API) serveWS(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	roomID := mux.Vars(r)["roomId"]

	s, err := a.reg.JoinSession(roomID, id.ScientistID, id.Role)
	if err != nil {
		writeErr(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws_upgrade_failed", "err", err.Error())
		return
	}

	m := hub.NewMember(id.ScientistID, a.sendBuffer)
	a.hub.Join(m, roomID)
	if p, ok := findParticipant(s, id.ScientistID); ok {
		a.hub.Broadcast(hub.ParticipantJoined(roomID, p), m)
	}
	logger.Info("ws_joined", "session", roomID, "scientist", id.ScientistID)

	ws := &wsSession{
		conn:   conn,
		member: m,
		frames: make(chan serverFrame, 16),
		done:   make(chan struct{}),
	}
	go a.writePump(ws)
	go a.readPump(ws, roomID, id)
}

// readPump applies inbound client frames through the dispatcher and answers
// each with an ack or an error frame. It owns the connection teardown.
func (a *API) readPump(ws *wsSession, roomID string, id auth.Identity) {
	defer func() {
		a.hub.Leave(ws.member)
		_ = ws.conn.Close()
	}()

	_ = ws.conn.SetReadDeadline(time.Now().Add(pongWait))
	ws.conn.SetPongHandler(func(string) error {
		return ws.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("ws_unexpected_close", "scientist", id.ScientistID, "err", err.Error())
			}
			return
		}

		var f clientFrame
		if err := json.Unmarshal(message, &f); err != nil {
			ws.reply(serverFrame{Type: "error", Error: "invalid json", Terminal: true})
			continue
		}

		act := models.QueuedAction{
			LocalID:     f.LocalID,
			Kind:        f.Kind,
			RoomID:      roomID,
			ScientistID: id.ScientistID,
			Payload:     f.Payload,
			CreatedTS:   store.NowTS(),
		}
		if act.LocalID == "" {
			act.LocalID = utils.GenActionID()
		}

		out := serverFrame{Type: "ack", LocalID: act.LocalID}
		if err := a.disp.Apply(act); err != nil {
			out = serverFrame{
				Type:     "error",
				LocalID:  act.LocalID,
				Error:    err.Error(),
				Terminal: !faults.Retryable(err),
			}
		}
		ws.reply(out)
	}
}

// writePump is the single writer on the connection. It forwards room
// events and readPump replies, and keeps the connection alive with pings.
// It exits when the member's event channel is closed, which happens on
// leave, drop or hub shutdown.
func (a *API) writePump(ws *wsSession) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(ws.done)
		_ = ws.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-ws.member.Events():
			_ = ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.conn.WriteJSON(serverFrame{Type: "event", Event: &ev}); err != nil {
				return
			}
		case f := <-ws.frames:
			_ = ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.conn.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply queues a frame for writePump, dropping it if the writer is gone.
func (ws *wsSession) reply(f serverFrame) {
	select {
	case ws.frames <- f:
	case <-ws.done:
	}
}
