// Package registry tracks collaboration sessions: their participants,
// roles and activity. It is an acceptance-path component: all session
// mutations flow through it so the same validation applies to live and
// replayed actions.
package registry

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"biocollab/pkg/faults"
	"biocollab/pkg/logger"
	"biocollab/pkg/models"
	"biocollab/pkg/store"
	"biocollab/pkg/utils"
)

// Registry serializes concurrent writers per room with a keyed mutex and
// persists through the durable store.
type Registry struct {
	locks utils.KeyedMutex
}

// New returns a Registry backed by the opened store.
func New() *Registry {
	return &Registry{}
}

// Filter narrows ListSessions. Zero values mean "no constraint"; PageSize
// defaults to 20.
type Filter struct {
	Status   models.SessionStatus
	Page     int
	PageSize int
}

// Page is one page of sessions ordered by last activity, newest first.
type Page struct {
	Sessions []models.Session `json:"sessions"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	Total    int              `json:"total"`
}

// Stats summarizes the session population for the dashboard.
type Stats struct {
	Active   int `json:"active"`
	Archived int `json:"archived"`
	// Recent counts sessions with activity in the last 24 hours.
	Recent int `json:"recent"`
}

// CreateSession creates a room. The creator is auto-added as admin.
func (r *Registry) CreateSession(name, datasetRef, creatorID string) (models.Session, error) {
	if strings.TrimSpace(name) == "" {
		return models.Session{}, faults.Validationf("session name is required")
	}
	if creatorID == "" {
		return models.Session{}, faults.Validationf("creator id is required")
	}
	now := store.NowTS()
	s := models.Session{
		ID:             utils.GenSessionID(),
		Name:           name,
		CreatedBy:      creatorID,
		DatasetRef:     datasetRef,
		Status:         models.SessionActive,
		CreatedTS:      now,
		LastActivityTS: now,
		Participants: []models.Participant{
			{ScientistID: creatorID, Role: models.RoleAdmin, JoinedTS: now},
		},
	}
	if err := r.save(s); err != nil {
		return models.Session{}, err
	}
	logger.Info("session_created", "room", s.ID, "creator", creatorID, "dataset", datasetRef)
	return s, nil
}

// JoinSession adds a scientist to a room. Idempotent: re-joining updates
// JoinedTS and leaves the stored role untouched. Archived rooms reject with
// NotFound.
func (r *Registry) JoinSession(roomID, scientistID string, role models.Role) (models.Session, error) {
	if scientistID == "" {
		return models.Session{}, faults.Validationf("scientist id is required")
	}
	if role == "" {
		role = models.RoleViewer
	}
	if !role.Valid() {
		return models.Session{}, faults.Validationf("unknown role %q", role)
	}
	r.locks.Lock(roomID)
	defer r.locks.Unlock(roomID)

	s, err := r.loadActive(roomID)
	if err != nil {
		return models.Session{}, err
	}
	now := store.NowTS()
	joined := false
	for i := range s.Participants {
		if s.Participants[i].ScientistID == scientistID {
			s.Participants[i].JoinedTS = now
			joined = true
			break
		}
	}
	if !joined {
		s.Participants = append(s.Participants, models.Participant{
			ScientistID: scientistID,
			Role:        role,
			JoinedTS:    now,
		})
	}
	s.LastActivityTS = maxTS(s.LastActivityTS, now)
	if err := r.save(s); err != nil {
		return models.Session{}, err
	}
	logger.Info("session_joined", "room", roomID, "scientist", scientistID, "rejoin", joined)
	return s, nil
}

// GetSession returns the session for a room id, archived or not.
func (r *Registry) GetSession(roomID string) (models.Session, error) {
	return r.load(roomID)
}

// ListSessions returns a stable page ordered by LastActivityTS descending,
// ties broken by id so pagination never shuffles.
func (r *Registry) ListSessions(f Filter) (Page, error) {
	vals, err := store.ListSessions()
	if err != nil {
		return Page{}, faults.Transientf("list sessions: %v", err)
	}
	var all []models.Session
	for _, v := range vals {
		var s models.Session
		if err := json.Unmarshal(v, &s); err != nil {
			logger.Warn("session_unmarshal_failed", "err", err)
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].LastActivityTS != all[j].LastActivityTS {
			return all[i].LastActivityTS > all[j].LastActivityTS
		}
		return all[i].ID < all[j].ID
	})

	page := f.Page
	if page < 1 {
		page = 1
	}
	size := f.PageSize
	if size <= 0 {
		size = 20
	}
	total := len(all)
	lo := (page - 1) * size
	if lo > total {
		lo = total
	}
	hi := lo + size
	if hi > total {
		hi = total
	}
	return Page{Sessions: all[lo:hi], Page: page, PageSize: size, Total: total}, nil
}

// TouchActivity bumps LastActivityTS for any accepted room-scoped action.
// Monotonic: a touch never moves the timestamp backwards.
func (r *Registry) TouchActivity(roomID string) error {
	r.locks.Lock(roomID)
	defer r.locks.Unlock(roomID)

	s, err := r.load(roomID)
	if err != nil {
		return err
	}
	s.LastActivityTS = maxTS(s.LastActivityTS, store.NowTS())
	return r.save(s)
}

// ArchiveSession soft-deletes a room: it becomes read-only but stays
// readable while annotations reference it. Only an admin participant may
// archive.
func (r *Registry) ArchiveSession(roomID, actorID string) (models.Session, error) {
	r.locks.Lock(roomID)
	defer r.locks.Unlock(roomID)

	s, err := r.load(roomID)
	if err != nil {
		return models.Session{}, err
	}
	if s.ParticipantRole(actorID) != models.RoleAdmin {
		return models.Session{}, faults.Permissionf("scientist %s is not an admin of room %s", actorID, roomID)
	}
	if s.Status == models.SessionArchived {
		return s, nil
	}
	s.Status = models.SessionArchived
	s.LastActivityTS = maxTS(s.LastActivityTS, store.NowTS())
	if err := r.save(s); err != nil {
		return models.Session{}, err
	}
	logger.Info("session_archived", "room", roomID, "actor", actorID)
	return s, nil
}

// Stats returns counts of active, archived, and recently-active sessions.
func (r *Registry) Stats() (Stats, error) {
	vals, err := store.ListSessions()
	if err != nil {
		return Stats{}, faults.Transientf("list sessions: %v", err)
	}
	cutoff := time.Now().UTC().Add(-24 * time.Hour).UnixNano()
	var st Stats
	for _, v := range vals {
		var s models.Session
		if err := json.Unmarshal(v, &s); err != nil {
			continue
		}
		switch s.Status {
		case models.SessionArchived:
			st.Archived++
		default:
			st.Active++
		}
		if s.LastActivityTS >= cutoff {
			st.Recent++
		}
	}
	return st, nil
}

// PostChat validates a chat message against the room, stamps it, and bumps
// room activity. Chat is ephemeral: the returned message is broadcast to
// connected members and never persisted.
func (r *Registry) PostChat(roomID, senderID, displayName, body string) (models.ChatMessage, error) {
	if strings.TrimSpace(body) == "" {
		return models.ChatMessage{}, faults.Validationf("message body is required")
	}
	sess, err := r.loadActive(roomID)
	if err != nil {
		return models.ChatMessage{}, err
	}
	if sess.ParticipantRole(senderID) == "" {
		return models.ChatMessage{}, faults.Permissionf("scientist %s is not a participant of room %s", senderID, roomID)
	}
	if err := r.TouchActivity(roomID); err != nil {
		logger.Warn("touch_activity_failed", "room", roomID, "err", err)
	}
	return models.ChatMessage{
		ID:                utils.GenMessageID(),
		RoomID:            roomID,
		SenderID:          senderID,
		SenderDisplayName: displayName,
		Body:              body,
		TS:                store.NowTS(),
	}, nil
}

// RequireActive loads a session and rejects with NotFound when the room is
// unknown or archived. Room-scoped mutations call this first.
func (r *Registry) RequireActive(roomID string) (models.Session, error) {
	return r.loadActive(roomID)
}

func (r *Registry) load(roomID string) (models.Session, error) {
	v, err := store.GetSession(roomID)
	if err != nil {
		if store.IsNotFound(err) {
			return models.Session{}, faults.NotFoundf("room %s", roomID)
		}
		return models.Session{}, faults.Transientf("load session %s: %v", roomID, err)
	}
	var s models.Session
	if err := json.Unmarshal(v, &s); err != nil {
		return models.Session{}, faults.Transientf("invalid session metadata for %s: %v", roomID, err)
	}
	return s, nil
}

func (r *Registry) loadActive(roomID string) (models.Session, error) {
	s, err := r.load(roomID)
	if err != nil {
		return models.Session{}, err
	}
	if s.Status == models.SessionArchived {
		return models.Session{}, faults.NotFoundf("room %s is archived", roomID)
	}
	return s, nil
}

func (r *Registry) save(s models.Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return faults.Transientf("marshal session %s: %v", s.ID, err)
	}
	if err := store.SaveSession(s.ID, b); err != nil {
		return faults.Transientf("save session %s: %v", s.ID, err)
	}
	return nil
}

func maxTS(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
