package models

// SessionStatus is the lifecycle state of a collaboration session.
type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionArchived SessionStatus = "archived"
)

// Role is a participant's capability level inside a session.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleViewer || r == RoleEditor || r == RoleAdmin
}

// CanAnnotate reports whether the role may author annotations.
func (r Role) CanAnnotate() bool {
	return r == RoleEditor || r == RoleAdmin
}

// Participant is a session membership record. Unique per (session, scientist).
type Participant struct {
	ScientistID string `json:"scientist_id"`
	Role        Role   `json:"role"`
	// JoinedTS timestamp (ns)
	JoinedTS int64 `json:"joined_ts"`
}

// Session is a named collaboration room scoping participants, annotations
// and chat for one dataset under review.
type Session struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	CreatedBy  string        `json:"created_by"`
	DatasetRef string        `json:"dataset_ref,omitempty"`
	Status     SessionStatus `json:"status"`
	// Created timestamp (ns)
	CreatedTS int64 `json:"created_ts"`
	// LastActivityTS (ns) - monotonically non-decreasing, bumped by any
	// accepted room-scoped action
	LastActivityTS int64         `json:"last_activity_ts"`
	Participants   []Participant `json:"participants"`
}

// ParticipantRole returns the stored role for scientistID, or "" when the
// scientist is not a participant.
func (s *Session) ParticipantRole(scientistID string) Role {
	for i := range s.Participants {
		if s.Participants[i].ScientistID == scientistID {
			return s.Participants[i].Role
		}
	}
	return ""
}
