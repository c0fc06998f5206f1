package hub

import "biocollab/pkg/models"

// EventType tags the closed set of broadcast variants. Dynamic payload
// shapes are deliberately not supported; every variant carries one fixed,
// validated payload field.
type EventType string

const (
	EventParticipantJoined EventType = "participant_joined"
	EventAnnotationCreated EventType = "annotation_created"
	EventVoteSubmitted     EventType = "vote_submitted"
	EventChatMessage       EventType = "chat_message"
)

// VoteEvent pairs the updated annotation id with the winning vote record.
type VoteEvent struct {
	AnnotationID string      `json:"annotation_id"`
	Vote         models.Vote `json:"vote"`
}

// Event is one broadcast frame. Exactly one payload field is set,
// determined by Type.
type Event struct {
	Type   EventType `json:"type"`
	RoomID string    `json:"room_id"`
	// TS timestamp (ns) - stamped by the hub when the event is accepted
	TS int64 `json:"ts"`

	Participant *models.Participant `json:"participant,omitempty"`
	Annotation  *models.Annotation  `json:"annotation,omitempty"`
	VoteUpdate  *VoteEvent          `json:"vote_update,omitempty"`
	Chat        *models.ChatMessage `json:"chat,omitempty"`
}

// ParticipantJoined builds the join event for a room.
func ParticipantJoined(roomID string, p models.Participant) Event {
	return Event{Type: EventParticipantJoined, RoomID: roomID, Participant: &p}
}

// AnnotationCreated builds the creation event for a room.
func AnnotationCreated(a models.Annotation) Event {
	return Event{Type: EventAnnotationCreated, RoomID: a.RoomID, Annotation: &a}
}

// VoteSubmitted builds the vote event for a room.
func VoteSubmitted(roomID, annotationID string, v models.Vote) Event {
	return Event{Type: EventVoteSubmitted, RoomID: roomID, VoteUpdate: &VoteEvent{AnnotationID: annotationID, Vote: v}}
}

// ChatMessage builds the chat event for a room.
func ChatMessage(m models.ChatMessage) Event {
	return Event{Type: EventChatMessage, RoomID: m.RoomID, Chat: &m}
}
