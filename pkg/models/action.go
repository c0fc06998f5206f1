package models

import "encoding/json"

// ActionKind identifies the concrete acceptance-path operation a queued
// action maps to. Set by the enqueueing client, which has the authoritative
// intent; replay never probes payloads to determine dispatch.
type ActionKind string

const (
	ActionValidate         ActionKind = "validate"
	ActionFlag             ActionKind = "flag"
	ActionCreateAnnotation ActionKind = "create_annotation"
	ActionSubmitVote       ActionKind = "submit_vote"
	ActionChatMessage      ActionKind = "chat_message"
)

// Valid reports whether k is one of the known action kinds.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionValidate, ActionFlag, ActionCreateAnnotation, ActionSubmitVote, ActionChatMessage:
		return true
	}
	return false
}

// QueuedAction is a user action recorded while disconnected. It is owned by
// the client that created it until acknowledged, and removed from the local
// queue only on success or a terminal failure.
type QueuedAction struct {
	LocalID     string          `json:"local_id"`
	Kind        ActionKind      `json:"kind"`
	RoomID      string          `json:"room_id"`
	ScientistID string          `json:"scientist_id"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	// Created timestamp (ns) - monotonic within one client queue
	CreatedTS int64 `json:"created_ts"`
	Attempts  int   `json:"attempts,omitempty"`
}

// CreateAnnotationPayload is the payload for ActionCreateAnnotation.
type CreateAnnotationPayload struct {
	SequenceID string   `json:"sequence_id"`
	Position   Position `json:"position"`
	Content    string   `json:"content"`
}

// SubmitVotePayload is the payload for ActionSubmitVote.
type SubmitVotePayload struct {
	AnnotationID string    `json:"annotation_id"`
	Value        VoteValue `json:"value"`
	Confidence   int       `json:"confidence"`
	// TS timestamp (ns); zero means "stamp at acceptance time"
	TS int64 `json:"ts,omitempty"`
}

// ReviewPayload is the payload for ActionFlag and ActionValidate.
type ReviewPayload struct {
	SequenceID string `json:"sequence_id"`
}

// ChatPayload is the payload for ActionChatMessage.
type ChatPayload struct {
	Body              string `json:"body"`
	SenderDisplayName string `json:"sender_display_name,omitempty"`
}
