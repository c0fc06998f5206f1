package models

// ChatMessage is an ephemeral room message. Delivered in send order to
// members connected at send time; never persisted.
type ChatMessage struct {
	ID                string `json:"id"`
	RoomID            string `json:"room_id"`
	SenderID          string `json:"sender_id"`
	SenderDisplayName string `json:"sender_display_name,omitempty"`
	Body              string `json:"body"`
	// TS timestamp (ns)
	TS int64 `json:"ts"`
}
