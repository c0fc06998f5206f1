package models

// VoteValue is a participant's judgment on an annotation.
type VoteValue string

const (
	VoteConfirm   VoteValue = "confirm"
	VoteReject    VoteValue = "reject"
	VoteUncertain VoteValue = "uncertain"
)

// Valid reports whether v is one of the known vote values.
func (v VoteValue) Valid() bool {
	return v == VoteConfirm || v == VoteReject || v == VoteUncertain
}

// Position is an inclusive range within a sequence. Invariant: Start <= End.
type Position struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Vote is a scientist's judgment with confidence in [0,100]. At most one
// vote per (annotation, scientist); a later vote replaces the earlier one
// (last-write-wins on TS, later-applied wins on equal TS).
type Vote struct {
	ScientistID string    `json:"scientist_id"`
	Value       VoteValue `json:"value"`
	Confidence  int       `json:"confidence"`
	// TS timestamp (ns)
	TS int64 `json:"ts"`
}

// Annotation is a positional note on a classified sequence inside a room.
// Never deleted, only superseded by votes.
type Annotation struct {
	ID         string   `json:"id"`
	RoomID     string   `json:"room_id"`
	SequenceID string   `json:"sequence_id"`
	Position   Position `json:"position"`
	Content    string   `json:"content"`
	CreatedBy  string   `json:"created_by"`
	// Created timestamp (ns)
	CreatedTS int64  `json:"created_ts"`
	Votes     []Vote `json:"votes,omitempty"`
	// LocalID carries the client-generated id used for duplicate detection
	// when the annotation arrives via queue replay.
	LocalID string `json:"local_id,omitempty"`
}

// ReviewStatus is the flagged/validated state of a finding in a room.
type ReviewStatus string

const (
	ReviewFlagged   ReviewStatus = "flagged"
	ReviewValidated ReviewStatus = "validated"
)

// Review records the latest flag/validate action on a sequence within a
// room. Later accepted actions overwrite earlier ones; there is no conflict
// logic beyond order of application.
type Review struct {
	RoomID     string       `json:"room_id"`
	SequenceID string       `json:"sequence_id"`
	Status     ReviewStatus `json:"status"`
	ReviewedBy string       `json:"reviewed_by"`
	// TS timestamp (ns)
	TS int64 `json:"ts"`
}
