package state

import "github.com/hatcher/kbchat/models"

// Status tags whether a message is still an optimistic local entry or has
// been confirmed by the server. Rollback and replacement go through the tag
// and the local id, never through list positions.
type Status string

const (
	StatusProvisional Status = "provisional"
	StatusConfirmed   Status = "confirmed"
)

type ChatMessage struct {
	models.Message
	Status Status
	// LocalID keys provisional entries until the server assigns an id.
	LocalID string
}

type ChangeKind string

const (
	SessionsChanged ChangeKind = "sessions"
	MessagesChanged ChangeKind = "messages"
	DeltaReceived   ChangeKind = "delta"
	ErrorChanged    ChangeKind = "error"
)

// Change is what subscribers receive when the managed state moves.
type Change struct {
	Kind      ChangeKind
	SessionID int64
	Delta     string
	Err       string
}
