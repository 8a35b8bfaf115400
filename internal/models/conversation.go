package models

import "time"

// Speaker identifies who produced a conversation turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// ConversationTurn is one append-only entry of a user's chat history.
type ConversationTurn struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	Speaker   Speaker   `json:"speaker"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// DurableFact is one remembered key/value about a user, kept separately
// from raw turn history so it survives history pruning.
type DurableFact struct {
	Phone     string    `json:"phone"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
