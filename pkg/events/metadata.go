package events

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventMetadata identifies the turn an event belongs to.
type EventMetadata struct {
	// ID is the assistant message being written.
	ID             uuid.UUID `json:"message_id" yaml:"message_id"`
	ConversationID string    `json:"conversation_id" yaml:"conversation_id"`
	TurnID         string    `json:"turn_id,omitempty" yaml:"turn_id,omitempty"`
	CredentialID   string    `json:"credential_id,omitempty" yaml:"credential_id,omitempty"`
	Provider       string    `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model          string    `json:"model,omitempty" yaml:"model,omitempty"`
	// Attempt counts provider attempts within the turn, starting at 1.
	Attempt int `json:"attempt,omitempty" yaml:"attempt,omitempty"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("message_id", em.ID.String())
	e.Str("conversation_id", em.ConversationID)
	if em.TurnID != "" {
		e.Str("turn_id", em.TurnID)
	}
	if em.CredentialID != "" {
		e.Str("credential_id", em.CredentialID)
	}
	if em.Provider != "" {
		e.Str("provider", em.Provider)
	}
	if em.Model != "" {
		e.Str("model", em.Model)
	}
	if em.Attempt > 0 {
		e.Int("attempt", em.Attempt)
	}
}
