package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditRecord is one immutable audit trail row describing a state change on
// a ledger-managed entity. Written inside the same atomic unit as the change
// it describes.
type AuditRecord struct {
	ID         int64          `json:"id"`
	EntityType string         `json:"entity_type"`
	EntityID   uuid.UUID      `json:"entity_id"`
	ActorID    *uuid.UUID     `json:"actor_id,omitempty"`
	Action     string         `json:"action"`
	PrevState  string         `json:"prev_state,omitempty"`
	NextState  string         `json:"next_state,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
