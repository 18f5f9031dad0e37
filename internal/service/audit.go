package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sahelpay/sahelpay/internal/ledger"
	"github.com/sahelpay/sahelpay/internal/models"
)

// writeAudit stores a single immutable audit record inside the same atomic
// unit as the change it describes.
func writeAudit(ctx context.Context, tx ledger.Tx, entityType string, entityID uuid.UUID, actorID *uuid.UUID, action, prevState, nextState string, metadata map[string]any) error {
	if err := tx.AppendAudit(ctx, &models.AuditRecord{
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    actorID,
		Action:     action,
		PrevState:  prevState,
		NextState:  nextState,
		Metadata:   metadata,
	}); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}
