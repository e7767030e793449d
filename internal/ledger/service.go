package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/materialflow/pkg/db/models"
	pkgerrors "github.com/angelmondragon/materialflow/pkg/errors"
)

// Service reads the movement journal of a line.
type Service interface {
	ListMovements(ctx context.Context, lineID uuid.UUID) ([]models.LedgerMovement, error)
}

type service struct {
	repo Repository
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) ListMovements(ctx context.Context, lineID uuid.UUID) ([]models.LedgerMovement, error) {
	if lineID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "line id is required")
	}
	movements, err := s.repo.ListByLineID(ctx, lineID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger movements")
	}
	return movements, nil
}

// Movement is a delta together with the counter value it produced.
type Movement struct {
	Delta
	Result int
}

// Rows converts applied movements into journal rows stamped with the line version they committed under.
func Rows(lineID uuid.UUID, movements []Movement, version int64, actorID, note *string) []models.LedgerMovement {
	if len(movements) == 0 {
		return nil
	}
	out := make([]models.LedgerMovement, 0, len(movements))
	for _, m := range movements {
		out = append(out, models.LedgerMovement{
			LineID:      lineID,
			Field:       m.Field,
			Quantity:    m.Quantity,
			ResultValue: m.Result,
			LineVersion: version,
			ActorID:     actorID,
			Note:        note,
		})
	}
	return out
}
