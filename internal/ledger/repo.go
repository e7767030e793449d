package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/materialflow/pkg/db/models"
)

// Repository manages persistence for ledger movements.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Append(ctx context.Context, movements []models.LedgerMovement) error
	ListByLineID(ctx context.Context, lineID uuid.UUID) ([]models.LedgerMovement, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Append(ctx context.Context, movements []models.LedgerMovement) error {
	if len(movements) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&movements).Error
}

func (r *repository) ListByLineID(ctx context.Context, lineID uuid.UUID) ([]models.LedgerMovement, error) {
	var movements []models.LedgerMovement
	if err := r.db.WithContext(ctx).
		Where("line_id = ?", lineID).
		Order("line_version ASC").
		Order("created_at ASC").
		Order("field ASC").
		Find(&movements).Error; err != nil {
		return nil, err
	}
	return movements, nil
}
