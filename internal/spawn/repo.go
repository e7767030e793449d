package spawn

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/materialflow/pkg/db"
	"github.com/angelmondragon/materialflow/pkg/db/models"
	pkgerrors "github.com/angelmondragon/materialflow/pkg/errors"
)

// Repository persists spawn tokens.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByToken(ctx context.Context, token string) (*models.SpawnRecord, error)
	Create(ctx context.Context, record *models.SpawnRecord) error
	ListByParent(ctx context.Context, parentLineID uuid.UUID) ([]models.SpawnRecord, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindByToken returns nil, nil when the token was never used.
func (r *repository) FindByToken(ctx context.Context, token string) (*models.SpawnRecord, error) {
	var record models.SpawnRecord
	err := r.db.WithContext(ctx).Where("token = ?", token).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup spawn token")
	}
	return &record, nil
}

func (r *repository) Create(ctx context.Context, record *models.SpawnRecord) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return pkgerrors.Newf(pkgerrors.CodeDuplicateSpawnToken, "spawn token %q already used", record.Token)
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record spawn token")
	}
	return nil
}

func (r *repository) ListByParent(ctx context.Context, parentLineID uuid.UUID) ([]models.SpawnRecord, error) {
	var records []models.SpawnRecord
	if err := r.db.WithContext(ctx).
		Where("parent_line_id = ?", parentLineID).
		Order("created_at ASC").
		Order("child_lineage_id ASC").
		Find(&records).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list spawn records")
	}
	return records, nil
}
