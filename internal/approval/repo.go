package approval

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/materialflow/pkg/db"
	"github.com/angelmondragon/materialflow/pkg/db/models"
	pkgerrors "github.com/angelmondragon/materialflow/pkg/errors"
)

// Repository persists approval chains and their slots.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, chain *models.ApprovalChain) error
	FindByDirectPO(ctx context.Context, directPOID string, forUpdate bool) (*models.ApprovalChain, error)
	SaveSlot(ctx context.Context, slot *models.ApprovalSlot) error
	Update(ctx context.Context, chain *models.ApprovalChain, expectedVersion int64) error
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

// Create inserts the chain together with its slots.
func (r *repository) Create(ctx context.Context, chain *models.ApprovalChain) error {
	if err := r.db.WithContext(ctx).Create(chain).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "approval chain already exists")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create approval chain")
	}
	return nil
}

func (r *repository) FindByDirectPO(ctx context.Context, directPOID string, forUpdate bool) (*models.ApprovalChain, error) {
	q := r.db.WithContext(ctx)
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var chain models.ApprovalChain
	err := q.Preload("Slots", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("ordinal ASC")
	}).Where("direct_po_id = ?", directPOID).First(&chain).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "direct PO %s not found", directPOID)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load approval chain")
	}
	return &chain, nil
}

// SaveSlot records a decision on a still-unfilled slot.
func (r *repository) SaveSlot(ctx context.Context, slot *models.ApprovalSlot) error {
	res := r.db.WithContext(ctx).
		Model(&models.ApprovalSlot{}).
		Where("id = ? AND decision IS NULL", slot.ID).
		Updates(map[string]any{
			"decision":   slot.Decision,
			"actor_id":   slot.ActorID,
			"note":       slot.Note,
			"decided_at": slot.DecidedAt,
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "record approval decision")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConcurrentModification, "approval slot already decided")
	}
	return nil
}

// Update writes status and po_reference when the stored version matches.
// chain.Version must already hold the next version.
func (r *repository) Update(ctx context.Context, chain *models.ApprovalChain, expectedVersion int64) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.ApprovalChain{}).
		Where("id = ? AND version = ?", chain.ID, expectedVersion).
		Updates(map[string]any{
			"status":       chain.Status,
			"po_reference": chain.POReference,
			"version":      chain.Version,
			"updated_at":   now,
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update approval chain")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.Newf(pkgerrors.CodeConcurrentModification, "approval chain %s changed concurrently", chain.DirectPOID)
	}
	chain.UpdatedAt = now
	return nil
}
