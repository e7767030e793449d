package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/materialflow/pkg/enums"
)

// ApprovalChain is the ordered approval record of one direct-PO request.
type ApprovalChain struct {
	ID          uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	DirectPOID  string                    `gorm:"column:direct_po_id;not null"`
	Status      enums.ApprovalChainStatus `gorm:"column:status;not null"`
	RequestedBy string                    `gorm:"column:requested_by;not null"`
	POReference *string                   `gorm:"column:po_reference"`
	Version     int64                     `gorm:"column:version;not null;default:1"`
	CreatedAt   time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time                 `gorm:"column:updated_at;autoUpdateTime"`

	Slots []ApprovalSlot `gorm:"foreignKey:ChainID;references:ID"`
}

func (ApprovalChain) TableName() string { return "approval_chains" }

func (c *ApprovalChain) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Version == 0 {
		c.Version = 1
	}
	return nil
}

// ApprovalSlot is one (role, decision, timestamp, note) tuple. Decision is nil
// while the slot is unfilled.
type ApprovalSlot struct {
	ID        uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	ChainID   uuid.UUID               `gorm:"column:chain_id;type:uuid;not null"`
	Ordinal   int                     `gorm:"column:ordinal;not null"`
	Role      enums.ApprovalRole      `gorm:"column:role;not null"`
	Decision  *enums.ApprovalDecision `gorm:"column:decision"`
	ActorID   *string                 `gorm:"column:actor_id"`
	Note      *string                 `gorm:"column:note"`
	DecidedAt *time.Time              `gorm:"column:decided_at"`
	CreatedAt time.Time               `gorm:"column:created_at;autoCreateTime"`
}

func (ApprovalSlot) TableName() string { return "approval_slots" }

func (s *ApprovalSlot) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// Filled reports whether a decision has been recorded.
func (s ApprovalSlot) Filled() bool {
	return s.Decision != nil
}
