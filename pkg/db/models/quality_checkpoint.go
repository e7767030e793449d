package models

import (
	"time"

	"github.com/google/uuid"
)

// QualityCheckpoint is read-only reference data: one inspection instruction
// for every part whose MPN starts with CategoryPrefix.
type QualityCheckpoint struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	CategoryPrefix string    `gorm:"column:category_prefix;not null"`
	Position       int       `gorm:"column:position;not null"`
	Instruction    string    `gorm:"column:instruction;not null"`
	Mandatory      bool      `gorm:"column:mandatory;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (QualityCheckpoint) TableName() string { return "quality_checkpoints" }
