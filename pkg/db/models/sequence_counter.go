package models

import (
	"time"

	"github.com/angelmondragon/materialflow/pkg/enums"
)

// SequenceCounter is the high-water mark of one (kind, parent_ref) scope.
type SequenceCounter struct {
	Kind      enums.SequenceKind `gorm:"column:kind;primaryKey"`
	ParentRef string             `gorm:"column:parent_ref;primaryKey"`
	LastValue int64              `gorm:"column:last_value;not null"`
	UpdatedAt time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (SequenceCounter) TableName() string { return "sequence_counters" }
