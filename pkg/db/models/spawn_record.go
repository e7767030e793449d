package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/materialflow/pkg/enums"
)

// SpawnRecord remembers which child a caller-supplied token produced.
type SpawnRecord struct {
	ID              uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	Token           string            `gorm:"column:token;not null"`
	Kind            enums.LineageKind `gorm:"column:kind;not null"`
	ParentLineID    uuid.UUID         `gorm:"column:parent_line_id;type:uuid;not null"`
	ChildLineID     uuid.UUID         `gorm:"column:child_line_id;type:uuid;not null"`
	ChildLineageID  string            `gorm:"column:child_lineage_id;not null"`
	Quantity        int               `gorm:"column:quantity;not null"`
	ParentVersionAt int64             `gorm:"column:parent_version_at;not null"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime"`
}

func (SpawnRecord) TableName() string { return "spawn_records" }

func (r *SpawnRecord) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
