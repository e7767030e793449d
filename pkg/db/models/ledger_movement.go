package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/materialflow/pkg/enums"
)

// LedgerMovement is one append-only quantity delta applied to a line.
type LedgerMovement struct {
	ID          uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	LineID      uuid.UUID         `gorm:"column:line_id;type:uuid;not null"`
	Field       enums.LedgerField `gorm:"column:field;not null"`
	Quantity    int               `gorm:"column:quantity;not null"`
	ResultValue int               `gorm:"column:result_value;not null"`
	LineVersion int64             `gorm:"column:line_version;not null"`
	ActorID     *string           `gorm:"column:actor_id"`
	Note        *string           `gorm:"column:note"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime"`
}

func (LedgerMovement) TableName() string { return "ledger_movements" }

func (m *LedgerMovement) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
