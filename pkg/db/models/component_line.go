package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/materialflow/pkg/enums"
)

// LineKey identifies one component line aggregate.
type LineKey struct {
	OrderNumber string `json:"orderNumber"`
	MPN         string `json:"mpn"`
	LineageID   string `json:"lineageId"`
}

func (k LineKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.OrderNumber, k.MPN, k.LineageID)
}

// IsZero reports whether any identity component is missing.
func (k LineKey) IsZero() bool {
	return k.OrderNumber == "" || k.MPN == "" || k.LineageID == ""
}

// ComponentLine is one ordered quantity of one part on one order.
type ComponentLine struct {
	ID              uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber     string            `gorm:"column:order_number;not null"`
	MPN             string            `gorm:"column:mpn;not null"`
	LineageID       string            `gorm:"column:lineage_id;not null"`
	LineageKind     enums.LineageKind `gorm:"column:lineage_kind;not null"`
	ParentLineageID *string           `gorm:"column:parent_lineage_id"`
	Description     string            `gorm:"column:description;not null;default:''"`
	UOM             string            `gorm:"column:uom;not null"`
	RatePerUnit     decimal.Decimal   `gorm:"column:rate_per_unit;type:numeric(14,4);not null"`
	GSTPercent      decimal.Decimal   `gorm:"column:gst_percent;type:numeric(5,2);not null"`
	OrderedQty      int               `gorm:"column:ordered_qty;not null"`
	ReceivedQty     int               `gorm:"column:received_qty;not null;default:0"`
	PassedQty       int               `gorm:"column:passed_qty;not null;default:0"`
	FailedQty       int               `gorm:"column:failed_qty;not null;default:0"`
	ReturnedQty     int               `gorm:"column:returned_qty;not null;default:0"`
	ReorderedQty    int               `gorm:"column:reordered_qty;not null;default:0"`
	WrittenOffQty   int               `gorm:"column:written_off_qty;not null;default:0"`
	ShortClosedQty  int               `gorm:"column:short_closed_qty;not null;default:0"`
	Status          enums.LineStatus  `gorm:"column:status;not null"`
	StatusNote      *string           `gorm:"column:status_note"`
	DirectPOID      *string           `gorm:"column:direct_po_id"`
	POReference     *string           `gorm:"column:po_reference"`
	LastDeliveryAt  *time.Time        `gorm:"column:last_delivery_at"`
	Version         int64             `gorm:"column:version;not null;default:1"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (ComponentLine) TableName() string { return "component_lines" }

// BeforeCreate assigns the surrogate id and the initial version.
func (l *ComponentLine) BeforeCreate(*gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.Version == 0 {
		l.Version = 1
	}
	return nil
}

// Key returns the aggregate identity.
func (l ComponentLine) Key() LineKey {
	return LineKey{OrderNumber: l.OrderNumber, MPN: l.MPN, LineageID: l.LineageID}
}

// ParentKey resolves the back-reference; ok is false for main lines.
func (l ComponentLine) ParentKey() (LineKey, bool) {
	if l.ParentLineageID == nil || *l.ParentLineageID == "" {
		return LineKey{}, false
	}
	return LineKey{OrderNumber: l.OrderNumber, MPN: l.MPN, LineageID: *l.ParentLineageID}, true
}
