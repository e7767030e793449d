package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/materialflow/pkg/enums"
)

// LineRef identifies a component line on the wire.
type LineRef struct {
	LineID      uuid.UUID `json:"line_id"`
	OrderNumber string    `json:"order_number"`
	MPN         string    `json:"mpn"`
	LineageID   string    `json:"lineage_id"`
}

// LineStateChangedEvent is emitted for every committed status change.
type LineStateChangedEvent struct {
	Line         LineRef          `json:"line"`
	From         enums.LineStatus `json:"from"`
	To           enums.LineStatus `json:"to"`
	Note         string           `json:"note,omitempty"`
	Version      int64            `json:"version"`
	Shortfall    int              `json:"shortfall"`
	RejectedOpen int              `json:"rejected_open"`
}

// LineSpawnedEvent reports a backorder or return child created under a parent.
type LineSpawnedEvent struct {
	Parent   LineRef           `json:"parent"`
	Child    LineRef           `json:"child"`
	Kind     enums.LineageKind `json:"kind"`
	Quantity int               `json:"quantity"`
}

// PurchaseOrderRaisedEvent announces a PO and the lines it carries.
type PurchaseOrderRaisedEvent struct {
	PONumber   string    `json:"po_number"`
	DirectPOID string    `json:"direct_po_id,omitempty"`
	Lines      []LineRef `json:"lines"`
	RaisedBy   string    `json:"raised_by"`
	RaisedAt   time.Time `json:"raised_at"`
}

// DirectPORequestedEvent opens an approval chain.
type DirectPORequestedEvent struct {
	DirectPOID  string   `json:"direct_po_id"`
	RequestedBy string   `json:"requested_by"`
	Roles       []string `json:"roles"`
	LineCount   int      `json:"line_count"`
}

// DirectPOApprovedEvent signals every slot approved; the PO can be raised.
type DirectPOApprovedEvent struct {
	DirectPOID string    `json:"direct_po_id"`
	ApprovedBy string    `json:"approved_by"`
	ApprovedAt time.Time `json:"approved_at"`
}

// DirectPORejectedEvent terminates a chain.
type DirectPORejectedEvent struct {
	DirectPOID string    `json:"direct_po_id"`
	Role       string    `json:"role"`
	RejectedBy string    `json:"rejected_by"`
	Note       string    `json:"note"`
	RejectedAt time.Time `json:"rejected_at"`
}
