package controllers

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/materialflow/internal/approval"
	"github.com/angelmondragon/materialflow/internal/ledger"
	"github.com/angelmondragon/materialflow/internal/orders"
	"github.com/angelmondragon/materialflow/internal/spawn"
	"github.com/angelmondragon/materialflow/pkg/db/models"
)

var hundred = decimal.NewFromInt(100)

type QuantitiesView struct {
	ledger.Quantities
	Shortfall    int `json:"shortfall"`
	RejectedOpen int `json:"rejectedOpen"`
	Undisposed   int `json:"undisposed"`
}

type LineView struct {
	OrderNumber     string         `json:"orderNumber"`
	MPN             string         `json:"mpn"`
	LineageID       string         `json:"lineageId"`
	LineageKind     string         `json:"lineageKind"`
	ParentLineageID *string        `json:"parentLineageId,omitempty"`
	Description     string         `json:"description"`
	UOM             string         `json:"uom"`
	RatePerUnit     string         `json:"ratePerUnit"`
	GSTPercent      string         `json:"gstPercent"`
	LineTotal       string         `json:"lineTotal"`
	Quantities      QuantitiesView `json:"quantities"`
	Status          string         `json:"status"`
	StatusNote      *string        `json:"statusNote,omitempty"`
	DirectPOID      *string        `json:"directPoId,omitempty"`
	POReference     *string        `json:"poReference,omitempty"`
	LastDeliveryAt  *time.Time     `json:"lastDeliveryAt,omitempty"`
	Version         int64          `json:"version"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// lineTotal is ordered units at the unit rate plus GST, rounded to cents.
func lineTotal(line *models.ComponentLine) string {
	base := line.RatePerUnit.Mul(decimal.NewFromInt(int64(line.OrderedQty)))
	tax := base.Mul(line.GSTPercent).Div(hundred)
	return base.Add(tax).StringFixed(2)
}

func lineView(line *models.ComponentLine) LineView {
	q := ledger.FromLine(line)
	return LineView{
		OrderNumber:     line.OrderNumber,
		MPN:             line.MPN,
		LineageID:       line.LineageID,
		LineageKind:     string(line.LineageKind),
		ParentLineageID: line.ParentLineageID,
		Description:     line.Description,
		UOM:             line.UOM,
		RatePerUnit:     line.RatePerUnit.StringFixed(4),
		GSTPercent:      line.GSTPercent.StringFixed(2),
		LineTotal:       lineTotal(line),
		Quantities: QuantitiesView{
			Quantities:   q,
			Shortfall:    q.Shortfall(),
			RejectedOpen: q.RejectedOpen(),
			Undisposed:   q.Undisposed(),
		},
		Status:         string(line.Status),
		StatusNote:     line.StatusNote,
		DirectPOID:     line.DirectPOID,
		POReference:    line.POReference,
		LastDeliveryAt: line.LastDeliveryAt,
		Version:        line.Version,
		CreatedAt:      line.CreatedAt,
		UpdatedAt:      line.UpdatedAt,
	}
}

func lineViews(lines []models.ComponentLine) []LineView {
	out := make([]LineView, 0, len(lines))
	for i := range lines {
		out = append(out, lineView(&lines[i]))
	}
	return out
}

type SpawnView struct {
	Parent   LineView `json:"parent"`
	Child    LineView `json:"child"`
	Replayed bool     `json:"replayed"`
}

func spawnView(res *spawn.Result) SpawnView {
	return SpawnView{
		Parent:   lineView(res.Parent),
		Child:    lineView(res.Child),
		Replayed: res.Replayed,
	}
}

type SpawnRecordView struct {
	Token           string    `json:"token"`
	Kind            string    `json:"kind"`
	ChildLineageID  string    `json:"childLineageId"`
	Quantity        int       `json:"quantity"`
	ParentVersionAt int64     `json:"parentVersionAt"`
	CreatedAt       time.Time `json:"createdAt"`
}

func spawnRecordViews(rows []models.SpawnRecord) []SpawnRecordView {
	out := make([]SpawnRecordView, 0, len(rows))
	for _, row := range rows {
		out = append(out, SpawnRecordView{
			Token:           row.Token,
			Kind:            string(row.Kind),
			ChildLineageID:  row.ChildLineageID,
			Quantity:        row.Quantity,
			ParentVersionAt: row.ParentVersionAt,
			CreatedAt:       row.CreatedAt,
		})
	}
	return out
}

type MovementView struct {
	Field       string    `json:"field"`
	Quantity    int       `json:"quantity"`
	ResultValue int       `json:"resultValue"`
	LineVersion int64     `json:"lineVersion"`
	ActorID     *string   `json:"actorId,omitempty"`
	Note        *string   `json:"note,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func movementViews(rows []models.LedgerMovement) []MovementView {
	out := make([]MovementView, 0, len(rows))
	for _, row := range rows {
		out = append(out, MovementView{
			Field:       string(row.Field),
			Quantity:    row.Quantity,
			ResultValue: row.ResultValue,
			LineVersion: row.LineVersion,
			ActorID:     row.ActorID,
			Note:        row.Note,
			CreatedAt:   row.CreatedAt,
		})
	}
	return out
}

type SlotView struct {
	Ordinal   int        `json:"ordinal"`
	Role      string     `json:"role"`
	Decision  *string    `json:"decision,omitempty"`
	ActorID   *string    `json:"actorId,omitempty"`
	Note      *string    `json:"note,omitempty"`
	DecidedAt *time.Time `json:"decidedAt,omitempty"`
}

type ChainView struct {
	DirectPOID  string     `json:"directPoId"`
	Status      string     `json:"status"`
	RequestedBy string     `json:"requestedBy"`
	POReference *string    `json:"poReference,omitempty"`
	NextRole    *string    `json:"nextRole,omitempty"`
	Slots       []SlotView `json:"slots"`
	Lines       []LineView `json:"lines"`
	Version     int64      `json:"version"`
}

func chainView(chain *approval.Chain) ChainView {
	view := ChainView{
		DirectPOID:  chain.DirectPOID,
		Status:      string(chain.Status),
		RequestedBy: chain.RequestedBy,
		POReference: chain.POReference,
		Slots:       make([]SlotView, 0, len(chain.Slots)),
		Lines:       lineViews(chain.Lines),
		Version:     chain.Version,
	}
	if open := approval.OpenSlot(chain.ApprovalChain); open != nil {
		role := string(open.Role)
		view.NextRole = &role
	}
	for _, slot := range chain.Slots {
		sv := SlotView{
			Ordinal:   slot.Ordinal,
			Role:      string(slot.Role),
			ActorID:   slot.ActorID,
			Note:      slot.Note,
			DecidedAt: slot.DecidedAt,
		}
		if slot.Decision != nil {
			decision := string(*slot.Decision)
			sv.Decision = &decision
		}
		view.Slots = append(view.Slots, sv)
	}
	return view
}

type PurchaseOrderView struct {
	PONumber   string     `json:"poNumber"`
	DirectPOID string     `json:"directPoId,omitempty"`
	RaisedAt   time.Time  `json:"raisedAt"`
	OrderTotal string     `json:"orderTotal"`
	Lines      []LineView `json:"lines"`
}

func purchaseOrderView(po *orders.PurchaseOrder) PurchaseOrderView {
	total := decimal.Zero
	for i := range po.Lines {
		total = total.Add(decimal.RequireFromString(lineTotal(&po.Lines[i])))
	}
	return PurchaseOrderView{
		PONumber:   po.PONumber,
		DirectPOID: po.DirectPOID,
		RaisedAt:   po.RaisedAt,
		OrderTotal: total.StringFixed(2),
		Lines:      lineViews(po.Lines),
	}
}

type CheckpointView struct {
	CategoryPrefix string `json:"categoryPrefix"`
	Position       int    `json:"position"`
	Instruction    string `json:"instruction"`
	Mandatory      bool   `json:"mandatory"`
}

func checkpointViews(rows []models.QualityCheckpoint) []CheckpointView {
	out := make([]CheckpointView, 0, len(rows))
	for _, row := range rows {
		out = append(out, CheckpointView{
			CategoryPrefix: row.CategoryPrefix,
			Position:       row.Position,
			Instruction:    row.Instruction,
			Mandatory:      row.Mandatory,
		})
	}
	return out
}
