package spawn

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/materialflow/internal/ledger"
	"github.com/angelmondragon/materialflow/internal/lifecycle"
	"github.com/angelmondragon/materialflow/internal/sequence"
	"github.com/angelmondragon/materialflow/pkg/db/models"
	"github.com/angelmondragon/materialflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/materialflow/pkg/errors"
	"github.com/angelmondragon/materialflow/pkg/logger"
	"github.com/angelmondragon/materialflow/pkg/metrics"
	"github.com/angelmondragon/materialflow/pkg/outbox"
	"github.com/angelmondragon/materialflow/pkg/outbox/payloads"
)

const maxTokenLength = 128

// Service raises backorder and return children under a parent line.
type Service interface {
	RequestBackorder(ctx context.Context, input BackorderInput) (*Result, error)
	RequestReturn(ctx context.Context, input ReturnInput) (*Result, error)
	CompleteReturn(ctx context.Context, input CompleteReturnInput) (*models.ComponentLine, error)
	ListSpawns(ctx context.Context, key models.LineKey) ([]models.SpawnRecord, error)
}

type BackorderInput struct {
	Key   models.LineKey
	Token string
	Actor lifecycle.Actor
}

type ReturnInput struct {
	Key      models.LineKey
	Quantity int
	Token    string
	Actor    lifecycle.Actor
}

type CompleteReturnInput struct {
	Key   models.LineKey
	Note  string
	Actor lifecycle.Actor
}

// Result carries the child and the parent as committed. Replayed is true
// when the token had already produced the child.
type Result struct {
	Parent   *models.ComponentLine
	Child    *models.ComponentLine
	Replayed bool
}

type ServiceParams struct {
	Machine   *lifecycle.Machine
	Records   Repository
	Allocator *sequence.Allocator
	Metrics   *metrics.LifecycleMetrics
	Logger    *logger.Logger
}

type service struct {
	machine   *lifecycle.Machine
	lines     lifecycle.Repository
	records   Repository
	allocator *sequence.Allocator
	metrics   *metrics.LifecycleMetrics
	logg      *logger.Logger
}

func NewService(p ServiceParams) (Service, error) {
	if p.Machine == nil {
		return nil, fmt.Errorf("lifecycle machine required")
	}
	if p.Records == nil {
		return nil, fmt.Errorf("spawn repository required")
	}
	if p.Allocator == nil {
		return nil, fmt.Errorf("sequence allocator required")
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	return &service{
		machine:   p.Machine,
		lines:     p.Machine.Lines(),
		records:   p.Records,
		allocator: p.Allocator,
		metrics:   p.Metrics,
		logg:      p.Logger,
	}, nil
}

func (s *service) RequestBackorder(ctx context.Context, input BackorderInput) (*Result, error) {
	return s.spawn(ctx, spawnRequest{
		op:       "request_backorder",
		kind:     enums.LineageBackorder,
		key:      input.Key,
		token:    input.Token,
		actor:    input.Actor,
		eligible: backorderEligible,
		allocate: s.allocator.Backorder,
		apply: func(line *lifecycle.Line) (int, error) {
			qty := line.Quantities().Shortfall()
			if err := line.Apply(ledger.Delta{Field: enums.LedgerReordered, Quantity: qty}); err != nil {
				return 0, err
			}
			// Nothing is outstanding on the parent any more. Received units
			// move on to inspection; an all-backordered parent waits in
			// DeliveryPending and closes once its children do.
			if line.Quantities().Received > 0 {
				return qty, line.TransitionTo(enums.LineStatusQcPending, "")
			}
			return qty, nil
		},
		childStatus: enums.LineStatusDeliveryPending,
	})
}

func (s *service) RequestReturn(ctx context.Context, input ReturnInput) (*Result, error) {
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "return quantity must be positive")
	}
	return s.spawn(ctx, spawnRequest{
		op:       "request_return",
		kind:     enums.LineageReturn,
		key:      input.Key,
		token:    input.Token,
		actor:    input.Actor,
		quantity: input.Quantity,
		eligible: returnEligible,
		allocate: s.allocator.Return,
		apply: func(line *lifecycle.Line) (int, error) {
			if err := line.Apply(ledger.Delta{Field: enums.LedgerReturned, Quantity: input.Quantity}); err != nil {
				return 0, err
			}
			if line.Status() != enums.LineStatusReturnCreated {
				if err := line.TransitionTo(enums.LineStatusReturnCreated, ""); err != nil {
					return 0, err
				}
			}
			return input.Quantity, nil
		},
		childStatus: enums.LineStatusReturnCreated,
	})
}

// CompleteReturn records the vendor's acknowledgement of a return child. The
// child closes and the parent's closure is re-evaluated.
func (s *service) CompleteReturn(ctx context.Context, input CompleteReturnInput) (*models.ComponentLine, error) {
	return s.machine.Mutate(ctx, "complete_return", input.Key, input.Actor, func(ctx context.Context, tx *lifecycle.Tx, line *lifecycle.Line) error {
		row := line.Row()
		if row.LineageKind != enums.LineageReturn || line.Status() != enums.LineStatusReturnCreated {
			return pkgerrors.Newf(pkgerrors.CodeIllegalTransition, "line %s is not an open return", line.Key())
		}
		outstanding := line.Quantities().Shortfall()
		if outstanding == 0 {
			return nil
		}
		line.Annotate(input.Note)
		return line.Apply(ledger.Delta{Field: enums.LedgerReceived, Quantity: outstanding})
	})
}

// ListSpawns returns the spawn records raised under a line, oldest first.
func (s *service) ListSpawns(ctx context.Context, key models.LineKey) ([]models.SpawnRecord, error) {
	if key.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number, mpn and lineage id are required")
	}
	parent, err := s.lines.FindByKey(ctx, key, false)
	if err != nil {
		return nil, err
	}
	return s.records.ListByParent(ctx, parent.ID)
}

type spawnRequest struct {
	op          string
	kind        enums.LineageKind
	key         models.LineKey
	token       string
	actor       lifecycle.Actor
	quantity    int
	eligible    func(q ledger.Quantities, status enums.LineStatus) error
	allocate    func(ctx context.Context, orderNumber string) (sequence.ID, error)
	apply       func(line *lifecycle.Line) (int, error)
	childStatus enums.LineStatus
}

func (s *service) spawn(ctx context.Context, req spawnRequest) (*Result, error) {
	req.token = strings.TrimSpace(req.token)
	if req.token == "" || len(req.token) > maxTokenLength {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "spawn token must be 1-%d characters", maxTokenLength)
	}
	if req.key.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number, mpn and lineage id are required")
	}

	parent, err := s.lines.FindByKey(ctx, req.key, false)
	if err != nil {
		return nil, err
	}
	if replay, err := s.replay(ctx, s.records, s.lines, req, parent); replay != nil || err != nil {
		return replay, err
	}
	if err := req.eligible(ledger.FromLine(parent), parent.Status); err != nil {
		s.machine.Reject(ctx, req.op, err)
		return nil, err
	}

	// Numbers are allocated outside the transaction; a rolled-back spawn burns its number.
	seq, err := req.allocate(ctx, req.key.OrderNumber)
	if err != nil {
		return nil, err
	}

	var result Result
	updated, err := s.machine.Mutate(ctx, req.op, req.key, req.actor, func(ctx context.Context, tx *lifecycle.Tx, line *lifecycle.Line) error {
		row := line.Row()
		replay, err := s.replay(ctx, s.records.WithTx(tx.DB), tx.Lines, req, &row)
		if err != nil {
			return err
		}
		if replay != nil {
			result = *replay
			return nil
		}
		if err := req.eligible(line.Quantities(), line.Status()); err != nil {
			return err
		}

		qty, err := req.apply(line)
		if err != nil {
			return err
		}
		child := newChild(&row, req.kind, seq.String(), qty, req.childStatus)
		if err := tx.Lines.Create(ctx, child); err != nil {
			return err
		}
		if err := s.records.WithTx(tx.DB).Create(ctx, &models.SpawnRecord{
			Token:           req.token,
			Kind:            req.kind,
			ParentLineID:    row.ID,
			ChildLineID:     child.ID,
			ChildLineageID:  child.LineageID,
			Quantity:        qty,
			ParentVersionAt: row.Version,
		}); err != nil {
			return err
		}
		if err := tx.Emit(ctx, outbox.DomainEvent{
			EventType:     enums.EventLineSpawned,
			AggregateType: enums.AggregateComponentLine,
			AggregateID:   child.ID,
			Data: payloads.LineSpawnedEvent{
				Parent:   lifecycle.LineRef(&row),
				Child:    lifecycle.LineRef(child),
				Kind:     req.kind,
				Quantity: qty,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue spawn event")
		}
		result.Child = child
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Parent = updated
	if !result.Replayed {
		s.metrics.IncSpawn(string(req.kind))
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"operation":        req.op,
			"order_number":     req.key.OrderNumber,
			"mpn":              req.key.MPN,
			"parent_lineage":   req.key.LineageID,
			"child_lineage_id": result.Child.LineageID,
			"quantity":         result.Child.OrderedQty,
		}), "child line spawned")
	}
	return &result, nil
}

// replay returns the child a token already produced. A token reused for a
// different parent, kind or quantity is a DuplicateSpawnToken.
func (s *service) replay(ctx context.Context, records Repository, lines lifecycle.Repository, req spawnRequest, parent *models.ComponentLine) (*Result, error) {
	record, err := records.FindByToken(ctx, req.token)
	if err != nil || record == nil {
		return nil, err
	}
	if record.ParentLineID != parent.ID || record.Kind != req.kind ||
		(req.kind == enums.LineageReturn && record.Quantity != req.quantity) {
		return nil, pkgerrors.Newf(pkgerrors.CodeDuplicateSpawnToken, "spawn token %q was used for a different request", req.token).
			WithDetails(map[string]any{"childLineageId": record.ChildLineageID})
	}
	child, err := lines.FindByKey(ctx, models.LineKey{
		OrderNumber: parent.OrderNumber,
		MPN:         parent.MPN,
		LineageID:   record.ChildLineageID,
	}, false)
	if err != nil {
		return nil, err
	}
	return &Result{Parent: parent, Child: child, Replayed: true}, nil
}

func backorderEligible(q ledger.Quantities, status enums.LineStatus) error {
	if q.Shortfall() == 0 {
		return pkgerrors.New(pkgerrors.CodeNothingToSpawn, "line has no shortfall")
	}
	if status != enums.LineStatusDeliveryPending {
		return pkgerrors.Newf(pkgerrors.CodeParentNotEligible, "backorders need a line in %s, not %s", enums.LineStatusDeliveryPending, status)
	}
	return nil
}

func returnEligible(q ledger.Quantities, status enums.LineStatus) error {
	if !lifecycle.ReturnEligible(status) {
		return pkgerrors.Newf(pkgerrors.CodeParentNotEligible, "returns are not accepted while the line is %s", status)
	}
	if q.RejectedOpen() == 0 {
		return pkgerrors.New(pkgerrors.CodeNothingToSpawn, "line has no open rejected units")
	}
	return nil
}

func newChild(parent *models.ComponentLine, kind enums.LineageKind, lineageID string, qty int, status enums.LineStatus) *models.ComponentLine {
	parentLineage := parent.LineageID
	return &models.ComponentLine{
		OrderNumber:     parent.OrderNumber,
		MPN:             parent.MPN,
		LineageID:       lineageID,
		LineageKind:     kind,
		ParentLineageID: &parentLineage,
		Description:     parent.Description,
		UOM:             parent.UOM,
		RatePerUnit:     parent.RatePerUnit,
		GSTPercent:      parent.GSTPercent,
		OrderedQty:      qty,
		Status:          status,
		DirectPOID:      parent.DirectPOID,
		POReference:     parent.POReference,
	}
}
