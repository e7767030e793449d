package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/materialflow/internal/approval"
	"github.com/angelmondragon/materialflow/internal/lifecycle"
	"github.com/angelmondragon/materialflow/internal/sequence"
	"github.com/angelmondragon/materialflow/pkg/db/models"
	"github.com/angelmondragon/materialflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/materialflow/pkg/errors"
	"github.com/angelmondragon/materialflow/pkg/logger"
	"github.com/angelmondragon/materialflow/pkg/outbox"
	"github.com/angelmondragon/materialflow/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service raises purchase orders.
type Service interface {
	RaisePurchaseOrder(ctx context.Context, input RaiseInput) (*PurchaseOrder, error)
	RaiseDirectPO(ctx context.Context, input RaiseDirectInput) (*PurchaseOrder, error)
}

type RaiseInput struct {
	Actor lifecycle.Actor
	Lines []lifecycle.NewLineInput
}

type RaiseDirectInput struct {
	DirectPOID string
	Actor      lifecycle.Actor
}

// PurchaseOrder is a raised PO and its main lines.
type PurchaseOrder struct {
	PONumber   string                 `json:"poNumber"`
	DirectPOID string                 `json:"directPoId,omitempty"`
	RaisedAt   time.Time              `json:"raisedAt"`
	Lines      []models.ComponentLine `json:"lines"`
}

type ServiceParams struct {
	DB        txRunner
	Machine   *lifecycle.Machine
	Chains    approval.Repository
	Allocator *sequence.Allocator
	Emitter   outbox.Emitter
	Logger    *logger.Logger
	// RaiserRole may raise approved direct POs. Defaults to purchase_head.
	RaiserRole enums.ApprovalRole
}

type service struct {
	db        txRunner
	machine   *lifecycle.Machine
	lines     lifecycle.Repository
	chains    approval.Repository
	allocator *sequence.Allocator
	emitter   outbox.Emitter
	logg      *logger.Logger
	raiser    enums.ApprovalRole
	now       func() time.Time
}

func NewService(p ServiceParams) (Service, error) {
	if p.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if p.Machine == nil {
		return nil, fmt.Errorf("lifecycle machine required")
	}
	if p.Chains == nil {
		return nil, fmt.Errorf("approval repository required")
	}
	if p.Allocator == nil {
		return nil, fmt.Errorf("sequence allocator required")
	}
	if p.Emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	if p.RaiserRole == "" {
		p.RaiserRole = enums.ApprovalRolePurchaseHead
	}
	return &service{
		db:        p.DB,
		machine:   p.Machine,
		lines:     p.Machine.Lines(),
		chains:    p.Chains,
		allocator: p.Allocator,
		emitter:   p.Emitter,
		logg:      p.Logger,
		raiser:    p.RaiserRole,
		now:       time.Now,
	}, nil
}

// AggregateID derives the stable event aggregate id of a PO number.
func AggregateID(poNumber string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("purchase_order:"+poNumber))
}

func (s *service) RaisePurchaseOrder(ctx context.Context, input RaiseInput) (*PurchaseOrder, error) {
	if err := lifecycle.ValidateNewLines(input.Lines); err != nil {
		return nil, err
	}
	seq, err := s.allocator.PurchaseOrder(ctx)
	if err != nil {
		return nil, err
	}
	po := &PurchaseOrder{PONumber: seq.String(), RaisedAt: s.now().UTC()}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.lines.WithTx(tx)
		for _, in := range input.Lines {
			line := lifecycle.NewMainLine(po.PONumber, in, enums.LineStatusPoRaised)
			ref := po.PONumber
			line.POReference = &ref
			if err := repo.Create(ctx, line); err != nil {
				return err
			}
			po.Lines = append(po.Lines, *line)
		}
		return s.emitRaised(ctx, tx, po, input.Actor)
	})
	if err != nil {
		s.machine.Reject(ctx, "raise_purchase_order", err)
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"po_number":  po.PONumber,
		"line_count": len(po.Lines),
	}), "purchase order raised")
	return po, nil
}

// RaiseDirectPO raises the PO of an approved direct-PO chain. The PO number
// is recorded as po_reference; the lines keep the direct-PO id as their order
// number.
func (s *service) RaiseDirectPO(ctx context.Context, input RaiseDirectInput) (*PurchaseOrder, error) {
	const op = "raise_direct_po"

	directPOID := strings.TrimSpace(input.DirectPOID)
	if directPOID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "direct PO id is required")
	}
	ctx = s.logg.WithField(ctx, "direct_po_id", directPOID)

	if role, err := enums.ParseApprovalRole(input.Actor.Role); err != nil || role != s.raiser {
		denied := pkgerrors.Newf(pkgerrors.CodeForbidden, "direct POs are raised by %s", s.raiser).
			WithDetails(map[string]any{"requiredRole": s.raiser, "actorRole": input.Actor.Role})
		s.machine.Reject(ctx, op, denied)
		return nil, denied
	}

	unlockChain := s.machine.Locks().Lock(approval.LockKey(directPOID))
	defer unlockChain()

	chain, err := s.chains.FindByDirectPO(ctx, directPOID, false)
	if err != nil {
		return nil, err
	}
	if err := raisable(chain); err != nil {
		s.machine.Reject(ctx, op, err)
		return nil, err
	}

	governed, err := s.lines.ListByDirectPO(ctx, directPOID)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(governed))
	for i, line := range governed {
		keys[i] = line.Key().String()
	}
	unlockLines := s.machine.Locks().LockAll(keys...)
	defer unlockLines()

	seq, err := s.allocator.PurchaseOrder(ctx)
	if err != nil {
		return nil, err
	}
	po := &PurchaseOrder{PONumber: seq.String(), DirectPOID: directPOID, RaisedAt: s.now().UTC()}

	var transitions []lifecycle.Transition
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		chains := s.chains.WithTx(tx)
		chain, err := chains.FindByDirectPO(ctx, directPOID, true)
		if err != nil {
			return err
		}
		if err := raisable(chain); err != nil {
			return err
		}

		ref := po.PONumber
		expected := chain.Version
		chain.Status = enums.ApprovalChainPoRaised
		chain.POReference = &ref
		chain.Version = expected + 1
		if err := chains.Update(ctx, chain, expected); err != nil {
			return err
		}

		for _, line := range governed {
			out, err := s.machine.ApplyInTx(ctx, tx, line.Key(), input.Actor, func(ctx context.Context, _ *lifecycle.Tx, l *lifecycle.Line) error {
				l.Touch(func(row *models.ComponentLine) { row.POReference = &ref })
				return l.TransitionTo(enums.LineStatusPoRaised, "")
			})
			if err != nil {
				return err
			}
			po.Lines = append(po.Lines, *out.Line)
			transitions = append(transitions, out.Transitions...)
		}
		return s.emitRaised(ctx, tx, po, input.Actor)
	})
	if err != nil {
		s.machine.Reject(ctx, op, err)
		return nil, err
	}
	s.machine.Observe(ctx, op, transitions)

	s.logg.Info(s.logg.WithField(ctx, "po_number", po.PONumber), "direct PO raised")
	return po, nil
}

func raisable(chain *models.ApprovalChain) error {
	switch chain.Status {
	case enums.ApprovalChainApproved:
		return nil
	case enums.ApprovalChainPoRaised:
		ref := ""
		if chain.POReference != nil {
			ref = *chain.POReference
		}
		return pkgerrors.Newf(pkgerrors.CodeConflict, "direct PO %s was already raised as %s", chain.DirectPOID, ref)
	default:
		return pkgerrors.Newf(pkgerrors.CodeIllegalTransition, "direct PO %s is %s, not approved", chain.DirectPOID, chain.Status)
	}
}

func (s *service) emitRaised(ctx context.Context, tx *gorm.DB, po *PurchaseOrder, actor lifecycle.Actor) error {
	refs := make([]payloads.LineRef, 0, len(po.Lines))
	for i := range po.Lines {
		refs = append(refs, lifecycle.LineRef(&po.Lines[i]))
	}
	return s.emitter.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPurchaseOrderRaised,
		AggregateType: enums.AggregatePurchaseOrder,
		AggregateID:   AggregateID(po.PONumber),
		Actor:         actor.Ref(),
		Data: payloads.PurchaseOrderRaisedEvent{
			PONumber:   po.PONumber,
			DirectPOID: po.DirectPOID,
			Lines:      refs,
			RaisedBy:   actor.ID,
			RaisedAt:   po.RaisedAt,
		},
	})
}
