package approval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/materialflow/internal/lifecycle"
	"github.com/angelmondragon/materialflow/internal/sequence"
	"github.com/angelmondragon/materialflow/pkg/db/models"
	"github.com/angelmondragon/materialflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/materialflow/pkg/errors"
	"github.com/angelmondragon/materialflow/pkg/logger"
	"github.com/angelmondragon/materialflow/pkg/outbox"
	"github.com/angelmondragon/materialflow/pkg/outbox/payloads"
)

// Service coordinates direct-PO approval chains.
type Service interface {
	RequestDirectPO(ctx context.Context, input RequestInput) (*Chain, error)
	Advance(ctx context.Context, input AdvanceInput) (*Chain, error)
	GetChain(ctx context.Context, directPOID string) (*Chain, error)
}

type RequestInput struct {
	Actor lifecycle.Actor
	Note  string
	Lines []lifecycle.NewLineInput
}

type AdvanceInput struct {
	DirectPOID string
	Role       enums.ApprovalRole
	Decision   enums.ApprovalDecision
	Note       string
	Actor      lifecycle.Actor
}

// Chain is an approval chain with the lines it governs.
type Chain struct {
	*models.ApprovalChain
	Lines []models.ComponentLine
}

// OpenSlot returns the first undecided slot, or nil.
func OpenSlot(chain *models.ApprovalChain) *models.ApprovalSlot {
	for i := range chain.Slots {
		if !chain.Slots[i].Filled() {
			return &chain.Slots[i]
		}
	}
	return nil
}

// LockKey is the exclusion key of a chain. Chain locks are always taken
// before the locks of its lines.
func LockKey(directPOID string) string {
	return "direct_po:" + directPOID
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	DB        txRunner
	Machine   *lifecycle.Machine
	Chains    Repository
	Allocator *sequence.Allocator
	Emitter   outbox.Emitter
	Roles     []enums.ApprovalRole
	Logger    *logger.Logger
}

type service struct {
	db        txRunner
	machine   *lifecycle.Machine
	lines     lifecycle.Repository
	chains    Repository
	allocator *sequence.Allocator
	emitter   outbox.Emitter
	roles     []enums.ApprovalRole
	logg      *logger.Logger
	now       func() time.Time
}

func NewService(p ServiceParams) (Service, error) {
	switch {
	case p.DB == nil:
		return nil, fmt.Errorf("transaction runner required")
	case p.Machine == nil:
		return nil, fmt.Errorf("lifecycle machine required")
	case p.Chains == nil:
		return nil, fmt.Errorf("approval repository required")
	case p.Allocator == nil:
		return nil, fmt.Errorf("sequence allocator required")
	case p.Emitter == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case len(p.Roles) < 2:
		return nil, fmt.Errorf("approval chain needs a requester role and at least one approver")
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	return &service{
		db:        p.DB,
		machine:   p.Machine,
		lines:     p.Machine.Lines(),
		chains:    p.Chains,
		allocator: p.Allocator,
		emitter:   p.Emitter,
		roles:     p.Roles,
		logg:      p.Logger,
		now:       time.Now,
	}, nil
}

// ParseRoles converts configured role names, requester first.
func ParseRoles(names []string) ([]enums.ApprovalRole, error) {
	roles := make([]enums.ApprovalRole, 0, len(names))
	seen := make(map[enums.ApprovalRole]bool, len(names))
	for _, name := range names {
		role, err := enums.ParseApprovalRole(name)
		if err != nil {
			return nil, err
		}
		if seen[role] {
			return nil, fmt.Errorf("approval role %s listed twice", role)
		}
		seen[role] = true
		roles = append(roles, role)
	}
	return roles, nil
}

// RequestDirectPO creates the lines in Requested and opens a chain whose
// first slot is filled by the submission itself.
func (s *service) RequestDirectPO(ctx context.Context, input RequestInput) (*Chain, error) {
	if strings.TrimSpace(input.Actor.ID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "requester id is required")
	}
	if err := lifecycle.ValidateNewLines(input.Lines); err != nil {
		return nil, err
	}

	seq, err := s.allocator.DirectPO(ctx)
	if err != nil {
		return nil, err
	}
	directPOID := seq.String()
	now := s.now().UTC()

	chain := &models.ApprovalChain{
		DirectPOID:  directPOID,
		Status:      enums.ApprovalChainOpen,
		RequestedBy: input.Actor.ID,
	}
	approve := enums.ApprovalApprove
	for i, role := range s.roles {
		slot := models.ApprovalSlot{Ordinal: i + 1, Role: role}
		if i == 0 {
			slot.Decision = &approve
			slot.ActorID = stringPtr(input.Actor.ID)
			slot.Note = stringPtr(strings.TrimSpace(input.Note))
			slot.DecidedAt = &now
		}
		chain.Slots = append(chain.Slots, slot)
	}

	lines := make([]models.ComponentLine, 0, len(input.Lines))
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.lines.WithTx(tx)
		for _, in := range input.Lines {
			line := lifecycle.NewMainLine(directPOID, in, enums.LineStatusRequested)
			line.DirectPOID = stringPtr(directPOID)
			if err := repo.Create(ctx, line); err != nil {
				return err
			}
			lines = append(lines, *line)
		}
		if err := s.chains.WithTx(tx).Create(ctx, chain); err != nil {
			return err
		}
		roles := make([]string, len(s.roles))
		for i, r := range s.roles {
			roles[i] = r.String()
		}
		return s.emitter.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDirectPORequested,
			AggregateType: enums.AggregateApprovalChain,
			AggregateID:   chain.ID,
			Actor:         input.Actor.Ref(),
			Data: payloads.DirectPORequestedEvent{
				DirectPOID:  directPOID,
				RequestedBy: input.Actor.ID,
				Roles:       roles,
				LineCount:   len(lines),
			},
		})
	})
	if err != nil {
		s.machine.Reject(ctx, "request_direct_po", err)
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"direct_po_id": directPOID,
		"line_count":   len(lines),
	}), "direct PO requested")
	return &Chain{ApprovalChain: chain, Lines: lines}, nil
}

// Advance records a decision on the chain's open slot. A reject cancels the
// lines; the last approve moves them to CeoApproved.
func (s *service) Advance(ctx context.Context, input AdvanceInput) (*Chain, error) {
	const op = "advance_approval"

	if strings.TrimSpace(input.DirectPOID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "direct PO id is required")
	}
	if !input.Decision.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid decision %q", input.Decision)
	}
	note := strings.TrimSpace(input.Note)
	if input.Decision == enums.ApprovalReject && note == "" {
		err := pkgerrors.New(pkgerrors.CodeMissingJustification, "a note is required to reject a direct PO")
		s.machine.Reject(ctx, op, err)
		return nil, err
	}
	ctx = s.logg.WithField(ctx, "direct_po_id", input.DirectPOID)

	unlockChain := s.machine.Locks().Lock(LockKey(input.DirectPOID))
	defer unlockChain()

	governed, err := s.lines.ListByDirectPO(ctx, input.DirectPOID)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(governed))
	for i, line := range governed {
		keys[i] = line.Key().String()
	}
	unlockLines := s.machine.Locks().LockAll(keys...)
	defer unlockLines()

	var (
		chain       *models.ApprovalChain
		lines       []models.ComponentLine
		transitions []lifecycle.Transition
	)
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		chains := s.chains.WithTx(tx)
		chain, err = chains.FindByDirectPO(ctx, input.DirectPOID, true)
		if err != nil {
			return err
		}
		if chain.Status != enums.ApprovalChainOpen {
			return pkgerrors.Newf(pkgerrors.CodeIllegalTransition, "approval chain is %s", chain.Status)
		}
		slot := OpenSlot(chain)
		if slot == nil {
			return pkgerrors.New(pkgerrors.CodeIllegalTransition, "approval chain has no open slot")
		}
		if slot.Role != input.Role {
			return pkgerrors.Newf(pkgerrors.CodeOutOfSequence, "slot %d awaits %s, not %s", slot.Ordinal, slot.Role, input.Role).
				WithDetails(map[string]any{"expectedRole": slot.Role, "ordinal": slot.Ordinal})
		}

		decidedAt := s.now().UTC()
		decision := input.Decision
		slot.Decision = &decision
		slot.ActorID = stringPtr(input.Actor.ID)
		slot.Note = stringPtr(note)
		slot.DecidedAt = &decidedAt
		if err := chains.SaveSlot(ctx, slot); err != nil {
			return err
		}

		var target enums.LineStatus
		var event outbox.DomainEvent
		switch {
		case decision == enums.ApprovalReject:
			chain.Status = enums.ApprovalChainRejected
			target = enums.LineStatusCancelled
			event = outbox.DomainEvent{
				EventType: enums.EventDirectPORejected,
				Data: payloads.DirectPORejectedEvent{
					DirectPOID: chain.DirectPOID,
					Role:       slot.Role.String(),
					RejectedBy: input.Actor.ID,
					Note:       note,
					RejectedAt: decidedAt,
				},
			}
		case OpenSlot(chain) == nil:
			chain.Status = enums.ApprovalChainApproved
			target = enums.LineStatusCeoApproved
			event = outbox.DomainEvent{
				EventType: enums.EventDirectPOApproved,
				Data: payloads.DirectPOApprovedEvent{
					DirectPOID: chain.DirectPOID,
					ApprovedBy: input.Actor.ID,
					ApprovedAt: decidedAt,
				},
			}
		default:
			return nil
		}

		expected := chain.Version
		chain.Version = expected + 1
		if err := chains.Update(ctx, chain, expected); err != nil {
			return err
		}
		for _, line := range governed {
			out, err := s.machine.ApplyInTx(ctx, tx, line.Key(), input.Actor, func(ctx context.Context, _ *lifecycle.Tx, l *lifecycle.Line) error {
				return l.TransitionTo(target, note)
			})
			if err != nil {
				return err
			}
			lines = append(lines, *out.Line)
			transitions = append(transitions, out.Transitions...)
		}

		event.AggregateType = enums.AggregateApprovalChain
		event.AggregateID = chain.ID
		event.Actor = input.Actor.Ref()
		return s.emitter.Emit(ctx, tx, event)
	})
	if err != nil {
		s.machine.Reject(ctx, op, err)
		return nil, err
	}
	s.machine.Observe(ctx, op, transitions)

	if lines == nil {
		lines = governed
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"role":         input.Role.String(),
		"decision":     string(input.Decision),
		"chain_status": chain.Status.String(),
	}), "approval recorded")
	return &Chain{ApprovalChain: chain, Lines: lines}, nil
}

func (s *service) GetChain(ctx context.Context, directPOID string) (*Chain, error) {
	if strings.TrimSpace(directPOID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "direct PO id is required")
	}
	chain, err := s.chains.FindByDirectPO(ctx, directPOID, false)
	if err != nil {
		return nil, err
	}
	lines, err := s.lines.ListByDirectPO(ctx, directPOID)
	if err != nil {
		return nil, err
	}
	return &Chain{ApprovalChain: chain, Lines: lines}, nil
}

func stringPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
