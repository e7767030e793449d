package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/materialflow/internal/ledger"
	"github.com/angelmondragon/materialflow/pkg/db/models"
	"github.com/angelmondragon/materialflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/materialflow/pkg/errors"
	"github.com/angelmondragon/materialflow/pkg/pagination"
)

// Service exposes the per-line lifecycle operations.
type Service interface {
	RecordDelivery(ctx context.Context, input RecordDeliveryInput) (*models.ComponentLine, error)
	RecordQualityResult(ctx context.Context, input RecordQualityInput) (*models.ComponentLine, error)
	Transition(ctx context.Context, input TransitionInput) (*models.ComponentLine, error)
	WriteOff(ctx context.Context, input WriteOffInput) (*models.ComponentLine, error)
	CloseLine(ctx context.Context, key models.LineKey, actor Actor) (*models.ComponentLine, error)
	GetLine(ctx context.Context, key models.LineKey) (*models.ComponentLine, error)
	ListOpenLines(ctx context.Context, query ListOpenLinesQuery) (*LinePage, error)
	ListLineage(ctx context.Context, key models.LineKey) ([]models.ComponentLine, error)
}

type RecordDeliveryInput struct {
	Key         models.LineKey
	Quantity    int
	DeliveredAt time.Time
	Note        string
	Actor       Actor
}

type RecordQualityInput struct {
	Key    models.LineKey
	Passed int
	Failed int
	Hold   bool
	Note   string
	Actor  Actor
}

type TransitionInput struct {
	Key    models.LineKey
	Target enums.LineStatus
	Note   string
	Actor  Actor
}

type WriteOffInput struct {
	Key      models.LineKey
	Scope    enums.WriteOffScope
	Quantity int
	Note     string
	Actor    Actor
}

type ListOpenLinesQuery struct {
	OrderNumber string
	MPN         string
	DirectPOID  string
	LineageKind enums.LineageKind
	Statuses    []enums.LineStatus
	Params      pagination.Params
}

// LinePage is one page of lines plus the cursor of the next page.
type LinePage struct {
	Lines      []models.ComponentLine
	NextCursor string
}

type service struct {
	machine *Machine
	lines   Repository
	now     func() time.Time
}

// NewService builds the lifecycle service on top of a machine.
func NewService(machine *Machine) (Service, error) {
	if machine == nil {
		return nil, fmt.Errorf("lifecycle machine required")
	}
	return &service{machine: machine, lines: machine.Lines(), now: time.Now}, nil
}

func (s *service) RecordDelivery(ctx context.Context, input RecordDeliveryInput) (*models.ComponentLine, error) {
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivered quantity must be positive")
	}
	deliveredAt := input.DeliveredAt
	if deliveredAt.IsZero() {
		deliveredAt = s.now()
	}
	deliveredAt = deliveredAt.UTC()

	return s.machine.Mutate(ctx, "record_delivery", input.Key, input.Actor, func(ctx context.Context, tx *Tx, line *Line) error {
		if line.Status() == enums.LineStatusPoRaised {
			if err := line.TransitionTo(enums.LineStatusDeliveryPending, ""); err != nil {
				return err
			}
		}
		if line.Status() != enums.LineStatusDeliveryPending {
			return pkgerrors.Newf(pkgerrors.CodeIllegalTransition, "deliveries are not accepted while the line is %s", line.Status())
		}
		if err := line.Apply(ledger.Delta{Field: enums.LedgerReceived, Quantity: input.Quantity}); err != nil {
			return err
		}
		line.Annotate(input.Note)
		line.Touch(func(row *models.ComponentLine) { row.LastDeliveryAt = &deliveredAt })

		if line.Quantities().Shortfall() == 0 {
			return line.TransitionTo(enums.LineStatusQcPending, "")
		}
		return nil
	})
}

func (s *service) RecordQualityResult(ctx context.Context, input RecordQualityInput) (*models.ComponentLine, error) {
	if input.Passed < 0 || input.Failed < 0 || input.Passed+input.Failed == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "passed and failed must be non-negative and not both zero")
	}

	return s.machine.Mutate(ctx, "record_quality_result", input.Key, input.Actor, func(ctx context.Context, tx *Tx, line *Line) error {
		if line.Status() != enums.LineStatusQcPending {
			return pkgerrors.Newf(pkgerrors.CodeIllegalTransition, "quality results are not accepted while the line is %s", line.Status())
		}
		if undisposed := line.Quantities().Undisposed(); input.Passed+input.Failed < undisposed {
			return pkgerrors.New(pkgerrors.CodeInvariantViolation, "passed + failed must account for every received unit").
				WithDetails(map[string]any{"passed": input.Passed, "failed": input.Failed, "undisposed": undisposed})
		}

		var deltas []ledger.Delta
		if input.Passed > 0 {
			deltas = append(deltas, ledger.Delta{Field: enums.LedgerPassed, Quantity: input.Passed})
		}
		if input.Failed > 0 {
			deltas = append(deltas, ledger.Delta{Field: enums.LedgerFailed, Quantity: input.Failed})
		}
		if err := line.Apply(deltas...); err != nil {
			return err
		}
		line.Annotate(input.Note)

		target := enums.LineStatusQcCleared
		switch {
		case input.Hold:
			target = enums.LineStatusQcHold
		case input.Failed > 0:
			target = enums.LineStatusQcRejected
		}
		return line.TransitionTo(target, input.Note)
	})
}

func (s *service) Transition(ctx context.Context, input TransitionInput) (*models.ComponentLine, error) {
	if !input.Target.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown status %q", input.Target)
	}
	if !manualTargets[input.Target] {
		return nil, pkgerrors.Newf(pkgerrors.CodeIllegalTransition, "%s is reached only through its own operation", input.Target)
	}
	return s.machine.Mutate(ctx, "transition", input.Key, input.Actor, func(ctx context.Context, tx *Tx, line *Line) error {
		return line.TransitionTo(input.Target, input.Note)
	})
}

var shortfallWriteOffStatuses = map[enums.LineStatus]bool{
	enums.LineStatusDeliveryPending: true,
	enums.LineStatusQcPending:       true,
	enums.LineStatusQcCleared:       true,
	enums.LineStatusQcRejected:      true,
	enums.LineStatusQcHold:          true,
	enums.LineStatusReturnCreated:   true,
}

func (s *service) WriteOff(ctx context.Context, input WriteOffInput) (*models.ComponentLine, error) {
	field, err := input.Scope.LedgerField()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid write-off scope")
	}
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "write-off quantity must be positive")
	}
	if strings.TrimSpace(input.Note) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeMissingJustification, "a note is required to write off units")
	}

	return s.machine.Mutate(ctx, "write_off", input.Key, input.Actor, func(ctx context.Context, tx *Tx, line *Line) error {
		status := line.Status()
		eligible := ReturnEligible(status)
		if input.Scope == enums.WriteOffShortfall {
			eligible = shortfallWriteOffStatuses[status]
		}
		if !eligible {
			return pkgerrors.Newf(pkgerrors.CodeIllegalTransition, "%s write-offs are not accepted while the line is %s", input.Scope, status)
		}
		if err := line.Apply(ledger.Delta{Field: field, Quantity: input.Quantity}); err != nil {
			return err
		}
		line.Annotate(input.Note)

		if status == enums.LineStatusDeliveryPending && line.Quantities().Shortfall() == 0 {
			if line.Quantities().Received == 0 {
				return pkgerrors.New(pkgerrors.CodeInvariantViolation, "at least one unit must be received before short-closing the remainder")
			}
			return line.TransitionTo(enums.LineStatusQcPending, "")
		}
		return nil
	})
}

func (s *service) CloseLine(ctx context.Context, key models.LineKey, actor Actor) (*models.ComponentLine, error) {
	return s.machine.Mutate(ctx, "close_line", key, actor, func(ctx context.Context, tx *Tx, line *Line) error {
		if !closable(line.Status()) {
			return pkgerrors.Newf(pkgerrors.CodeIllegalTransition, "a line in %s cannot be closed", line.Status())
		}
		open, err := tx.Lines.CountOpenChildren(ctx, line.Key())
		if err != nil {
			return err
		}
		if open > 0 {
			return pkgerrors.New(pkgerrors.CodeIllegalTransition, "line has open child lines").
				WithDetails(map[string]any{"openChildren": open})
		}
		return line.TransitionTo(enums.LineStatusClosed, "")
	})
}

func (s *service) GetLine(ctx context.Context, key models.LineKey) (*models.ComponentLine, error) {
	if key.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number, mpn and lineage id are required")
	}
	return s.lines.FindByKey(ctx, key, false)
}

func (s *service) ListOpenLines(ctx context.Context, query ListOpenLinesQuery) (*LinePage, error) {
	cursor, err := pagination.ParseCursor(query.Params.Cursor, 3)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	for _, st := range query.Statuses {
		if st.IsTerminal() {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "%s is not an open status", st)
		}
	}

	limit := pagination.NormalizeLimit(query.Params.Limit)
	lines, err := s.lines.ListOpen(ctx, OpenLineFilter{
		OrderNumber: query.OrderNumber,
		MPN:         query.MPN,
		DirectPOID:  query.DirectPOID,
		LineageKind: query.LineageKind,
		Statuses:    query.Statuses,
		Cursor:      cursor,
		Limit:       limit + 1,
	})
	if err != nil {
		return nil, err
	}

	page := &LinePage{Lines: lines}
	if len(lines) > limit {
		page.Lines = lines[:limit]
		last := page.Lines[limit-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			Key: []string{last.OrderNumber, last.MPN, last.LineageID},
		})
	}
	return page, nil
}

func (s *service) ListLineage(ctx context.Context, key models.LineKey) ([]models.ComponentLine, error) {
	if _, err := s.GetLine(ctx, key); err != nil {
		return nil, err
	}
	return s.lines.ListChildren(ctx, key)
}
