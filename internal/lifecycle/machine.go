package lifecycle

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/materialflow/internal/ledger"
	"github.com/angelmondragon/materialflow/pkg/db/models"
	"github.com/angelmondragon/materialflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/materialflow/pkg/errors"
	"github.com/angelmondragon/materialflow/pkg/logger"
	"github.com/angelmondragon/materialflow/pkg/metrics"
	"github.com/angelmondragon/materialflow/pkg/outbox"
	"github.com/angelmondragon/materialflow/pkg/outbox/payloads"
)

// Actor is the caller a mutation is attributed to.
type Actor struct {
	ID   string
	Role string
}

// Ref converts the actor for outbox envelopes.
func (a Actor) Ref() *outbox.ActorRef {
	if a.ID == "" {
		return nil
	}
	return &outbox.ActorRef{ActorID: a.ID, Role: a.Role}
}

func (a Actor) idPtr() *string {
	if a.ID == "" {
		return nil
	}
	id := a.ID
	return &id
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Tx is what a mutation may touch besides the line itself. Everything it
// writes commits or rolls back with the line.
type Tx struct {
	DB      *gorm.DB
	Lines   Repository
	Actor   Actor
	emitter outbox.Emitter
}

// Emit queues an outbox event in the mutation's transaction.
func (t *Tx) Emit(ctx context.Context, event outbox.DomainEvent) error {
	if event.Actor == nil {
		event.Actor = t.Actor.Ref()
	}
	return t.emitter.Emit(ctx, t.DB, event)
}

// Mutation changes one loaded line. Returning an error discards every change.
type Mutation func(ctx context.Context, tx *Tx, line *Line) error

// Outcome is the committed result of one mutation.
type Outcome struct {
	Line        *models.ComponentLine
	Transitions []Transition
}

// MachineParams wires a Machine.
type MachineParams struct {
	DB        txRunner
	Lines     Repository
	Movements ledger.Repository
	Emitter   outbox.Emitter
	Locks     *KeyedMutex
	Metrics   *metrics.LifecycleMetrics
	Logger    *logger.Logger
}

// Machine applies mutations to one line at a time: per-key lock, one
// transaction, version check, journal and events, then closure cascade.
type Machine struct {
	db        txRunner
	lines     Repository
	movements ledger.Repository
	emitter   outbox.Emitter
	locks     *KeyedMutex
	metrics   *metrics.LifecycleMetrics
	logg      *logger.Logger
}

func NewMachine(p MachineParams) (*Machine, error) {
	if p.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if p.Lines == nil {
		return nil, fmt.Errorf("line repository required")
	}
	if p.Movements == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if p.Emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if p.Locks == nil {
		p.Locks = NewKeyedMutex()
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	return &Machine{
		db:        p.DB,
		lines:     p.Lines,
		movements: p.Movements,
		emitter:   p.Emitter,
		locks:     p.Locks,
		metrics:   p.Metrics,
		logg:      p.Logger,
	}, nil
}

// Locks exposes the per-key lock so coordinators spanning several lines can
// take them in a fixed order and then call ApplyInTx.
func (m *Machine) Locks() *KeyedMutex { return m.locks }

// Lines returns the repository the machine reads through.
func (m *Machine) Lines() Repository { return m.lines }

// Mutate runs fn against the line under its lock and commits atomically.
func (m *Machine) Mutate(ctx context.Context, op string, key models.LineKey, actor Actor, fn Mutation) (*models.ComponentLine, error) {
	if key.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number, mpn and lineage id are required")
	}
	ctx = m.logg.WithLineKey(ctx, key.OrderNumber, key.MPN, key.LineageID)
	if actor.ID != "" {
		ctx = m.logg.WithActor(ctx, actor.ID, actor.Role)
	}

	start := time.Now()
	out, err := m.mutateLocked(ctx, key, actor, fn)
	m.metrics.ObserveDuration(op, time.Since(start))
	if err != nil {
		err = normalize(err)
		m.Reject(ctx, op, err)
		return nil, err
	}
	m.Observe(ctx, op, out.Transitions)

	if out.closed() {
		m.cascade(ctx, *out.Line, actor)
	}
	return out.Line, nil
}

func (m *Machine) mutateLocked(ctx context.Context, key models.LineKey, actor Actor, fn Mutation) (*Outcome, error) {
	unlock := m.locks.Lock(key.String())
	defer unlock()

	var out *Outcome
	err := m.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		out, err = m.ApplyInTx(ctx, tx, key, actor, fn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyInTx runs fn inside an existing transaction. The caller must hold the
// line's lock and must call Observe after commit.
func (m *Machine) ApplyInTx(ctx context.Context, gtx *gorm.DB, key models.LineKey, actor Actor, fn Mutation) (*Outcome, error) {
	lines := m.lines.WithTx(gtx)
	row, err := lines.FindByKey(ctx, key, true)
	if err != nil {
		return nil, err
	}
	if row.Status.IsTerminal() {
		if fn != nil {
			return nil, pkgerrors.Newf(pkgerrors.CodeIllegalTransition, "line %s is %s", key, row.Status)
		}
		return &Outcome{Line: row}, nil
	}

	line := newLine(row)
	expected := row.Version
	tx := &Tx{DB: gtx, Lines: lines, Actor: actor, emitter: m.emitter}

	if fn != nil {
		if err := fn(ctx, tx, line); err != nil {
			return nil, err
		}
	}
	if err := m.settle(ctx, lines, line); err != nil {
		return nil, err
	}
	if !line.dirty() {
		return &Outcome{Line: line.row}, nil
	}

	line.row.Version = expected + 1
	if err := lines.Update(ctx, line.row, expected); err != nil {
		return nil, err
	}

	var note *string
	if line.journalNote != "" {
		note = &line.journalNote
	}
	rows := ledger.Rows(line.row.ID, line.movements, line.row.Version, actor.idPtr(), note)
	if err := m.movements.WithTx(gtx).Append(ctx, rows); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "journal ledger movements")
	}

	q := line.Quantities()
	for _, t := range line.transitions {
		if err := tx.Emit(ctx, outbox.DomainEvent{
			EventType:     enums.EventLineStateChanged,
			AggregateType: enums.AggregateComponentLine,
			AggregateID:   line.row.ID,
			Data: payloads.LineStateChangedEvent{
				Line:         LineRef(line.row),
				From:         t.From,
				To:           t.To,
				Note:         t.Note,
				Version:      line.row.Version,
				Shortfall:    q.Shortfall(),
				RejectedOpen: q.RejectedOpen(),
			},
		}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue state change event")
		}
	}

	return &Outcome{Line: line.row, Transitions: line.Transitions()}, nil
}

// settle closes the line once nothing is outstanding on it or its children.
func (m *Machine) settle(ctx context.Context, lines Repository, line *Line) error {
	if !line.settled() {
		return nil
	}
	open, err := lines.CountOpenChildren(ctx, line.Key())
	if err != nil {
		return err
	}
	if open > 0 {
		return nil
	}
	return line.TransitionTo(enums.LineStatusClosed, "")
}

// cascade re-evaluates the parent after a child closed. The child is already
// committed, so failures are logged rather than returned.
func (m *Machine) cascade(ctx context.Context, child models.ComponentLine, actor Actor) {
	parentKey, ok := child.ParentKey()
	if !ok {
		return
	}
	if _, err := m.Mutate(ctx, "close_evaluation", parentKey, actor, nil); err != nil {
		m.logg.Error(m.logg.WithField(ctx, "parent_lineage_id", parentKey.LineageID), "parent closure evaluation failed", err)
	}
}

// Observe records metrics and logs for committed transitions.
func (m *Machine) Observe(ctx context.Context, op string, transitions []Transition) {
	for _, t := range transitions {
		m.metrics.IncTransition(string(t.From), string(t.To))
		m.logg.Info(m.logg.WithFields(ctx, map[string]any{
			"operation": op,
			"from":      string(t.From),
			"to":        string(t.To),
		}), "component line transitioned")
	}
}

// Reject records a failed operation.
func (m *Machine) Reject(ctx context.Context, op string, err error) {
	code := pkgerrors.CodeInternal
	if typed := pkgerrors.As(err); typed != nil {
		code = typed.Code()
	}
	m.metrics.IncRejection(op, string(code))
	ctx = m.logg.WithFields(ctx, map[string]any{"operation": op, "code": string(code)})
	if pkgerrors.MetadataFor(code).HTTPStatus >= 500 {
		m.logg.Error(ctx, "lifecycle operation failed", err)
		return
	}
	m.logg.Warn(m.logg.WithField(ctx, "error", err.Error()), "lifecycle operation rejected")
}

func (o *Outcome) closed() bool {
	for _, t := range o.Transitions {
		if t.To == enums.LineStatusClosed {
			return true
		}
	}
	return false
}

// LineRef builds the wire reference of a line.
func LineRef(row *models.ComponentLine) payloads.LineRef {
	return payloads.LineRef{
		LineID:      row.ID,
		OrderNumber: row.OrderNumber,
		MPN:         row.MPN,
		LineageID:   row.LineageID,
	}
}

func normalize(err error) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lifecycle operation failed")
}
