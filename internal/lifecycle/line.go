package lifecycle

import (
	"strings"

	"github.com/angelmondragon/materialflow/internal/ledger"
	"github.com/angelmondragon/materialflow/pkg/db/models"
	"github.com/angelmondragon/materialflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/materialflow/pkg/errors"
)

// Transition is one status change recorded on a line during a mutation.
type Transition struct {
	From enums.LineStatus
	To   enums.LineStatus
	Note string
}

// Line wraps a loaded row for the duration of one mutation. Counters change
// only through Apply and status only through TransitionTo.
type Line struct {
	row         *models.ComponentLine
	qty         ledger.Quantities
	movements   []ledger.Movement
	transitions []Transition
	journalNote string
	touched     bool
}

func newLine(row *models.ComponentLine) *Line {
	return &Line{row: row, qty: ledger.FromLine(row)}
}

// Row returns a copy of the current row state.
func (l *Line) Row() models.ComponentLine { return *l.row }

func (l *Line) Key() models.LineKey { return l.row.Key() }

func (l *Line) Status() enums.LineStatus { return l.row.Status }

func (l *Line) Quantities() ledger.Quantities { return l.qty }

// Transitions returns the status changes made so far.
func (l *Line) Transitions() []Transition {
	out := make([]Transition, len(l.transitions))
	copy(out, l.transitions)
	return out
}

// Annotate attaches a note to the ledger movements of this mutation.
func (l *Line) Annotate(note string) {
	l.journalNote = strings.TrimSpace(note)
}

// Touch edits non-ledger attributes such as delivery timestamps or references.
func (l *Line) Touch(fn func(row *models.ComponentLine)) {
	fn(l.row)
	l.touched = true
}

// Apply adds every delta or none of them.
func (l *Line) Apply(deltas ...ledger.Delta) error {
	next, err := l.qty.ApplyAll(deltas...)
	if err != nil {
		return err
	}
	running := l.qty
	for _, d := range deltas {
		running, _ = running.Apply(d)
		l.movements = append(l.movements, ledger.Movement{Delta: d, Result: running.Value(d.Field)})
	}
	l.qty = next
	next.CopyTo(l.row)
	return nil
}

// TransitionTo moves the line along the transition table, enforcing the
// quantity guard of the target state.
func (l *Line) TransitionTo(target enums.LineStatus, note string) error {
	from := l.row.Status
	note = strings.TrimSpace(note)

	if !CanTransition(from, target) {
		return pkgerrors.Newf(pkgerrors.CodeIllegalTransition, "cannot move line from %s to %s", from, target).
			WithDetails(map[string]any{"from": from, "to": target, "allowed": Targets(from)})
	}
	if RequiresNote(target) && note == "" {
		return pkgerrors.Newf(pkgerrors.CodeMissingJustification, "a note is required to move a line to %s", target)
	}
	if err := l.guard(from, target); err != nil {
		return err
	}

	l.row.Status = target
	if note != "" {
		l.row.StatusNote = &note
	} else {
		l.row.StatusNote = nil
	}
	l.transitions = append(l.transitions, Transition{From: from, To: target, Note: note})
	return nil
}

func (l *Line) guard(from, target enums.LineStatus) error {
	q := l.qty
	details := map[string]any{"from": from, "to": target, "quantities": q}

	switch target {
	case enums.LineStatusQcPending:
		if q.Received <= 0 {
			return pkgerrors.New(pkgerrors.CodeIllegalTransition, "nothing has been received yet").WithDetails(details)
		}
	case enums.LineStatusQcCleared, enums.LineStatusQcRejected, enums.LineStatusQcHold:
		if q.Undisposed() != 0 {
			return pkgerrors.New(pkgerrors.CodeInvariantViolation, "passed + failed must equal received").WithDetails(details)
		}
		if target == enums.LineStatusQcCleared && q.RejectedOpen() > 0 {
			return pkgerrors.New(pkgerrors.CodeIllegalTransition, "failed units must be returned or written off first").WithDetails(details)
		}
		if target == enums.LineStatusQcRejected && q.Failed == 0 {
			return pkgerrors.New(pkgerrors.CodeIllegalTransition, "a rejection needs failed units").WithDetails(details)
		}
	case enums.LineStatusClosed:
		if q.Shortfall() != 0 || q.RejectedOpen() != 0 {
			return pkgerrors.New(pkgerrors.CodeIllegalTransition, "line still has open quantities").WithDetails(details)
		}
		if from == enums.LineStatusDeliveryPending && q.Received > 0 {
			return pkgerrors.New(pkgerrors.CodeIllegalTransition, "received units must pass quality inspection first").WithDetails(details)
		}
	}
	return nil
}

// settled reports whether the line's own quantities allow closure.
func (l *Line) settled() bool {
	if !closable(l.Status()) {
		return false
	}
	q := l.qty
	if q.Shortfall() != 0 || q.RejectedOpen() != 0 {
		return false
	}
	return l.Status() != enums.LineStatusDeliveryPending || q.Received == 0
}

func (l *Line) dirty() bool {
	return l.touched || len(l.movements) > 0 || len(l.transitions) > 0
}
