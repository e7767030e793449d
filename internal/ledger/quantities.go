package ledger

import (
	"github.com/angelmondragon/materialflow/pkg/db/models"
	"github.com/angelmondragon/materialflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/materialflow/pkg/errors"
)

// Quantities is the counter set of one component line.
// All counters only grow; corrections spawn new lines instead of rolling back.
type Quantities struct {
	Ordered     int `json:"ordered"`
	Received    int `json:"received"`
	Passed      int `json:"passed"`
	Failed      int `json:"failed"`
	Returned    int `json:"returned"`
	Reordered   int `json:"reordered"`
	WrittenOff  int `json:"writtenOff"`
	ShortClosed int `json:"shortClosed"`
}

// Delta increases one ledger field by a positive quantity.
type Delta struct {
	Field    enums.LedgerField `json:"field"`
	Quantity int               `json:"quantity"`
}

// FromLine copies the counters off a persisted line.
func FromLine(line *models.ComponentLine) Quantities {
	if line == nil {
		return Quantities{}
	}
	return Quantities{
		Ordered:     line.OrderedQty,
		Received:    line.ReceivedQty,
		Passed:      line.PassedQty,
		Failed:      line.FailedQty,
		Returned:    line.ReturnedQty,
		Reordered:   line.ReorderedQty,
		WrittenOff:  line.WrittenOffQty,
		ShortClosed: line.ShortClosedQty,
	}
}

// CopyTo writes the counters back onto a line.
func (q Quantities) CopyTo(line *models.ComponentLine) {
	line.OrderedQty = q.Ordered
	line.ReceivedQty = q.Received
	line.PassedQty = q.Passed
	line.FailedQty = q.Failed
	line.ReturnedQty = q.Returned
	line.ReorderedQty = q.Reordered
	line.WrittenOffQty = q.WrittenOff
	line.ShortClosedQty = q.ShortClosed
}

// Shortfall is what is neither received, covered by a backorder, nor short-closed.
func (q Quantities) Shortfall() int {
	return q.Ordered - q.Received - q.Reordered - q.ShortClosed
}

// RejectedOpen is failed stock still awaiting a return or write-off.
func (q Quantities) RejectedOpen() int {
	return q.Failed - q.Returned - q.WrittenOff
}

// Undisposed is received stock without a quality verdict yet.
func (q Quantities) Undisposed() int {
	return q.Received - q.Passed - q.Failed
}

// Value returns the counter behind a ledger field.
func (q Quantities) Value(field enums.LedgerField) int {
	switch field {
	case enums.LedgerReceived:
		return q.Received
	case enums.LedgerPassed:
		return q.Passed
	case enums.LedgerFailed:
		return q.Failed
	case enums.LedgerReturned:
		return q.Returned
	case enums.LedgerReordered:
		return q.Reordered
	case enums.LedgerWrittenOff:
		return q.WrittenOff
	case enums.LedgerShortClosed:
		return q.ShortClosed
	default:
		return 0
	}
}

// Validate checks every ledger invariant.
func (q Quantities) Validate() error {
	switch {
	case q.Ordered <= 0:
		return violation("ordered quantity must be positive", q)
	case q.Received < 0 || q.Passed < 0 || q.Failed < 0 || q.Returned < 0 ||
		q.Reordered < 0 || q.WrittenOff < 0 || q.ShortClosed < 0:
		return violation("ledger counters cannot be negative", q)
	case q.Passed+q.Failed > q.Received:
		return violation("passed + failed exceeds received", q)
	case q.Received+q.Reordered+q.ShortClosed > q.Ordered:
		return violation("received + reordered + short-closed exceeds ordered", q)
	case q.Returned+q.WrittenOff > q.Failed:
		return violation("returned + written-off exceeds failed", q)
	}
	return nil
}

// Apply returns the counters after the delta, or an InvariantViolation leaving q untouched.
func (q Quantities) Apply(d Delta) (Quantities, error) {
	if !d.Field.IsValid() {
		return q, pkgerrors.Newf(pkgerrors.CodeInvariantViolation, "unknown ledger field %q", d.Field)
	}
	if d.Quantity <= 0 {
		return q, pkgerrors.New(pkgerrors.CodeInvariantViolation, "ledger deltas must be positive").
			WithDetails(map[string]any{"field": d.Field, "quantity": d.Quantity})
	}

	next := q
	switch d.Field {
	case enums.LedgerReceived:
		next.Received += d.Quantity
	case enums.LedgerPassed:
		next.Passed += d.Quantity
	case enums.LedgerFailed:
		next.Failed += d.Quantity
	case enums.LedgerReturned:
		next.Returned += d.Quantity
	case enums.LedgerReordered:
		next.Reordered += d.Quantity
	case enums.LedgerWrittenOff:
		next.WrittenOff += d.Quantity
	case enums.LedgerShortClosed:
		next.ShortClosed += d.Quantity
	}

	if err := next.Validate(); err != nil {
		if pe := pkgerrors.As(err); pe != nil {
			return q, pe.WithDetails(map[string]any{
				"field":    d.Field,
				"quantity": d.Quantity,
				"current":  q,
			})
		}
		return q, err
	}
	return next, nil
}

// ApplyAll applies deltas in order; the first failure discards every prior delta.
func (q Quantities) ApplyAll(deltas ...Delta) (Quantities, error) {
	next := q
	for _, d := range deltas {
		var err error
		if next, err = next.Apply(d); err != nil {
			return q, err
		}
	}
	return next, nil
}

func violation(message string, q Quantities) error {
	return pkgerrors.New(pkgerrors.CodeInvariantViolation, message).WithDetails(q)
}
