package sequence

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/materialflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/materialflow/pkg/errors"
	"github.com/angelmondragon/materialflow/pkg/logger"
)

// ID is one allocated identifier.
type ID struct {
	Kind      enums.SequenceKind
	ParentRef string
	Value     int64
}

// String renders the identifier, e.g. PO-2026-0042 or BO-PO-2026-0042-03.
func (id ID) String() string {
	return Format(id.Kind, id.ParentRef, id.Value)
}

// Format renders <prefix>-<parent_ref>-<zero padded value>.
func Format(kind enums.SequenceKind, parentRef string, value int64) string {
	return fmt.Sprintf("%s-%s-%0*d", kind.Prefix(), parentRef, kind.Width(), value)
}

// Parse splits a formatted identifier back into its parts.
func Parse(raw string) (ID, error) {
	prefix, rest, ok := strings.Cut(raw, "-")
	if !ok {
		return ID{}, fmt.Errorf("invalid sequence id %q", raw)
	}
	idx := strings.LastIndex(rest, "-")
	if idx <= 0 || idx == len(rest)-1 {
		return ID{}, fmt.Errorf("invalid sequence id %q", raw)
	}

	var kind enums.SequenceKind
	for _, k := range []enums.SequenceKind{
		enums.SequencePurchaseOrder, enums.SequenceDirectPO, enums.SequenceBackorder, enums.SequenceReturn,
	} {
		if k.Prefix() == prefix {
			kind = k
			break
		}
	}
	if kind == "" {
		return ID{}, fmt.Errorf("unknown sequence prefix %q", prefix)
	}

	value, err := strconv.ParseInt(rest[idx+1:], 10, 64)
	if err != nil || value <= 0 {
		return ID{}, fmt.Errorf("invalid sequence value in %q", raw)
	}
	return ID{Kind: kind, ParentRef: rest[:idx], Value: value}, nil
}

// Allocator hands out identifiers that are never reused, strictly increasing per scope.
type Allocator struct {
	counter Counter
	logg    *logger.Logger
	now     func() time.Time
}

// NewAllocator wires an allocator over the given counter backend.
func NewAllocator(counter Counter, logg *logger.Logger) (*Allocator, error) {
	if counter == nil {
		return nil, fmt.Errorf("sequence counter required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Allocator{counter: counter, logg: logg, now: time.Now}, nil
}

// Next allocates the next value within (kind, parentRef).
func (a *Allocator) Next(ctx context.Context, kind enums.SequenceKind, parentRef string) (ID, error) {
	if !kind.IsValid() {
		return ID{}, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid sequence kind %q", kind)
	}
	parentRef = strings.TrimSpace(parentRef)
	if parentRef == "" {
		return ID{}, pkgerrors.New(pkgerrors.CodeValidation, "sequence parent reference is required")
	}

	value, err := a.counter.Next(ctx, kind, parentRef)
	if err != nil {
		return ID{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "allocate sequence")
	}
	id := ID{Kind: kind, ParentRef: parentRef, Value: value}
	a.logg.Debug(a.logg.WithFields(ctx, map[string]any{
		"sequence_kind": string(kind),
		"parent_ref":    parentRef,
		"sequence_id":   id.String(),
	}), "sequence allocated")
	return id, nil
}

// PurchaseOrder allocates PO-<year>-NNNN.
func (a *Allocator) PurchaseOrder(ctx context.Context) (ID, error) {
	return a.Next(ctx, enums.SequencePurchaseOrder, a.year())
}

// DirectPO allocates DPO-<year>-NNNN.
func (a *Allocator) DirectPO(ctx context.Context) (ID, error) {
	return a.Next(ctx, enums.SequenceDirectPO, a.year())
}

// Backorder allocates BO-<order>-NN.
func (a *Allocator) Backorder(ctx context.Context, orderNumber string) (ID, error) {
	return a.Next(ctx, enums.SequenceBackorder, orderNumber)
}

// Return allocates RET-<order>-NN.
func (a *Allocator) Return(ctx context.Context, orderNumber string) (ID, error) {
	return a.Next(ctx, enums.SequenceReturn, orderNumber)
}

func (a *Allocator) year() string {
	return strconv.Itoa(a.now().UTC().Year())
}
