package spawn_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/materialflow/internal/ledger"
	"github.com/angelmondragon/materialflow/internal/lifecycle"
	"github.com/angelmondragon/materialflow/internal/lifecycle/lifecycletest"
	"github.com/angelmondragon/materialflow/internal/sequence"
	"github.com/angelmondragon/materialflow/internal/spawn"
	"github.com/angelmondragon/materialflow/pkg/db/models"
	"github.com/angelmondragon/materialflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/materialflow/pkg/errors"
	"github.com/angelmondragon/materialflow/pkg/logger"
)

var buyer = lifecycle.Actor{ID: "user-3", Role: "purchase_head"}

type fixture struct {
	env       *lifecycletest.Env
	lines     lifecycle.Service
	spawner   spawn.Service
	allocator *sequence.Allocator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	env := lifecycletest.New(t)
	allocator, err := sequence.NewAllocator(sequence.NewDBCounter(env.DB()), logger.Nop())
	require.NoError(t, err)
	lines, err := lifecycle.NewService(env.Machine)
	require.NoError(t, err)
	spawner, err := spawn.NewService(spawn.ServiceParams{
		Machine:   env.Machine,
		Records:   spawn.NewRepository(env.DB()),
		Allocator: allocator,
		Logger:    logger.Nop(),
	})
	require.NoError(t, err)
	return &fixture{env: env, lines: lines, spawner: spawner, allocator: allocator}
}

func (f *fixture) deliver(t *testing.T, key models.LineKey, qty int) *models.ComponentLine {
	t.Helper()
	line, err := f.lines.RecordDelivery(context.Background(), lifecycle.RecordDeliveryInput{Key: key, Quantity: qty, Actor: buyer})
	require.NoError(t, err)
	return line
}

func (f *fixture) quality(t *testing.T, key models.LineKey, passed, failed int, note string) *models.ComponentLine {
	t.Helper()
	line, err := f.lines.RecordQualityResult(context.Background(), lifecycle.RecordQualityInput{
		Key: key, Passed: passed, Failed: failed, Note: note, Actor: buyer,
	})
	require.NoError(t, err)
	return line
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	require.Truef(t, pkgerrors.IsCode(err, code), "expected %s, got %v", code, err)
}

func TestBackorderCoversShortfallAndResolvesToClosure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := lifecycletest.MainKey("PO-2026-0100", "RES-10K-0603")
	f.env.SeedLine(t, key, 10, enums.LineStatusDeliveryPending)

	parent := f.deliver(t, key, 7)
	assert.Equal(t, enums.LineStatusDeliveryPending, parent.Status)

	res, err := f.spawner.RequestBackorder(ctx, spawn.BackorderInput{Key: key, Token: "bo-1", Actor: buyer})
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, "BO-PO-2026-0100-01", res.Child.LineageID)
	assert.Equal(t, enums.LineageBackorder, res.Child.LineageKind)
	assert.Equal(t, 3, res.Child.OrderedQty)
	assert.Equal(t, enums.LineStatusDeliveryPending, res.Child.Status)
	require.NotNil(t, res.Child.ParentLineageID)
	assert.Equal(t, enums.MainLineageID, *res.Child.ParentLineageID)
	assert.True(t, res.Child.RatePerUnit.Equal(parent.RatePerUnit))
	assert.Equal(t, 3, res.Parent.ReorderedQty)
	// Nothing is outstanding on the parent, so its received units go to inspection.
	assert.Equal(t, enums.LineStatusQcPending, res.Parent.Status)

	// Parent inspection proceeds while the child is outstanding.
	parent = f.quality(t, key, 7, 0, "")
	assert.Equal(t, enums.LineStatusQcCleared, parent.Status)

	childKey := res.Child.Key()
	f.deliver(t, childKey, 3)
	child := f.quality(t, childKey, 3, 0, "")
	assert.Equal(t, enums.LineStatusClosed, child.Status)

	parent = f.env.Reload(t, key)
	assert.Equal(t, enums.LineStatusClosed, parent.Status)
	assert.Equal(t, parent.OrderedQty, parent.ReceivedQty+child.OrderedQty)

	lineage, err := f.lines.ListLineage(ctx, key)
	require.NoError(t, err)
	require.Len(t, lineage, 1)
	assert.Equal(t, childKey, lineage[0].Key())

	assert.Len(t, f.env.Events(t, enums.EventLineSpawned), 1)
}

func TestFullyBackorderedParentClosesWithItsChild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := lifecycletest.MainKey("PO-2026-0106", "IC-LM7805")
	f.env.SeedLine(t, key, 10, enums.LineStatusDeliveryPending)

	res, err := f.spawner.RequestBackorder(ctx, spawn.BackorderInput{Key: key, Token: "bo-all", Actor: buyer})
	require.NoError(t, err)
	assert.Equal(t, 10, res.Child.OrderedQty)
	assert.Equal(t, 10, res.Parent.ReorderedQty)
	assert.Equal(t, 0, res.Parent.ReceivedQty)
	// Nothing received, so the parent waits on the child rather than on inspection.
	assert.Equal(t, enums.LineStatusDeliveryPending, res.Parent.Status)

	childKey := res.Child.Key()
	f.deliver(t, childKey, 10)
	child := f.quality(t, childKey, 10, 0, "")
	assert.Equal(t, enums.LineStatusClosed, child.Status)

	parent := f.env.Reload(t, key)
	assert.Equal(t, enums.LineStatusClosed, parent.Status)
	assert.Equal(t, 0, parent.ReceivedQty)
	assert.Equal(t, parent.OrderedQty, parent.ReorderedQty)
}

func TestFullyBackorderedParentStaysOpenWhileChildIsOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := lifecycletest.MainKey("PO-2026-0107", "RES-4K7-0603")
	f.env.SeedLine(t, key, 4, enums.LineStatusDeliveryPending)

	res, err := f.spawner.RequestBackorder(ctx, spawn.BackorderInput{Key: key, Token: "bo-open", Actor: buyer})
	require.NoError(t, err)
	f.deliver(t, res.Child.Key(), 2)

	assert.Equal(t, enums.LineStatusDeliveryPending, f.env.Reload(t, key).Status)
	_, err = f.lines.CloseLine(ctx, key, buyer)
	requireCode(t, err, pkgerrors.CodeIllegalTransition)
	assert.Equal(t, enums.LineStatusDeliveryPending, f.env.Reload(t, key).Status)
}

func TestConcurrentBackordersWithOneTokenShareOneChild(t *testing.T) {
	f := newFixture(t)
	key := lifecycletest.MainKey("PO-2026-0108", "CAP-22P-0402")
	f.env.SeedLine(t, key, 12, enums.LineStatusDeliveryPending)
	f.deliver(t, key, 5)

	const callers = 6
	var wg sync.WaitGroup
	results := make([]*spawn.Result, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.spawner.RequestBackorder(context.Background(), spawn.BackorderInput{Key: key, Token: "shared", Actor: buyer})
		}(i)
	}
	wg.Wait()

	var fresh int
	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].Child.ID, results[i].Child.ID)
		assert.Equal(t, results[0].Child.LineageID, results[i].Child.LineageID)
		if !results[i].Replayed {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)

	parent := f.env.Reload(t, key)
	assert.Equal(t, 7, parent.ReorderedQty)
	children, err := f.lines.ListLineage(context.Background(), key)
	require.NoError(t, err)
	assert.Len(t, children, 1)
	assert.Len(t, f.env.Events(t, enums.EventLineSpawned), 1)
}

func TestConcurrentBackordersWithDistinctTokensSpawnOnce(t *testing.T) {
	f := newFixture(t)
	key := lifecycletest.MainKey("PO-2026-0109", "IC-TL431")
	f.env.SeedLine(t, key, 9, enums.LineStatusDeliveryPending)
	f.deliver(t, key, 3)

	const callers = 5
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.spawner.RequestBackorder(context.Background(), spawn.BackorderInput{
				Key: key, Token: fmt.Sprintf("bo-%d", i), Actor: buyer,
			})
		}(i)
	}
	wg.Wait()

	var ok, nothing int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case pkgerrors.IsCode(err, pkgerrors.CodeNothingToSpawn):
			nothing++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, nothing)

	parent := f.env.Reload(t, key)
	assert.Equal(t, 6, parent.ReorderedQty)
	assert.Equal(t, 0, ledger.FromLine(parent).Shortfall())
	children, err := f.lines.ListLineage(context.Background(), key)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, 6, children[0].OrderedQty)
}

func TestListSpawnsReturnsRequestsUnderParent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := lifecycletest.MainKey("PO-2026-0110", "CAP-4U7-0805")
	f.env.SeedLine(t, key, 8, enums.LineStatusDeliveryPending)
	f.deliver(t, key, 6)

	bo, err := f.spawner.RequestBackorder(ctx, spawn.BackorderInput{Key: key, Token: "bo-list", Actor: buyer})
	require.NoError(t, err)
	f.quality(t, key, 4, 2, "cracked")
	ret, err := f.spawner.RequestReturn(ctx, spawn.ReturnInput{Key: key, Quantity: 2, Token: "ret-list", Actor: buyer})
	require.NoError(t, err)

	records, err := f.spawner.ListSpawns(ctx, key)
	require.NoError(t, err)
	require.Len(t, records, 2)
	byToken := map[string]models.SpawnRecord{}
	for _, r := range records {
		byToken[r.Token] = r
	}
	assert.Equal(t, enums.LineageBackorder, byToken["bo-list"].Kind)
	assert.Equal(t, bo.Child.LineageID, byToken["bo-list"].ChildLineageID)
	assert.Equal(t, 2, byToken["bo-list"].Quantity)
	assert.Equal(t, enums.LineageReturn, byToken["ret-list"].Kind)
	assert.Equal(t, ret.Child.LineageID, byToken["ret-list"].ChildLineageID)

	none, err := f.spawner.ListSpawns(ctx, bo.Child.Key())
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.spawner.ListSpawns(ctx, lifecycletest.MainKey("PO-2026-0110", "NOPE"))
	requireCode(t, err, pkgerrors.CodeNotFound)
}

func TestBackorderTokenIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := lifecycletest.MainKey("PO-2026-0101", "CAP-100N")
	f.env.SeedLine(t, key, 10, enums.LineStatusDeliveryPending)
	f.deliver(t, key, 4)

	first, err := f.spawner.RequestBackorder(ctx, spawn.BackorderInput{Key: key, Token: "retry-me"})
	require.NoError(t, err)
	second, err := f.spawner.RequestBackorder(ctx, spawn.BackorderInput{Key: key, Token: "retry-me"})
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Child.ID, second.Child.ID)
	assert.Equal(t, first.Child.LineageID, second.Child.LineageID)
	assert.Equal(t, 6, f.env.Reload(t, key).ReorderedQty)

	other := lifecycletest.MainKey("PO-2026-0101", "CAP-1U")
	f.env.SeedLine(t, other, 5, enums.LineStatusDeliveryPending)
	f.deliver(t, other, 1)
	_, err = f.spawner.RequestBackorder(ctx, spawn.BackorderInput{Key: other, Token: "retry-me"})
	requireCode(t, err, pkgerrors.CodeDuplicateSpawnToken)

	// A fresh token has nothing left to cover on the first line.
	_, err = f.spawner.RequestBackorder(ctx, spawn.BackorderInput{Key: key, Token: "another"})
	requireCode(t, err, pkgerrors.CodeNothingToSpawn)
}

func TestBackorderPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := lifecycletest.MainKey("PO-2026-0102", "IC-LM358")
	f.env.SeedLine(t, pending, 5, enums.LineStatusPoRaised)
	_, err := f.spawner.RequestBackorder(ctx, spawn.BackorderInput{Key: pending, Token: "t-1"})
	requireCode(t, err, pkgerrors.CodeParentNotEligible)

	_, err = f.spawner.RequestBackorder(ctx, spawn.BackorderInput{Key: pending, Token: " "})
	requireCode(t, err, pkgerrors.CodeValidation)

	_, err = f.spawner.RequestBackorder(ctx, spawn.BackorderInput{Key: lifecycletest.MainKey("PO-2026-0102", "NOPE"), Token: "t-2"})
	requireCode(t, err, pkgerrors.CodeNotFound)
}

func TestReturnsDrainRejectedUnits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := lifecycletest.MainKey("PO-2026-0103", "CAP-10U-0805")
	f.env.SeedLine(t, key, 7, enums.LineStatusDeliveryPending)
	f.deliver(t, key, 7)

	parent := f.quality(t, key, 5, 2, "bulging cans")
	assert.Equal(t, enums.LineStatusQcRejected, parent.Status)
	assert.Equal(t, 2, parent.FailedQty)

	res, err := f.spawner.RequestReturn(ctx, spawn.ReturnInput{Key: key, Quantity: 2, Token: "ret-1", Actor: buyer})
	require.NoError(t, err)
	assert.Equal(t, "RET-PO-2026-0103-01", res.Child.LineageID)
	assert.Equal(t, enums.LineageReturn, res.Child.LineageKind)
	assert.Equal(t, enums.LineStatusReturnCreated, res.Child.Status)
	assert.Equal(t, 2, res.Child.OrderedQty)
	assert.Equal(t, 2, res.Parent.ReturnedQty)
	assert.Equal(t, enums.LineStatusReturnCreated, res.Parent.Status)

	_, err = f.spawner.RequestReturn(ctx, spawn.ReturnInput{Key: key, Quantity: 1, Token: "ret-2"})
	requireCode(t, err, pkgerrors.CodeNothingToSpawn)

	// The parent stays open until the vendor acknowledges the return.
	assert.Equal(t, enums.LineStatusReturnCreated, f.env.Reload(t, key).Status)

	child, err := f.spawner.CompleteReturn(ctx, spawn.CompleteReturnInput{Key: res.Child.Key(), Note: "credit note CN-88", Actor: buyer})
	require.NoError(t, err)
	assert.Equal(t, enums.LineStatusClosed, child.Status)
	assert.Equal(t, enums.LineStatusClosed, f.env.Reload(t, key).Status)
}

func TestReturnQuantityCannotExceedRejectedUnits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := lifecycletest.MainKey("PO-2026-0104", "IC-NE555")
	f.env.SeedLine(t, key, 6, enums.LineStatusDeliveryPending)
	f.deliver(t, key, 6)
	f.quality(t, key, 3, 3, "wrong package")

	_, err := f.spawner.RequestReturn(ctx, spawn.ReturnInput{Key: key, Quantity: 4, Token: "too-many"})
	requireCode(t, err, pkgerrors.CodeInvariantViolation)
	assert.Equal(t, 0, f.env.Reload(t, key).ReturnedQty)

	// The rejected request burned RET-...-01.
	first, err := f.spawner.RequestReturn(ctx, spawn.ReturnInput{Key: key, Quantity: 1, Token: "partial"})
	require.NoError(t, err)
	assert.Equal(t, "RET-PO-2026-0104-02", first.Child.LineageID)
	_, err = f.spawner.RequestReturn(ctx, spawn.ReturnInput{Key: key, Quantity: 2, Token: "partial"})
	requireCode(t, err, pkgerrors.CodeDuplicateSpawnToken)

	second, err := f.spawner.RequestReturn(ctx, spawn.ReturnInput{Key: key, Quantity: 2, Token: "rest"})
	require.NoError(t, err)
	assert.Equal(t, "RET-PO-2026-0104-03", second.Child.LineageID)
	assert.Equal(t, 3, second.Parent.ReturnedQty)
}

func TestReturnNeedsRejectedOrHeldParent(t *testing.T) {
	f := newFixture(t)
	key := lifecycletest.MainKey("PO-2026-0105", "RES-1K-0402")
	f.env.SeedLine(t, key, 4, enums.LineStatusDeliveryPending)
	f.deliver(t, key, 4)

	_, err := f.spawner.RequestReturn(context.Background(), spawn.ReturnInput{Key: key, Quantity: 1, Token: "early"})
	requireCode(t, err, pkgerrors.CodeParentNotEligible)

	_, err = f.spawner.CompleteReturn(context.Background(), spawn.CompleteReturnInput{Key: key})
	requireCode(t, err, pkgerrors.CodeIllegalTransition)
}
