package sequence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/materialflow/pkg/db/dbtest"
	"github.com/angelmondragon/materialflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/materialflow/pkg/errors"
)

type fakeIncrementer struct {
	mu     sync.Mutex
	values map[string]int64
	err    error
}

func (f *fakeIncrementer) Incr(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	if f.values == nil {
		f.values = map[string]int64{}
	}
	f.values[key]++
	return f.values[key], nil
}

func (f *fakeIncrementer) SequenceKey(kind, parentRef string) string {
	return "mf:sequence:" + kind + ":" + parentRef
}

func fixedAllocator(t *testing.T, counter Counter) *Allocator {
	t.Helper()
	a, err := NewAllocator(counter, nil)
	require.NoError(t, err)
	a.now = func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) }
	return a
}

func TestFormatAndParse(t *testing.T) {
	cases := []struct {
		kind   enums.SequenceKind
		parent string
		value  int64
		want   string
	}{
		{enums.SequencePurchaseOrder, "2026", 42, "PO-2026-0042"},
		{enums.SequenceDirectPO, "2026", 7, "DPO-2026-0007"},
		{enums.SequenceBackorder, "PO-2026-0042", 3, "BO-PO-2026-0042-03"},
		{enums.SequenceReturn, "PO-2026-0042", 12, "RET-PO-2026-0042-12"},
		{enums.SequenceBackorder, "PO-2026-0042", 100, "BO-PO-2026-0042-100"},
	}
	for _, tc := range cases {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, Format(tc.kind, tc.parent, tc.value))

			id, err := Parse(tc.want)
			require.NoError(t, err)
			assert.Equal(t, ID{Kind: tc.kind, ParentRef: tc.parent, Value: tc.value}, id)
		})
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "PO", "PO-2026", "XX-2026-0001", "BO-PO-2026-0001-", "PO-2026-abc", "PO-2026-0000"} {
		_, err := Parse(raw)
		assert.Error(t, err, raw)
	}
}

func TestAllocatorFormatsPerKind(t *testing.T) {
	ctx := context.Background()
	a := fixedAllocator(t, NewRedisCounter(&fakeIncrementer{}))

	po, err := a.PurchaseOrder(ctx)
	require.NoError(t, err)
	assert.Equal(t, "PO-2026-0001", po.String())

	dpo, err := a.DirectPO(ctx)
	require.NoError(t, err)
	assert.Equal(t, "DPO-2026-0001", dpo.String())

	bo1, err := a.Backorder(ctx, po.String())
	require.NoError(t, err)
	bo2, err := a.Backorder(ctx, po.String())
	require.NoError(t, err)
	assert.Equal(t, "BO-PO-2026-0001-01", bo1.String())
	assert.Equal(t, "BO-PO-2026-0001-02", bo2.String())

	ret, err := a.Return(ctx, po.String())
	require.NoError(t, err)
	assert.Equal(t, "RET-PO-2026-0001-01", ret.String())
}

func TestAllocatorValidatesAndWrapsErrors(t *testing.T) {
	ctx := context.Background()
	a := fixedAllocator(t, NewRedisCounter(&fakeIncrementer{err: errors.New("connection refused")}))

	_, err := a.Next(ctx, enums.SequenceKind("INVOICE"), "2026")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = a.Backorder(ctx, "  ")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = a.PurchaseOrder(ctx)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	_, err = NewAllocator(nil, nil)
	assert.Error(t, err)
}

func TestDBCounterIsScopedAndNeverRepeats(t *testing.T) {
	conn := dbtest.Open(t)
	counter := NewDBCounter(conn)
	ctx := context.Background()

	const workers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[int64]bool{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := counter.Next(ctx, enums.SequenceBackorder, "PO-2026-0001")
			assert.NoError(t, err)
			mu.Lock()
			seen[v] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers)
	for v := int64(1); v <= workers; v++ {
		assert.True(t, seen[v], "missing value %d", v)
	}

	other, err := counter.Next(ctx, enums.SequenceBackorder, "PO-2026-0002")
	require.NoError(t, err)
	assert.Equal(t, int64(1), other)

	ret, err := counter.Next(ctx, enums.SequenceReturn, "PO-2026-0001")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ret)
}
