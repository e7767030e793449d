package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+50))
	assert.Equal(t, 10, NormalizeLimit(10))
	assert.Equal(t, 11, LimitWithBuffer(10))
}

func TestCursorRoundTrip(t *testing.T) {
	raw := EncodeCursor(Cursor{Key: []string{"PO-2026-0001", "IC-STM32F4", "BO-PO-2026-0001-01"}})

	cur, err := ParseCursor(raw, 3)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, []string{"PO-2026-0001", "IC-STM32F4", "BO-PO-2026-0001-01"}, cur.Key)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	cur, err := ParseCursor("  ", 3)
	require.NoError(t, err)
	assert.Nil(t, cur)

	_, err = ParseCursor("%%%", 3)
	assert.Error(t, err)

	_, err = ParseCursor(EncodeCursor(Cursor{Key: []string{"a", "b"}}), 3)
	assert.Error(t, err)
}
