package lifecycle

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/materialflow/pkg/enums"
	"github.com/angelmondragon/materialflow/pkg/pagination"
)

func TestOpenLinesQueryFollowsDialect(t *testing.T) {
	filter := OpenLineFilter{
		OrderNumber: "PO-2026-0001",
		Statuses:    []enums.LineStatus{enums.LineStatusDeliveryPending},
		Cursor:      &pagination.Cursor{Key: []string{"PO-2026-0001", "IC-LM358", enums.MainLineageID}},
		Limit:       5,
	}

	pg, pgArgs, err := openLinesQuery("postgres", filter)
	require.NoError(t, err)
	assert.Contains(t, pg, `FROM "component_lines"`)
	assert.NotContains(t, pg, "$1")

	lite, liteArgs, err := openLinesQuery("sqlite", filter)
	require.NoError(t, err)
	assert.Contains(t, lite, "FROM `component_lines`")

	// gorm binds positionally on "?", so placeholders must match the args.
	for _, q := range []struct {
		sql  string
		args []any
	}{{pg, pgArgs}, {lite, liteArgs}} {
		assert.Equal(t, len(q.args), strings.Count(q.sql, "?"), q.sql)
	}
}
