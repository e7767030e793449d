package sequence

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/materialflow/pkg/enums"
)

// Counter atomically increments the counter of one (kind, parent_ref) scope
// and returns the new value. The first call on a scope returns 1.
type Counter interface {
	Next(ctx context.Context, kind enums.SequenceKind, parentRef string) (int64, error)
}

const upsertCounterSQL = `INSERT INTO sequence_counters (kind, parent_ref, last_value, updated_at)
VALUES (?, ?, 1, ?)
ON CONFLICT (kind, parent_ref) DO UPDATE
SET last_value = sequence_counters.last_value + 1, updated_at = excluded.updated_at
RETURNING last_value`

type dbCounter struct {
	db *gorm.DB
}

// NewDBCounter returns a counter backed by the sequence_counters table.
// Each call runs in its own statement so a caller's rollback never returns a value to the pool.
func NewDBCounter(db *gorm.DB) Counter {
	return &dbCounter{db: db}
}

func (c *dbCounter) Next(ctx context.Context, kind enums.SequenceKind, parentRef string) (int64, error) {
	var value int64
	err := c.db.WithContext(ctx).
		Raw(upsertCounterSQL, string(kind), parentRef, time.Now().UTC()).
		Scan(&value).Error
	if err != nil {
		return 0, err
	}
	return value, nil
}

// Incrementer is the slice of the redis client the counter needs.
type Incrementer interface {
	Incr(ctx context.Context, key string) (int64, error)
	SequenceKey(kind, parentRef string) string
}

type redisCounter struct {
	store Incrementer
}

// NewRedisCounter returns a counter backed by INCR on namespaced keys.
func NewRedisCounter(store Incrementer) Counter {
	return &redisCounter{store: store}
}

func (c *redisCounter) Next(ctx context.Context, kind enums.SequenceKind, parentRef string) (int64, error) {
	return c.store.Incr(ctx, c.store.SequenceKey(string(kind), parentRef))
}
