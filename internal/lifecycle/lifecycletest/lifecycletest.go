// Package lifecycletest builds lifecycle machines over migrated SQLite for tests.
package lifecycletest

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/materialflow/internal/ledger"
	"github.com/angelmondragon/materialflow/internal/lifecycle"
	"github.com/angelmondragon/materialflow/pkg/db"
	"github.com/angelmondragon/materialflow/pkg/db/dbtest"
	"github.com/angelmondragon/materialflow/pkg/db/models"
	"github.com/angelmondragon/materialflow/pkg/enums"
	"github.com/angelmondragon/materialflow/pkg/logger"
	"github.com/angelmondragon/materialflow/pkg/metrics"
	"github.com/angelmondragon/materialflow/pkg/outbox"
)

// Env bundles a machine with the handles tests inspect.
type Env struct {
	Client   *db.Client
	Machine  *lifecycle.Machine
	Registry *prometheus.Registry
}

// New opens a fresh database and wires a machine over it.
func New(t testing.TB) *Env {
	t.Helper()
	client := dbtest.Client(t)
	reg := prometheus.NewRegistry()
	machine, err := lifecycle.NewMachine(lifecycle.MachineParams{
		DB:        client,
		Lines:     lifecycle.NewRepository(client.DB()),
		Movements: ledger.NewRepository(client.DB()),
		Emitter:   outbox.NewService(outbox.NewRepository(client.DB()), logger.Nop()),
		Metrics:   metrics.NewLifecycleMetrics(reg),
		Logger:    logger.Nop(),
	})
	if err != nil {
		t.Fatalf("build machine: %v", err)
	}
	return &Env{Client: client, Machine: machine, Registry: reg}
}

// DB returns the root gorm handle.
func (e *Env) DB() *gorm.DB { return e.Client.DB() }

// MainKey is the key of the main line of mpn on order.
func MainKey(order, mpn string) models.LineKey {
	return models.LineKey{OrderNumber: order, MPN: mpn, LineageID: enums.MainLineageID}
}

// SeedLine inserts a main line in status with ordered units.
func (e *Env) SeedLine(t testing.TB, key models.LineKey, ordered int, status enums.LineStatus) *models.ComponentLine {
	t.Helper()
	line := &models.ComponentLine{
		OrderNumber: key.OrderNumber,
		MPN:         key.MPN,
		LineageID:   key.LineageID,
		LineageKind: enums.LineageMain,
		Description: "test part " + key.MPN,
		UOM:         "pcs",
		RatePerUnit: decimal.RequireFromString("1.2500"),
		GSTPercent:  decimal.RequireFromString("18"),
		OrderedQty:  ordered,
		Status:      status,
	}
	if err := e.DB().Create(line).Error; err != nil {
		t.Fatalf("seed line: %v", err)
	}
	return line
}

// Reload reads the line back from the database.
func (e *Env) Reload(t testing.TB, key models.LineKey) *models.ComponentLine {
	t.Helper()
	var line models.ComponentLine
	err := e.DB().Where("order_number = ? AND mpn = ? AND lineage_id = ?", key.OrderNumber, key.MPN, key.LineageID).
		First(&line).Error
	if err != nil {
		t.Fatalf("reload line %s: %v", key, err)
	}
	return &line
}

// Events returns the outbox rows queued for an aggregate.
func (e *Env) Events(t testing.TB, eventType enums.OutboxEventType) []models.OutboxEvent {
	t.Helper()
	var rows []models.OutboxEvent
	if err := e.DB().Where("event_type = ?", eventType).Order("created_at ASC").Find(&rows).Error; err != nil {
		t.Fatalf("load events: %v", err)
	}
	return rows
}
