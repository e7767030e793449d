package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/materialflow/pkg/db"
	"github.com/angelmondragon/materialflow/pkg/db/models"
	"github.com/angelmondragon/materialflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/materialflow/pkg/errors"
	"github.com/angelmondragon/materialflow/pkg/pagination"
)

const componentLinesTable = "component_lines"

// goqu dialects keyed by gorm dialector name. Both render "?" placeholders
// because the SQL is bound through gorm's Raw.
const (
	goquPostgres = "materialflow-postgres"
	goquSQLite   = "materialflow-sqlite"
)

func init() {
	pg := postgres.DialectOptions()
	pg.PlaceHolderFragment = []byte("?")
	pg.IncludePlaceholderNum = false
	goqu.RegisterDialect(goquPostgres, pg)
	goqu.RegisterDialect(goquSQLite, sqlite3.DialectOptions())
}

func goquDialect(gormDialect string) goqu.DialectWrapper {
	if gormDialect == "sqlite" {
		return goqu.Dialect(goquSQLite)
	}
	return goqu.Dialect(goquPostgres)
}

// OpenLineFilter narrows listOpenLines. Empty fields do not filter.
type OpenLineFilter struct {
	OrderNumber string
	MPN         string
	DirectPOID  string
	LineageKind enums.LineageKind
	Statuses    []enums.LineStatus
	Cursor      *pagination.Cursor
	Limit       int
}

// Repository persists component lines.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, line *models.ComponentLine) error
	FindByKey(ctx context.Context, key models.LineKey, forUpdate bool) (*models.ComponentLine, error)
	Update(ctx context.Context, line *models.ComponentLine, expectedVersion int64) error
	ListChildren(ctx context.Context, parent models.LineKey) ([]models.ComponentLine, error)
	CountOpenChildren(ctx context.Context, parent models.LineKey) (int64, error)
	ListOpen(ctx context.Context, filter OpenLineFilter) ([]models.ComponentLine, error)
	ListByDirectPO(ctx context.Context, directPOID string) ([]models.ComponentLine, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a component line repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, line *models.ComponentLine) error {
	if err := r.db.WithContext(ctx).Create(line).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "component line already exists").
				WithDetails(map[string]any{"key": line.Key()})
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create component line")
	}
	return nil
}

func (r *repository) FindByKey(ctx context.Context, key models.LineKey, forUpdate bool) (*models.ComponentLine, error) {
	q := r.db.WithContext(ctx).
		Where("order_number = ? AND mpn = ? AND lineage_id = ?", key.OrderNumber, key.MPN, key.LineageID)
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var line models.ComponentLine
	if err := q.First(&line).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "component line %s not found", key)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load component line")
	}
	return &line, nil
}

// Update writes every mutable column when the stored version still equals
// expectedVersion. line.Version must already hold the next version.
func (r *repository) Update(ctx context.Context, line *models.ComponentLine, expectedVersion int64) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.ComponentLine{}).
		Where("id = ? AND version = ?", line.ID, expectedVersion).
		Updates(map[string]any{
			"received_qty":     line.ReceivedQty,
			"passed_qty":       line.PassedQty,
			"failed_qty":       line.FailedQty,
			"returned_qty":     line.ReturnedQty,
			"reordered_qty":    line.ReorderedQty,
			"written_off_qty":  line.WrittenOffQty,
			"short_closed_qty": line.ShortClosedQty,
			"status":           line.Status,
			"status_note":      line.StatusNote,
			"po_reference":     line.POReference,
			"last_delivery_at": line.LastDeliveryAt,
			"version":          line.Version,
			"updated_at":       now,
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update component line")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.Newf(pkgerrors.CodeConcurrentModification, "component line %s changed concurrently", line.Key()).
			WithDetails(map[string]any{"expectedVersion": expectedVersion})
	}
	line.UpdatedAt = now
	return nil
}

func (r *repository) ListChildren(ctx context.Context, parent models.LineKey) ([]models.ComponentLine, error) {
	var lines []models.ComponentLine
	err := r.db.WithContext(ctx).
		Where("order_number = ? AND mpn = ? AND parent_lineage_id = ?", parent.OrderNumber, parent.MPN, parent.LineageID).
		Order("lineage_id ASC").
		Find(&lines).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list child lines")
	}
	return lines, nil
}

func (r *repository) CountOpenChildren(ctx context.Context, parent models.LineKey) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ComponentLine{}).
		Where("order_number = ? AND mpn = ? AND parent_lineage_id = ?", parent.OrderNumber, parent.MPN, parent.LineageID).
		Where("status NOT IN ?", []enums.LineStatus{enums.LineStatusClosed, enums.LineStatusCancelled}).
		Count(&count).Error
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count open child lines")
	}
	return count, nil
}

// ListOpen pages through lines ordered by their natural key.
func (r *repository) ListOpen(ctx context.Context, filter OpenLineFilter) ([]models.ComponentLine, error) {
	query, args, err := openLinesQuery(r.db.Dialector.Name(), filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build open lines query")
	}
	var lines []models.ComponentLine
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&lines).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list open lines")
	}
	return lines, nil
}

func openLinesQuery(dialect string, filter OpenLineFilter) (string, []any, error) {
	statuses := filter.Statuses
	if len(statuses) == 0 {
		statuses = enums.OpenLineStatuses()
	}
	values := make([]string, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, string(s))
	}

	where := []goqu.Expression{goqu.C("status").In(values)}
	if filter.OrderNumber != "" {
		where = append(where, goqu.C("order_number").Eq(filter.OrderNumber))
	}
	if filter.MPN != "" {
		where = append(where, goqu.C("mpn").Eq(filter.MPN))
	}
	if filter.DirectPOID != "" {
		where = append(where, goqu.C("direct_po_id").Eq(filter.DirectPOID))
	}
	if filter.LineageKind != "" {
		where = append(where, goqu.C("lineage_kind").Eq(string(filter.LineageKind)))
	}
	if filter.Cursor != nil && len(filter.Cursor.Key) == 3 {
		k := filter.Cursor.Key
		where = append(where, goqu.L(`("order_number", "mpn", "lineage_id") > (?, ?, ?)`, k[0], k[1], k[2]))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = pagination.LimitWithBuffer(0)
	}

	return goquDialect(dialect).From(componentLinesTable).
		Where(where...).
		Order(goqu.C("order_number").Asc(), goqu.C("mpn").Asc(), goqu.C("lineage_id").Asc()).
		Limit(uint(limit)).
		Prepared(true).
		ToSQL()
}

func (r *repository) ListByDirectPO(ctx context.Context, directPOID string) ([]models.ComponentLine, error) {
	var lines []models.ComponentLine
	err := r.db.WithContext(ctx).
		Where("direct_po_id = ? AND lineage_kind = ?", directPOID, enums.LineageMain).
		Order("mpn ASC").
		Find(&lines).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list direct PO lines")
	}
	return lines, nil
}
