package checkpoints

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/materialflow/pkg/db/models"
	pkgerrors "github.com/angelmondragon/materialflow/pkg/errors"
)

// Repository reads the checkpoint reference table.
type Repository interface {
	ListMatching(ctx context.Context, mpn string) ([]models.QualityCheckpoint, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// ListMatching returns every checkpoint whose prefix starts mpn, the generic
// empty prefix included.
func (r *repository) ListMatching(ctx context.Context, mpn string) ([]models.QualityCheckpoint, error) {
	var rows []models.QualityCheckpoint
	err := r.db.WithContext(ctx).
		Where("? LIKE category_prefix || '%'", mpn).
		Order("category_prefix ASC").
		Order("position ASC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list quality checkpoints")
	}
	return rows, nil
}

// LineFinder resolves a line's MPN.
type LineFinder interface {
	FindByKey(ctx context.Context, key models.LineKey, forUpdate bool) (*models.ComponentLine, error)
}

// Service answers which inspection instructions apply to a part.
type Service interface {
	ForMPN(ctx context.Context, mpn string) ([]models.QualityCheckpoint, error)
	ForLine(ctx context.Context, key models.LineKey) ([]models.QualityCheckpoint, error)
}

type service struct {
	repo  Repository
	lines LineFinder
}

func NewService(repo Repository, lines LineFinder) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("checkpoint repository required")
	}
	if lines == nil {
		return nil, fmt.Errorf("line finder required")
	}
	return &service{repo: repo, lines: lines}, nil
}

// ForMPN returns the generic checkpoints followed by those of the longest
// category prefix matching mpn.
func (s *service) ForMPN(ctx context.Context, mpn string) ([]models.QualityCheckpoint, error) {
	mpn = strings.ToUpper(strings.TrimSpace(mpn))
	if mpn == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "mpn is required")
	}
	rows, err := s.repo.ListMatching(ctx, mpn)
	if err != nil {
		return nil, err
	}
	return selectLongest(mpn, rows), nil
}

func (s *service) ForLine(ctx context.Context, key models.LineKey) ([]models.QualityCheckpoint, error) {
	if key.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number, mpn and lineage id are required")
	}
	line, err := s.lines.FindByKey(ctx, key, false)
	if err != nil {
		return nil, err
	}
	return s.ForMPN(ctx, line.MPN)
}

func selectLongest(mpn string, rows []models.QualityCheckpoint) []models.QualityCheckpoint {
	longest := ""
	for _, row := range rows {
		if strings.HasPrefix(mpn, row.CategoryPrefix) && len(row.CategoryPrefix) > len(longest) {
			longest = row.CategoryPrefix
		}
	}
	out := make([]models.QualityCheckpoint, 0, len(rows))
	for _, row := range rows {
		if row.CategoryPrefix == "" || (longest != "" && row.CategoryPrefix == longest) {
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i].CategoryPrefix) != len(out[j].CategoryPrefix) {
			return len(out[i].CategoryPrefix) < len(out[j].CategoryPrefix)
		}
		return out[i].Position < out[j].Position
	})
	return out
}
