package controllers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/materialflow/api/middleware"
	"github.com/angelmondragon/materialflow/api/validators"
	"github.com/angelmondragon/materialflow/internal/lifecycle"
	"github.com/angelmondragon/materialflow/pkg/db/models"
	pkgerrors "github.com/angelmondragon/materialflow/pkg/errors"
)

func actorFrom(r *http.Request) lifecycle.Actor {
	return lifecycle.Actor{
		ID:   middleware.ActorIDFromContext(r.Context()),
		Role: middleware.RoleFromContext(r.Context()),
	}
}

func pathParam(r *http.Request, name string) (string, error) {
	raw := chi.URLParam(r, name)
	value, err := url.PathUnescape(raw)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, name+" is required")
	}
	return value, nil
}

func lineKeyFrom(r *http.Request) (models.LineKey, error) {
	order, err := pathParam(r, "orderNumber")
	if err != nil {
		return models.LineKey{}, err
	}
	mpn, err := pathParam(r, "mpn")
	if err != nil {
		return models.LineKey{}, err
	}
	lineage, err := pathParam(r, "lineageId")
	if err != nil {
		return models.LineKey{}, err
	}
	return models.LineKey{OrderNumber: order, MPN: mpn, LineageID: lineage}, nil
}

// decodeOptionalBody accepts an empty body for endpoints whose fields are all optional.
func decodeOptionalBody(r *http.Request, dest any) error {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return nil
	}
	return validators.DecodeJSONBody(r, dest)
}

type newLineRequest struct {
	MPN         string          `json:"mpn" validate:"required,max=128"`
	Description string          `json:"description" validate:"max=512"`
	UOM         string          `json:"uom" validate:"required,max=16"`
	Quantity    int             `json:"quantity" validate:"gt=0"`
	RatePerUnit decimal.Decimal `json:"ratePerUnit"`
	GSTPercent  decimal.Decimal `json:"gstPercent"`
}

func newLineInputs(reqs []newLineRequest) []lifecycle.NewLineInput {
	out := make([]lifecycle.NewLineInput, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, lifecycle.NewLineInput{
			MPN:         req.MPN,
			Description: req.Description,
			UOM:         req.UOM,
			Quantity:    req.Quantity,
			RatePerUnit: req.RatePerUnit,
			GSTPercent:  req.GSTPercent,
		})
	}
	return out
}
