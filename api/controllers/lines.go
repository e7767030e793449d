package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/materialflow/api/responses"
	"github.com/angelmondragon/materialflow/api/validators"
	"github.com/angelmondragon/materialflow/internal/ledger"
	"github.com/angelmondragon/materialflow/internal/lifecycle"
	"github.com/angelmondragon/materialflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/materialflow/pkg/errors"
	"github.com/angelmondragon/materialflow/pkg/logger"
	"github.com/angelmondragon/materialflow/pkg/pagination"
	"github.com/angelmondragon/materialflow/pkg/types"
)

type deliveryRequest struct {
	Quantity    int        `json:"quantity" validate:"gt=0"`
	DeliveredAt *time.Time `json:"deliveredAt"`
	Note        string     `json:"note" validate:"max=1000"`
}

type qualityRequest struct {
	Passed int    `json:"passed" validate:"gte=0"`
	Failed int    `json:"failed" validate:"gte=0"`
	Hold   bool   `json:"hold"`
	Note   string `json:"note" validate:"max=1000"`
}

type transitionRequest struct {
	Target string `json:"target" validate:"required"`
	Note   string `json:"note" validate:"max=1000"`
}

type writeOffRequest struct {
	Scope    string `json:"scope" validate:"required,oneof=rejected shortfall"`
	Quantity int    `json:"quantity" validate:"gt=0"`
	Note     string `json:"note" validate:"max=1000"`
}

// GetLine returns one line with its derived quantities.
func GetLine(svc lifecycle.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "lifecycle service unavailable"))
			return
		}
		key, err := lineKeyFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		line, err := svc.GetLine(r.Context(), key)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, lineView(line))
	}
}

// ListOpenLines pages non-terminal lines ordered by natural key.
func ListOpenLines(svc lifecycle.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "lifecycle service unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		query, err := openLinesQuery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		query.Params = pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}

		page, err := svc.ListOpenLines(r.Context(), query)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, types.PageEnvelope[LineView]{
			Items:      lineViews(page.Lines),
			NextCursor: page.NextCursor,
		})
	}
}

func openLinesQuery(r *http.Request) (lifecycle.ListOpenLinesQuery, error) {
	q := r.URL.Query()
	query := lifecycle.ListOpenLinesQuery{
		OrderNumber: validators.SanitizeString(q.Get("orderNumber"), 64),
		MPN:         validators.SanitizeString(q.Get("mpn"), 128),
		DirectPOID:  validators.SanitizeString(q.Get("directPoId"), 64),
	}
	if raw := strings.TrimSpace(q.Get("lineageKind")); raw != "" {
		kind, err := enums.ParseLineageKind(raw)
		if err != nil {
			return query, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid lineageKind")
		}
		query.LineageKind = kind
	}
	for _, raw := range strings.Split(q.Get("status"), ",") {
		if raw = strings.TrimSpace(raw); raw == "" {
			continue
		}
		status, err := enums.ParseLineStatus(raw)
		if err != nil {
			return query, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status")
		}
		query.Statuses = append(query.Statuses, status)
	}
	return query, nil
}

// RecordDelivery books delivered units against the line.
func RecordDelivery(svc lifecycle.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := lineKeyFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body deliveryRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := lifecycle.RecordDeliveryInput{
			Key:      key,
			Quantity: body.Quantity,
			Note:     body.Note,
			Actor:    actorFrom(r),
		}
		if body.DeliveredAt != nil {
			input.DeliveredAt = *body.DeliveredAt
		}
		line, err := svc.RecordDelivery(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, lineView(line))
	}
}

// RecordQualityResult disposes every received unit as passed or failed.
func RecordQualityResult(svc lifecycle.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := lineKeyFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body qualityRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		line, err := svc.RecordQualityResult(r.Context(), lifecycle.RecordQualityInput{
			Key:    key,
			Passed: body.Passed,
			Failed: body.Failed,
			Hold:   body.Hold,
			Note:   body.Note,
			Actor:  actorFrom(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, lineView(line))
	}
}

func Transition(svc lifecycle.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := lineKeyFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body transitionRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		target, err := enums.ParseLineStatus(body.Target)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid target status"))
			return
		}
		line, err := svc.Transition(r.Context(), lifecycle.TransitionInput{
			Key:    key,
			Target: target,
			Note:   body.Note,
			Actor:  actorFrom(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, lineView(line))
	}
}

func WriteOff(svc lifecycle.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := lineKeyFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body writeOffRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		scope, err := enums.ParseWriteOffScope(body.Scope)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid scope"))
			return
		}
		line, err := svc.WriteOff(r.Context(), lifecycle.WriteOffInput{
			Key:      key,
			Scope:    scope,
			Quantity: body.Quantity,
			Note:     body.Note,
			Actor:    actorFrom(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, lineView(line))
	}
}

func CloseLine(svc lifecycle.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := lineKeyFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		line, err := svc.CloseLine(r.Context(), key, actorFrom(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, lineView(line))
	}
}

// ListLineage returns the backorder and return children of a line.
func ListLineage(svc lifecycle.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := lineKeyFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		children, err := svc.ListLineage(r.Context(), key)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, lineViews(children))
	}
}

// ListMovements returns the quantity journal of a line, oldest first.
func ListMovements(lines lifecycle.Service, journal ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := lineKeyFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		line, err := lines.GetLine(r.Context(), key)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := journal.ListMovements(r.Context(), line.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, movementViews(rows))
	}
}
