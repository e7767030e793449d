package controllers

import (
	"net/http"

	"github.com/angelmondragon/materialflow/api/responses"
	"github.com/angelmondragon/materialflow/api/validators"
	"github.com/angelmondragon/materialflow/internal/spawn"
	"github.com/angelmondragon/materialflow/pkg/logger"
)

type backorderRequest struct {
	Token string `json:"token"`
}

type returnRequest struct {
	Token    string `json:"token"`
	Quantity int    `json:"quantity" validate:"gt=0"`
}

type completeReturnRequest struct {
	Note string `json:"note" validate:"max=1000"`
}

// spawnStatus is 201 for a new child and 200 when the token replays one.
func spawnStatus(res *spawn.Result) int {
	if res.Replayed {
		return http.StatusOK
	}
	return http.StatusCreated
}

// RequestBackorder spawns a child covering the parent's outstanding shortfall.
func RequestBackorder(svc spawn.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := lineKeyFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body backorderRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := svc.RequestBackorder(r.Context(), spawn.BackorderInput{
			Key:   key,
			Token: body.Token,
			Actor: actorFrom(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, spawnStatus(res), spawnView(res))
	}
}

// RequestReturn spawns a return child for rejected units.
func RequestReturn(svc spawn.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := lineKeyFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body returnRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := svc.RequestReturn(r.Context(), spawn.ReturnInput{
			Key:      key,
			Quantity: body.Quantity,
			Token:    body.Token,
			Actor:    actorFrom(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, spawnStatus(res), spawnView(res))
	}
}

func CompleteReturn(svc spawn.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := lineKeyFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body completeReturnRequest
		if err := decodeOptionalBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		line, err := svc.CompleteReturn(r.Context(), spawn.CompleteReturnInput{
			Key:   key,
			Note:  body.Note,
			Actor: actorFrom(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, lineView(line))
	}
}

// ListSpawns returns the backorder and return requests raised under a line.
func ListSpawns(svc spawn.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := lineKeyFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		records, err := svc.ListSpawns(r.Context(), key)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, spawnRecordViews(records))
	}
}
