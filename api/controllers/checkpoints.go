package controllers

import (
	"net/http"

	"github.com/angelmondragon/materialflow/api/responses"
	"github.com/angelmondragon/materialflow/internal/checkpoints"
	"github.com/angelmondragon/materialflow/pkg/logger"
)

func CheckpointsForMPN(svc checkpoints.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := svc.ForMPN(r.Context(), r.URL.Query().Get("mpn"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, checkpointViews(rows))
	}
}

// CheckpointsForLine returns the inspection steps that apply to a line's part.
func CheckpointsForLine(svc checkpoints.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := lineKeyFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ForLine(r.Context(), key)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, checkpointViews(rows))
	}
}
