package controllers

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/materialflow/api/responses"
	"github.com/angelmondragon/materialflow/api/validators"
	"github.com/angelmondragon/materialflow/internal/approval"
	"github.com/angelmondragon/materialflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/materialflow/pkg/errors"
	"github.com/angelmondragon/materialflow/pkg/logger"
)

type directPORequest struct {
	Note  string           `json:"note" validate:"max=1000"`
	Lines []newLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type decisionRequest struct {
	Role     string `json:"role"`
	Decision string `json:"decision" validate:"required,oneof=approve reject"`
	Note     string `json:"note" validate:"max=1000"`
}

func RequestDirectPO(svc approval.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body directPORequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		chain, err := svc.RequestDirectPO(r.Context(), approval.RequestInput{
			Actor: actorFrom(r),
			Note:  body.Note,
			Lines: newLineInputs(body.Lines),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, chainView(chain))
	}
}

func GetDirectPO(svc approval.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathParam(r, "directPoId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		chain, err := svc.GetChain(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, chainView(chain))
	}
}

// AdvanceDirectPO records the next approver's decision. The role defaults to
// the caller's X-Actor-Role.
func AdvanceDirectPO(svc approval.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathParam(r, "directPoId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body decisionRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actor := actorFrom(r)
		rawRole := strings.TrimSpace(body.Role)
		if rawRole == "" {
			rawRole = actor.Role
		}
		role, err := enums.ParseApprovalRole(rawRole)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid role"))
			return
		}
		decision, err := enums.ParseApprovalDecision(body.Decision)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid decision"))
			return
		}
		chain, err := svc.Advance(r.Context(), approval.AdvanceInput{
			DirectPOID: id,
			Role:       role,
			Decision:   decision,
			Note:       body.Note,
			Actor:      actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, chainView(chain))
	}
}
