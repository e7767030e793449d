package controllers

import (
	"net/http"

	"github.com/angelmondragon/materialflow/api/responses"
	"github.com/angelmondragon/materialflow/api/validators"
	"github.com/angelmondragon/materialflow/internal/orders"
	"github.com/angelmondragon/materialflow/pkg/logger"
)

type raiseOrderRequest struct {
	Lines []newLineRequest `json:"lines" validate:"required,min=1,dive"`
}

// RaisePurchaseOrder allocates a PO number and opens its main lines.
func RaisePurchaseOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body raiseOrderRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		po, err := svc.RaisePurchaseOrder(r.Context(), orders.RaiseInput{
			Actor: actorFrom(r),
			Lines: newLineInputs(body.Lines),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, purchaseOrderView(po))
	}
}

// RaiseDirectPO turns an approved direct PO into a purchase order.
func RaiseDirectPO(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathParam(r, "directPoId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		po, err := svc.RaiseDirectPO(r.Context(), orders.RaiseDirectInput{
			DirectPOID: id,
			Actor:      actorFrom(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, purchaseOrderView(po))
	}
}
