package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/materialflow/api/responses"
	pkgerrors "github.com/angelmondragon/materialflow/pkg/errors"
	"github.com/angelmondragon/materialflow/pkg/logger"
)

const (
	actorIDHeader   = "X-Actor-Id"
	actorRoleHeader = "X-Actor-Role"
	maxActorLength  = 128
)

// Actor lifts the gateway-asserted caller identity into the request context.
// Reads may be anonymous; every write must name its actor.
func Actor(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actorID := strings.TrimSpace(r.Header.Get(actorIDHeader))
			role := strings.ToLower(strings.TrimSpace(r.Header.Get(actorRoleHeader)))

			if len(actorID) > maxActorLength || len(role) > maxActorLength {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "actor headers too long"))
				return
			}
			if actorID == "" && isWrite(r.Method) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, actorIDHeader+" header required"))
				return
			}

			ctx := WithActor(r.Context(), actorID, role)
			if logg != nil && actorID != "" {
				ctx = logg.WithActor(ctx, actorID, role)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func isWrite(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}
