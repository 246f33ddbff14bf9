package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/posflow/api/responses"
	"github.com/angelmondragon/posflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/posflow/pkg/errors"
	"github.com/angelmondragon/posflow/pkg/logger"
)

func RequireRole(role enums.OperatorRole, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if RoleFromContext(r.Context()) != role {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "role required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireCommitRole checks the {kind} route parameter against what the
// operator's role may commit. Unknown kinds pass through to the handler,
// which rejects them with a validation error.
func RequireCommitRole(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			kind, err := enums.ParseFlowKind(chi.URLParam(r, "kind"))
			if err == nil && !RoleFromContext(r.Context()).CanCommit(kind) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "role may not commit "+kind.String()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
