package controllers

import (
	"net/http"

	"github.com/angelmondragon/posflow/api/middleware"
	"github.com/angelmondragon/posflow/api/responses"
)

func PublicPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{"scope": "public", "status": "ok"})
	}
}

// OperatorPing echoes the identity carried by the caller's token. Terminals
// use it to check a token before opening a flow.
func OperatorPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		responses.WriteSuccess(w, map[string]string{
			"scope":       "operator",
			"status":      "ok",
			"operator_id": middleware.OperatorIDFromContext(ctx),
			"terminal_id": middleware.TerminalIDFromContext(ctx),
			"role":        middleware.RoleFromContext(ctx).String(),
		})
	}
}
