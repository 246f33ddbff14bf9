package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/posflow/api/responses"
	"github.com/angelmondragon/posflow/api/validators"
	"github.com/angelmondragon/posflow/internal/entities"
	"github.com/angelmondragon/posflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/posflow/pkg/errors"
	"github.com/angelmondragon/posflow/pkg/logger"
)

const maxLabelLength = 32

type createEntityRequest struct {
	Label string `json:"label" validate:"required,max=32"`
}

// EntityByID serves GET /api/v1/entities/{kind}/by-id/{id}.
func EntityByID(svc entities.Service, logg *logger.Logger) http.HandlerFunc {
	return entityLookup(svc, logg, "id")
}

// EntityByLabel serves GET /api/v1/entities/{kind}/by-label/{label}.
func EntityByLabel(svc entities.Service, logg *logger.Logger) http.HandlerFunc {
	return entityLookup(svc, logg, "label")
}

func entityLookup(svc entities.Service, logg *logger.Logger, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "entities service unavailable"))
			return
		}
		kind, err := enums.ParseFlowKind(chi.URLParam(r, "kind"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid flow kind"))
			return
		}
		value := validators.SanitizeString(chi.URLParam(r, param), 64)
		if value == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, param+" is required"))
			return
		}

		var entity *entities.EntityDTO
		if param == "label" {
			entity, err = svc.LookupByLabel(r.Context(), kind, value)
		} else {
			entity, err = svc.LookupByID(r.Context(), kind, value)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, entity)
	}
}

// CreateEntity serves POST /api/v1/entities for card issuance.
func CreateEntity(svc entities.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "entities service unavailable"))
			return
		}
		var body createEntityRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entity, err := svc.Create(r.Context(), strings.ToUpper(validators.SanitizeString(body.Label, maxLabelLength)))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, entity)
	}
}
