package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/posflow/api/middleware"
	"github.com/angelmondragon/posflow/api/responses"
	"github.com/angelmondragon/posflow/api/validators"
	"github.com/angelmondragon/posflow/internal/commits"
	"github.com/angelmondragon/posflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/posflow/pkg/errors"
	"github.com/angelmondragon/posflow/pkg/logger"
	"github.com/angelmondragon/posflow/pkg/metrics"
)

type commitCustomerRequest struct {
	Name  string `json:"name" validate:"required,max=120"`
	Phone string `json:"phone" validate:"required,min=7,max=20"`
}

type commitRequest struct {
	AmountCents      int64                  `json:"amount_cents" validate:"gte=0"`
	ResolvedEntityID string                 `json:"resolved_entity_id" validate:"required,uuid"`
	IdempotencyKey   string                 `json:"idempotency_key" validate:"required,max=128"`
	Method           string                 `json:"method,omitempty" validate:"omitempty,oneof=cash card"`
	Customer         *commitCustomerRequest `json:"customer,omitempty"`
	RefundOf         string                 `json:"refund_of,omitempty" validate:"omitempty,uuid"`
}

// CreateCommit serves POST /api/v1/commits/{kind}. The first call for a key
// answers 201; a repeat of the same request answers 200 with the original
// record.
func CreateCommit(svc commits.Service, m *metrics.FlowMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "commits service unavailable"))
			return
		}
		ctx := r.Context()

		kind, err := enums.ParseFlowKind(chi.URLParam(r, "kind"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid flow kind"))
			return
		}
		if logg != nil {
			ctx = logg.WithFlowKind(ctx, kind.String())
		}

		var body commitRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		headerKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		if headerKey == "" || headerKey != strings.TrimSpace(body.IdempotencyKey) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header must match idempotency_key"))
			return
		}
		if logg != nil {
			ctx = logg.WithField(ctx, "idempotency_key", headerKey)
		}

		input, err := toCreateInput(kind, body)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		input.OperatorID = middleware.OperatorIDFromContext(ctx)
		input.TerminalID = middleware.TerminalIDFromContext(ctx)

		start := time.Now()
		res, err := svc.Create(ctx, input)
		elapsed := time.Since(start)
		if err != nil {
			m.ObserveCommit(kind.String(), metrics.OutcomeFailure, elapsed)
			responses.WriteError(ctx, logg, w, err)
			return
		}
		dto, err := commits.ToDTO(res.Record, res.Replayed)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "render commit"))
			return
		}

		if res.Replayed {
			m.ObserveCommit(kind.String(), metrics.OutcomeReplayed, elapsed)
			w.Header().Set(middleware.ReplayHeader, "true")
			if logg != nil {
				logg.Info(logg.WithField(ctx, "commit_id", dto.ID), "commit.replayed")
			}
			responses.WriteSuccess(w, dto)
			return
		}
		m.ObserveCommit(kind.String(), metrics.OutcomeSuccess, elapsed)
		if logg != nil {
			logg.Info(logg.WithField(ctx, "commit_id", dto.ID), "commit.created")
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto)
	}
}

// GetCommit serves GET /api/v1/commits/{id}.
func GetCommit(svc commits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "commits service unavailable"))
			return
		}
		id, err := validators.PathUUID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		record, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		dto, err := commits.ToDTO(record, false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "render commit"))
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

func toCreateInput(kind enums.FlowKind, body commitRequest) (commits.CreateInput, error) {
	entityID, err := uuid.Parse(body.ResolvedEntityID)
	if err != nil {
		return commits.CreateInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid resolved_entity_id")
	}
	input := commits.CreateInput{
		Kind:             kind,
		IdempotencyKey:   strings.TrimSpace(body.IdempotencyKey),
		AmountCents:      body.AmountCents,
		ResolvedEntityID: entityID,
	}
	if body.Method != "" {
		method, err := enums.ParsePaymentMethod(body.Method)
		if err != nil {
			return commits.CreateInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid method")
		}
		input.Method = &method
	}
	if body.Customer != nil {
		input.Customer = &commits.CustomerInput{
			Name:  validators.SanitizeString(body.Customer.Name, 120),
			Phone: validators.SanitizeString(body.Customer.Phone, 20),
		}
	}
	if body.RefundOf != "" {
		refundOf, err := uuid.Parse(body.RefundOf)
		if err != nil {
			return commits.CreateInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid refund_of")
		}
		input.RefundOf = &refundOf
	}
	return input, nil
}
