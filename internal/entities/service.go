package entities

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/posflow/pkg/db"
	"github.com/angelmondragon/posflow/pkg/db/models"
	"github.com/angelmondragon/posflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/posflow/pkg/errors"
)

// Service answers the two entity lookups a terminal races against each other.
// Both apply the flow kind's ownership rule and report CodeNotFound when the
// entity is missing or not eligible, so a caller cannot tell the two apart.
type Service interface {
	LookupByID(ctx context.Context, kind enums.FlowKind, id string) (*EntityDTO, error)
	LookupByLabel(ctx context.Context, kind enums.FlowKind, label string) (*EntityDTO, error)
	// Create issues a new unowned card with the printed label.
	Create(ctx context.Context, label string) (*EntityDTO, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, errors.New("entities repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) LookupByID(ctx context.Context, kind enums.FlowKind, id string) (*EntityDTO, error) {
	if !kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown flow kind %q", kind))
	}
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		// Labels are typed into the same field, so a non-uuid is just a miss.
		return nil, notEligible()
	}
	entity, err := s.repo.FindByID(ctx, parsed)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup entity by id")
	}
	return eligible(kind, entity)
}

func (s *service) LookupByLabel(ctx context.Context, kind enums.FlowKind, label string) (*EntityDTO, error) {
	if !kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown flow kind %q", kind))
	}
	if strings.TrimSpace(label) == "" {
		return nil, notEligible()
	}
	entity, err := s.repo.FindByLabel(ctx, label)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup entity by label")
	}
	return eligible(kind, entity)
}

func (s *service) Create(ctx context.Context, label string) (*EntityDTO, error) {
	label = strings.ToUpper(strings.TrimSpace(label))
	if label == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "label is required")
	}
	if _, err := uuid.Parse(label); err == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "label must not look like an entity id")
	}
	entity := &models.Entity{Label: label}
	if err := s.repo.Create(ctx, entity); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "label already issued").
				WithDetails(map[string]any{"label": label})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create entity")
	}
	return FromModel(entity), nil
}

func eligible(kind enums.FlowKind, entity *models.Entity) (*EntityDTO, error) {
	if entity == nil || entity.HasOwner() != kind.RequiresOwner() {
		return nil, notEligible()
	}
	return FromModel(entity), nil
}

func notEligible() error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "entity not found")
}
