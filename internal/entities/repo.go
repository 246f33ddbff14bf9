package entities

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/posflow/internal/repo"
	"github.com/angelmondragon/posflow/pkg/db/models"
)

// Repository defines persistence operations for QR entities and their owners.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Entity, error)
	FindByLabel(ctx context.Context, label string) (*models.Entity, error)
	Create(ctx context.Context, entity *models.Entity) error
	CreateCustomer(ctx context.Context, customer *models.Customer) error
	// AssignOwner binds the entity to customerID only while it is still
	// unowned. It reports false when another owner got there first.
	AssignOwner(ctx context.Context, id, customerID uuid.UUID) (bool, error)
}

type repository struct {
	base repo.Base
}

// NewRepository builds an entities repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{base: r.base.WithTx(tx)}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	var entity models.Entity
	found, err := r.base.Find(ctx, &entity, "id = ?", id)
	if err != nil || !found {
		return nil, err
	}
	return &entity, nil
}

func (r *repository) FindByLabel(ctx context.Context, label string) (*models.Entity, error) {
	var entity models.Entity
	found, err := r.base.Find(ctx, &entity, "label = ?", strings.ToUpper(strings.TrimSpace(label)))
	if err != nil || !found {
		return nil, err
	}
	return &entity, nil
}

func (r *repository) Create(ctx context.Context, entity *models.Entity) error {
	if entity.ID == uuid.Nil {
		entity.ID = uuid.New()
	}
	entity.Label = strings.ToUpper(strings.TrimSpace(entity.Label))
	return r.base.DB(ctx).Create(entity).Error
}

func (r *repository) CreateCustomer(ctx context.Context, customer *models.Customer) error {
	if customer.ID == uuid.Nil {
		customer.ID = uuid.New()
	}
	return r.base.DB(ctx).Create(customer).Error
}

func (r *repository) AssignOwner(ctx context.Context, id, customerID uuid.UUID) (bool, error) {
	res := r.base.DB(ctx).
		Model(&models.Entity{}).
		Where("id = ? AND customer_id IS NULL", id).
		Update("customer_id", customerID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
