package commits

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/posflow/internal/repo"
	"github.com/angelmondragon/posflow/pkg/db/models"
	"github.com/angelmondragon/posflow/pkg/enums"
)

// Repository defines persistence operations for commit records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, record *models.CommitRecord) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.CommitRecord, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.CommitRecord, error)
	SumRefunds(ctx context.Context, originalID uuid.UUID) (int64, error)
}

type repository struct {
	base repo.Base
}

// NewRepository builds a commits repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{base: r.base.WithTx(tx)}
}

func (r *repository) Create(ctx context.Context, record *models.CommitRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	return r.base.DB(ctx).Create(record).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.CommitRecord, error) {
	var record models.CommitRecord
	found, err := r.base.Find(ctx, &record, "id = ?", id)
	if err != nil || !found {
		return nil, err
	}
	return &record, nil
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, key string) (*models.CommitRecord, error) {
	var record models.CommitRecord
	found, err := r.base.Find(ctx, &record, "idempotency_key = ?", key)
	if err != nil || !found {
		return nil, err
	}
	return &record, nil
}

func (r *repository) SumRefunds(ctx context.Context, originalID uuid.UUID) (int64, error) {
	var total int64
	err := r.base.DB(ctx).
		Model(&models.CommitRecord{}).
		Where("kind = ? AND refund_of_id = ?", enums.FlowKindRefunds, originalID).
		Select("COALESCE(SUM(amount_cents), 0)").
		Scan(&total).Error
	return total, err
}
