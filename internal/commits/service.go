package commits

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/posflow/internal/entities"
	"github.com/angelmondragon/posflow/pkg/db"
	"github.com/angelmondragon/posflow/pkg/db/models"
	"github.com/angelmondragon/posflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/posflow/pkg/errors"
	"github.com/angelmondragon/posflow/pkg/money"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service applies commits idempotently. The first call for a key stores a
// record; every later call with the same key and payload returns that record
// with Replayed set, and a different payload under the same key is rejected
// with CodeIdempotency.
type Service interface {
	Create(ctx context.Context, input CreateInput) (Result, error)
	Get(ctx context.Context, id uuid.UUID) (*models.CommitRecord, error)
}

type service struct {
	repo     Repository
	entities entities.Repository
	tx       txRunner
}

// NewService builds the commit service.
func NewService(repo Repository, entityRepo entities.Repository, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("commits repository required")
	}
	if entityRepo == nil {
		return nil, fmt.Errorf("entities repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	return &service{repo: repo, entities: entityRepo, tx: tx}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (Result, error) {
	if err := validateInput(input); err != nil {
		return Result{}, err
	}
	hash, err := requestHash(input)
	if err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash commit request")
	}

	existing, err := s.repo.FindByIdempotencyKey(ctx, input.IdempotencyKey)
	if err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency key")
	}
	if existing != nil {
		return replay(existing, hash)
	}

	var record *models.CommitRecord
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var txErr error
		record, txErr = s.apply(ctx, tx, input, hash)
		return txErr
	})
	if err == nil {
		return Result{Record: record}, nil
	}

	if db.IsUniqueViolation(err, "") {
		// A concurrent request with the same key may have won the insert.
		winner, findErr := s.repo.FindByIdempotencyKey(ctx, input.IdempotencyKey)
		if findErr != nil {
			return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "reload commit after duplicate key")
		}
		if winner != nil {
			return replay(winner, hash)
		}
	}
	if pkgerrors.As(err) != nil {
		return Result{}, err
	}
	return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store commit")
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.CommitRecord, error) {
	record, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load commit")
	}
	if record == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "commit not found")
	}
	return record, nil
}

func (s *service) apply(ctx context.Context, tx *gorm.DB, input CreateInput, hash string) (*models.CommitRecord, error) {
	commitRepo := s.repo.WithTx(tx)
	entityRepo := s.entities.WithTx(tx)

	entity, err := entityRepo.FindByID(ctx, input.ResolvedEntityID)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "entity not found")
	}

	record := &models.CommitRecord{
		Kind:           input.Kind,
		IdempotencyKey: input.IdempotencyKey,
		RequestHash:    hash,
		AmountCents:    input.AmountCents,
		EntityID:       entity.ID,
		PaymentMethod:  input.Method,
		RefundOfID:     input.RefundOf,
		OperatorID:     input.OperatorID,
		TerminalID:     input.TerminalID,
	}

	switch input.Kind {
	case enums.FlowKindRegistration:
		if entity.HasOwner() {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "entity is already registered")
		}
		customer := &models.Customer{
			Name:  strings.TrimSpace(input.Customer.Name),
			Phone: strings.TrimSpace(input.Customer.Phone),
		}
		if err := entityRepo.CreateCustomer(ctx, customer); err != nil {
			return nil, err
		}
		assigned, err := entityRepo.AssignOwner(ctx, entity.ID, customer.ID)
		if err != nil {
			return nil, err
		}
		if !assigned {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "entity is already registered")
		}
		record.CustomerID = &customer.ID
	default:
		if !entity.HasOwner() {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "entity has no registered customer")
		}
		record.CustomerID = entity.CustomerID
	}

	if input.Kind == enums.FlowKindRefunds {
		if err := s.checkRefund(ctx, commitRepo, input, entity); err != nil {
			return nil, err
		}
	}

	if err := commitRepo.Create(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *service) checkRefund(ctx context.Context, commitRepo Repository, input CreateInput, entity *models.Entity) error {
	original, err := commitRepo.FindByID(ctx, *input.RefundOf)
	if err != nil {
		return err
	}
	if original == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "original transaction not found")
	}
	if original.Kind != enums.FlowKindSales && original.Kind != enums.FlowKindCheckout {
		return pkgerrors.New(pkgerrors.CodeValidation, "only sales and checkouts can be refunded").
			WithDetails(map[string]any{"refund_of": original.ID.String(), "kind": original.Kind.String()})
	}
	if original.EntityID != entity.ID {
		return pkgerrors.New(pkgerrors.CodeValidation, "original transaction belongs to another customer").
			WithDetails(map[string]any{"refund_of": original.ID.String()})
	}
	refunded, err := commitRepo.SumRefunds(ctx, original.ID)
	if err != nil {
		return err
	}
	if refunded+input.AmountCents > original.AmountCents {
		return pkgerrors.New(pkgerrors.CodeConflict, "refund exceeds the original amount").
			WithDetails(map[string]any{
				"original_cents":  original.AmountCents,
				"refunded_cents":  refunded,
				"requested_cents": input.AmountCents,
			})
	}
	return nil
}

func replay(existing *models.CommitRecord, hash string) (Result, error) {
	if existing.RequestHash != hash {
		return Result{}, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with a different request").
			WithDetails(map[string]any{"commit_id": existing.ID.String()})
	}
	return Result{Record: existing, Replayed: true}, nil
}

func validateInput(input CreateInput) error {
	details := map[string]string{}
	if !input.Kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown flow kind %q", input.Kind))
	}
	key := strings.TrimSpace(input.IdempotencyKey)
	switch {
	case key == "":
		details["idempotency_key"] = "is required"
	case !strings.HasPrefix(key, input.Kind.String()+"_"):
		details["idempotency_key"] = fmt.Sprintf("must start with %s_", input.Kind)
	}
	if input.ResolvedEntityID == uuid.Nil {
		details["resolved_entity_id"] = "is required"
	}
	if strings.TrimSpace(input.OperatorID) == "" {
		details["operator_id"] = "is required"
	}

	switch input.Kind {
	case enums.FlowKindSales, enums.FlowKindCheckout, enums.FlowKindRefunds:
		if input.AmountCents <= 0 {
			details["amount_cents"] = "must be greater than 0"
		}
	case enums.FlowKindRegistration:
		if input.AmountCents != 0 {
			details["amount_cents"] = "must be 0 for registration"
		}
		if input.Customer == nil || strings.TrimSpace(input.Customer.Name) == "" || strings.TrimSpace(input.Customer.Phone) == "" {
			details["customer"] = "name and phone are required"
		}
	}
	if input.Kind == enums.FlowKindCheckout && (input.Method == nil || !input.Method.IsValid()) {
		details["method"] = "must be cash or card"
	}
	if input.Kind != enums.FlowKindCheckout && input.Method != nil {
		details["method"] = "only checkout takes a payment method"
	}
	if input.Kind == enums.FlowKindRefunds && (input.RefundOf == nil || *input.RefundOf == uuid.Nil) {
		details["refund_of"] = "is required"
	}
	if input.Kind != enums.FlowKindRefunds && input.RefundOf != nil {
		details["refund_of"] = "only refunds reference a transaction"
	}

	if len(details) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	}
	return nil
}

var errNilRecord = errors.New("nil commit record")

// ToDTO renders a record for the wire.
func ToDTO(record *models.CommitRecord, replayed bool) (*CommitDTO, error) {
	if record == nil {
		return nil, errNilRecord
	}
	dto := &CommitDTO{
		ID:             record.ID.String(),
		Kind:           record.Kind,
		IdempotencyKey: record.IdempotencyKey,
		AmountCents:    record.AmountCents,
		Amount:         money.FormatCents(record.AmountCents),
		EntityID:       record.EntityID.String(),
		PaymentMethod:  record.PaymentMethod,
		CreatedAt:      record.CreatedAt,
		Replayed:       replayed,
	}
	if record.CustomerID != nil {
		dto.CustomerID = record.CustomerID.String()
	}
	if record.RefundOfID != nil {
		dto.RefundOf = record.RefundOfID.String()
	}
	return dto, nil
}
