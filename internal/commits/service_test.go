package commits

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/posflow/internal/entities"
	"github.com/angelmondragon/posflow/pkg/db"
	"github.com/angelmondragon/posflow/pkg/db/models"
	"github.com/angelmondragon/posflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/posflow/pkg/errors"
)

func setupCommitsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.Customer{}, &models.Entity{}, &models.CommitRecord{}))
	return conn
}

type fixture struct {
	svc      Service
	repo     Repository
	entities entities.Repository
	owned    *models.Entity
	free     *models.Entity
	client   *db.Client
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	conn := setupCommitsTestDB(t)

	entityRepo := entities.NewRepository(conn)
	customer := &models.Customer{Name: "Thandi", Phone: "0821234567"}
	require.NoError(t, entityRepo.CreateCustomer(ctx, customer))
	owned := &models.Entity{Label: "OWN001", CustomerID: &customer.ID}
	free := &models.Entity{Label: "FREE01"}
	require.NoError(t, entityRepo.Create(ctx, owned))
	require.NoError(t, entityRepo.Create(ctx, free))

	client := db.NewFromGorm(conn)
	repo := NewRepository(conn)
	svc, err := NewService(repo, entityRepo, client)
	require.NoError(t, err)
	return fixture{svc: svc, repo: repo, entities: entityRepo, owned: owned, free: free, client: client}
}

func method(m enums.PaymentMethod) *enums.PaymentMethod { return &m }

func saleInput(entityID uuid.UUID, cents int64) CreateInput {
	return CreateInput{
		Kind:             enums.FlowKindSales,
		IdempotencyKey:   "sales_" + uuid.NewString(),
		AmountCents:      cents,
		ResolvedEntityID: entityID,
		OperatorID:       "op-1",
		TerminalID:       "till-1",
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(nil, nil, nil)
	require.Error(t, err)
}

func TestCreateSaleStoresRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Create(ctx, saleInput(f.owned.ID, 2500))
	require.NoError(t, err)
	require.NotNil(t, res.Record)
	assert.False(t, res.Replayed)
	assert.Equal(t, f.owned.ID, res.Record.EntityID)
	require.NotNil(t, res.Record.CustomerID)
	assert.Equal(t, *f.owned.CustomerID, *res.Record.CustomerID)

	loaded, err := f.svc.Get(ctx, res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), loaded.AmountCents)
}

func TestCreateReplaysSameKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	input := saleInput(f.owned.ID, 1000)

	first, err := f.svc.Create(ctx, input)
	require.NoError(t, err)
	second, err := f.svc.Create(ctx, input)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Record.ID, second.Record.ID)

	var count int64
	require.NoError(t, f.client.DB().Model(&models.CommitRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreateRejectsKeyReuseWithDifferentPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	input := saleInput(f.owned.ID, 1000)

	_, err := f.svc.Create(ctx, input)
	require.NoError(t, err)

	input.AmountCents = 1200
	_, err = f.svc.Create(ctx, input)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeIdempotency))
}

func TestCreateValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]func(in *CreateInput){
		"wrong key prefix":    func(in *CreateInput) { in.IdempotencyKey = "checkout_" + uuid.NewString() },
		"missing key":         func(in *CreateInput) { in.IdempotencyKey = "" },
		"zero amount":         func(in *CreateInput) { in.AmountCents = 0 },
		"missing operator":    func(in *CreateInput) { in.OperatorID = " " },
		"missing entity":      func(in *CreateInput) { in.ResolvedEntityID = uuid.Nil },
		"method on a sale":    func(in *CreateInput) { in.Method = method(enums.PaymentMethodCash) },
		"refund_of on a sale": func(in *CreateInput) { id := uuid.New(); in.RefundOf = &id },
		"unknown kind":        func(in *CreateInput) { in.Kind = enums.FlowKind("layaway") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			input := saleInput(f.owned.ID, 500)
			mutate(&input)
			_, err := f.svc.Create(ctx, input)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
		})
	}
}

func TestCreateCheckoutRequiresMethod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	input := saleInput(f.owned.ID, 900)
	input.Kind = enums.FlowKindCheckout
	input.IdempotencyKey = "checkout_" + uuid.NewString()

	_, err := f.svc.Create(ctx, input)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	input.Method = method(enums.PaymentMethodCard)
	res, err := f.svc.Create(ctx, input)
	require.NoError(t, err)
	require.NotNil(t, res.Record.PaymentMethod)
	assert.Equal(t, enums.PaymentMethodCard, *res.Record.PaymentMethod)
}

func TestCreateSaleRequiresOwner(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), saleInput(f.free.ID, 500))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestCreateUnknownEntity(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), saleInput(uuid.New(), 500))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func registrationInput(entityID uuid.UUID) CreateInput {
	return CreateInput{
		Kind:             enums.FlowKindRegistration,
		IdempotencyKey:   "registration_" + uuid.NewString(),
		ResolvedEntityID: entityID,
		Customer:         &CustomerInput{Name: "Sipho", Phone: "0837654321"},
		OperatorID:       "op-1",
	}
}

func TestCreateRegistrationAssignsOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Create(ctx, registrationInput(f.free.ID))
	require.NoError(t, err)
	require.NotNil(t, res.Record.CustomerID)
	assert.Equal(t, int64(0), res.Record.AmountCents)

	entity, err := f.entities.FindByID(ctx, f.free.ID)
	require.NoError(t, err)
	require.True(t, entity.HasOwner())
	assert.Equal(t, *res.Record.CustomerID, *entity.CustomerID)

	_, err = f.svc.Create(ctx, registrationInput(f.free.ID))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestCreateRegistrationNeedsCustomerAndNoAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	input := registrationInput(f.free.ID)
	input.Customer = nil
	_, err := f.svc.Create(ctx, input)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	input = registrationInput(f.free.ID)
	input.AmountCents = 100
	_, err = f.svc.Create(ctx, input)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func refundInput(entityID, original uuid.UUID, cents int64) CreateInput {
	return CreateInput{
		Kind:             enums.FlowKindRefunds,
		IdempotencyKey:   "refunds_" + uuid.NewString(),
		AmountCents:      cents,
		ResolvedEntityID: entityID,
		RefundOf:         &original,
		OperatorID:       "sup-1",
	}
}

func TestCreateRefundCappedByOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sale, err := f.svc.Create(ctx, saleInput(f.owned.ID, 1000))
	require.NoError(t, err)
	originalID := sale.Record.ID

	_, err = f.svc.Create(ctx, refundInput(f.owned.ID, originalID, 600))
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, refundInput(f.owned.ID, originalID, 500))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	res, err := f.svc.Create(ctx, refundInput(f.owned.ID, originalID, 400))
	require.NoError(t, err)
	require.NotNil(t, res.Record.RefundOfID)
	assert.Equal(t, originalID, *res.Record.RefundOfID)

	total, err := f.repo.SumRefunds(ctx, originalID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), total)
}

func TestCreateRefundRejectsRefundOfRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sale, err := f.svc.Create(ctx, saleInput(f.owned.ID, 1000))
	require.NoError(t, err)
	refund, err := f.svc.Create(ctx, refundInput(f.owned.ID, sale.Record.ID, 100))
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, refundInput(f.owned.ID, refund.Record.ID, 50))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.Create(ctx, refundInput(f.owned.ID, uuid.New(), 50))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

// lateRepo hides existing keys from the pre-check so the insert races the
// stored row, as a concurrent request would.
type lateRepo struct {
	Repository
	hidden bool
}

func (r *lateRepo) FindByIdempotencyKey(ctx context.Context, key string) (*models.CommitRecord, error) {
	if !r.hidden {
		r.hidden = true
		return nil, nil
	}
	return r.Repository.FindByIdempotencyKey(ctx, key)
}

func TestCreateDuplicateInsertReplaysWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	input := saleInput(f.owned.ID, 700)

	first, err := f.svc.Create(ctx, input)
	require.NoError(t, err)

	racing, err := NewService(&lateRepo{Repository: f.repo}, f.entities, f.client)
	require.NoError(t, err)

	res, err := racing.Create(ctx, input)
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, first.Record.ID, res.Record.ID)
}

func TestGetMissing(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Get(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestToDTO(t *testing.T) {
	customerID := uuid.New()
	record := &models.CommitRecord{
		ID:             uuid.New(),
		Kind:           enums.FlowKindCheckout,
		IdempotencyKey: "checkout_x",
		AmountCents:    12345,
		EntityID:       uuid.New(),
		CustomerID:     &customerID,
		PaymentMethod:  method(enums.PaymentMethodCash),
	}

	dto, err := ToDTO(record, true)
	require.NoError(t, err)
	assert.Equal(t, "R 123.45", dto.Amount)
	assert.Equal(t, customerID.String(), dto.CustomerID)
	assert.Empty(t, dto.RefundOf)
	assert.True(t, dto.Replayed)

	_, err = ToDTO(nil, false)
	assert.Error(t, err)
}
