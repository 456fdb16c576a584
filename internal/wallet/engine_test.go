package wallet

import (
	"context"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/giroflow-backend/internal/ledger"
	"github.com/angelmondragon/giroflow-backend/pkg/config"
	"github.com/angelmondragon/giroflow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/giroflow-backend/pkg/db/models"
	"github.com/angelmondragon/giroflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
	"github.com/angelmondragon/giroflow-backend/pkg/logger"
	"github.com/angelmondragon/giroflow-backend/pkg/outbox"
)

type createdCharge struct {
	agreementID string
	req         ChargeRequest
	key         string
}

type fakeAPI struct {
	mu         sync.Mutex
	agreements map[string]RemoteAgreement
	charges    map[string][]RemoteCharge
	draft      DraftResponse
	created    []createdCharge
	captured   []string
	patches    map[string]AgreementPatch
	calls      int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		agreements: map[string]RemoteAgreement{},
		charges:    map[string][]RemoteCharge{},
		patches:    map[string]AgreementPatch{},
	}
}

func (f *fakeAPI) touch() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *fakeAPI) DraftAgreement(_ context.Context, req DraftRequest) (DraftResponse, error) {
	f.touch()
	f.agreements[f.draft.AgreementID] = RemoteAgreement{ID: f.draft.AgreementID, Status: "PENDING", Price: req.Price}
	if req.InitialCharge != nil && f.draft.ChargeID != "" {
		f.charges[f.draft.AgreementID] = []RemoteCharge{{
			ID: f.draft.ChargeID, Status: "RESERVED", Due: "2024-03-01", Amount: req.InitialCharge.Amount, Type: "INITIAL",
		}}
	}
	return f.draft, nil
}

func (f *fakeAPI) GetAgreement(_ context.Context, id string) (RemoteAgreement, error) {
	f.touch()
	a, ok := f.agreements[id]
	if !ok {
		return RemoteAgreement{}, &APIError{StatusCode: 404}
	}
	return a, nil
}

func (f *fakeAPI) ListAgreements(_ context.Context, status string) ([]RemoteAgreement, error) {
	f.touch()
	var out []RemoteAgreement
	for _, a := range f.agreements {
		if a.Status == status {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAPI) UpdateAgreement(_ context.Context, id string, patch AgreementPatch) error {
	f.touch()
	f.patches[id] = patch
	a := f.agreements[id]
	if patch.Price != nil {
		a.Price = *patch.Price
	}
	if patch.Status != nil {
		a.Status = *patch.Status
	}
	f.agreements[id] = a
	return nil
}

func (f *fakeAPI) CreateCharge(_ context.Context, id string, req ChargeRequest, key string) (string, error) {
	f.touch()
	f.created = append(f.created, createdCharge{agreementID: id, req: req, key: key})
	chargeID := "chr_" + id + "_" + req.Due
	f.charges[id] = append(f.charges[id], RemoteCharge{ID: chargeID, Status: "PENDING", Due: req.Due, Amount: req.Amount, Type: "RECURRING"})
	return chargeID, nil
}

func (f *fakeAPI) GetCharge(_ context.Context, id, chargeID string) (RemoteCharge, error) {
	f.touch()
	for _, c := range f.charges[id] {
		if c.ID == chargeID {
			return c, nil
		}
	}
	return RemoteCharge{}, &APIError{StatusCode: 404}
}

func (f *fakeAPI) ListCharges(_ context.Context, id string) ([]RemoteCharge, error) {
	f.touch()
	return f.charges[id], nil
}

func (f *fakeAPI) CaptureCharge(_ context.Context, id, chargeID, key string) error {
	f.touch()
	f.captured = append(f.captured, key)
	return nil
}

func (f *fakeAPI) CancelCharge(context.Context, string, string) error {
	f.touch()
	return nil
}

func (f *fakeAPI) RefundCharge(context.Context, string, string, int64, string) error {
	f.touch()
	return nil
}

func (f *fakeAPI) InitiateOrder(context.Context, OrderRequest) (string, error) {
	f.touch()
	return "https://wallet.test/pay", nil
}

func (f *fakeAPI) GetOrderDetails(context.Context, string) (OrderDetails, error) {
	f.touch()
	return OrderDetails{}, nil
}

func (f *fakeAPI) CaptureOrder(context.Context, string, int64) error {
	f.touch()
	return nil
}

type testEnv struct {
	engine *Engine
	db     *gorm.DB
	api    *fakeAPI
}

func newTestEnv(t *testing.T, now time.Time) testEnv {
	t.Helper()
	client := dbtest.Client(t)
	emitter := outbox.NewService(outbox.NewRepository(client.DB()), nil)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(client.DB()), client, emitter)
	require.NoError(t, err)

	api := newFakeAPI()
	engine, err := NewEngine(EngineParams{
		Repository: NewRepository(client.DB()),
		API:        api,
		Ledger:     ledgerSvc,
		Logger:     logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Config: config.WalletConfig{
			MerchantAgreementURL: "https://giroflow.test/agreement/",
			ProductName:          "Fast donasjon",
			ChargeDaysInAdvance:  3,
			PollInterval:         time.Millisecond,
			PollBudget:           time.Second,
		},
		Now: func() time.Time { return now },
	})
	require.NoError(t, err)
	return testEnv{engine: engine, db: client.DB(), api: api}
}

func (env testEnv) seedDonor(t *testing.T, kid string) *models.Donor {
	t.Helper()
	donor := &models.Donor{Email: kid + "@example.no", FullName: "Kari Nordmann"}
	require.NoError(t, env.db.Create(donor).Error)
	require.NoError(t, env.db.Create(&models.Distribution{KID: kid, DonorID: donor.ID}).Error)
	return donor
}

func (env testEnv) seedAgreement(t *testing.T, a models.WalletAgreement) models.WalletAgreement {
	t.Helper()
	if a.Status == "" {
		a.Status = enums.WalletAgreementStatusActive
	}
	require.NoError(t, env.db.Create(&a).Error)
	return a
}

func (env testEnv) agreement(t *testing.T, id string) models.WalletAgreement {
	t.Helper()
	var row models.WalletAgreement
	require.NoError(t, env.db.Where("id = ?", id).First(&row).Error)
	return row
}

func TestCreateChargeRejectsShortLeadWithoutRemoteCall(t *testing.T) {
	env := newTestEnv(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))

	_, err := env.engine.CreateCharge(context.Background(), "agr_1", decimal.NewFromInt(200), 2)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
	assert.Zero(t, env.api.calls)
}

func TestCreateChargeRequiresActiveRemote(t *testing.T) {
	env := newTestEnv(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	donor := env.seedDonor(t, "12345678")
	env.seedAgreement(t, models.WalletAgreement{ID: "agr_1", DonorID: donor.ID, KID: "12345678", Amount: decimal.NewFromInt(200), MonthlyChargeDay: 4})
	env.api.agreements["agr_1"] = RemoteAgreement{ID: "agr_1", Status: "STOPPED", Price: 20000}

	_, err := env.engine.CreateCharge(context.Background(), "agr_1", decimal.NewFromInt(200), 3)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))
	assert.Empty(t, env.api.created)
}

func TestCreateChargeRefusesSecondChargeInMonth(t *testing.T) {
	env := newTestEnv(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	donor := env.seedDonor(t, "12345678")
	env.seedAgreement(t, models.WalletAgreement{ID: "agr_1", DonorID: donor.ID, KID: "12345678", Amount: decimal.NewFromInt(200), MonthlyChargeDay: 4})
	env.api.agreements["agr_1"] = RemoteAgreement{ID: "agr_1", Status: "ACTIVE", Price: 20000}
	require.NoError(t, env.db.Create(&models.WalletCharge{
		ID: "chr_manual", AgreementID: "agr_1", AmountNOK: decimal.NewFromInt(200),
		DueDate: time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC), DueMonth: "2024-03",
		Status: enums.WalletChargeStatusDue, Type: enums.WalletChargeTypeRecurring,
	}).Error)

	_, err := env.engine.CreateCharge(context.Background(), "agr_1", decimal.NewFromInt(200), 3)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeDuplicate))
	assert.Empty(t, env.api.created)
}

func TestCreateFutureDueCharges(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	env := newTestEnv(t, now)
	donor := env.seedDonor(t, "12345678")
	paused := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	forced := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	seed := []models.WalletAgreement{
		{ID: "due", MonthlyChargeDay: 4},
		{ID: "already-charged", MonthlyChargeDay: 4},
		{ID: "other-day", MonthlyChargeDay: 5},
		{ID: "paused", MonthlyChargeDay: 4, PausedUntil: &paused},
		{ID: "forced", MonthlyChargeDay: 20, ForceChargeDate: &forced},
		{ID: "stopped-remote", MonthlyChargeDay: 4},
	}
	for _, a := range seed {
		a.DonorID = donor.ID
		a.KID = "12345678"
		a.Amount = decimal.NewFromInt(250)
		env.seedAgreement(t, a)
		env.api.agreements[a.ID] = RemoteAgreement{ID: a.ID, Status: "ACTIVE", Price: 25000}
	}
	env.api.agreements["stopped-remote"] = RemoteAgreement{ID: "stopped-remote", Status: "STOPPED", Price: 25000}
	env.api.charges["already-charged"] = []RemoteCharge{{ID: "old", Status: "CHARGED", Due: "2024-03-02", Amount: 25000}}

	result, err := env.engine.CreateFutureDueCharges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, result.ActiveAgreements)
	assert.Equal(t, 2, result.CreatedCharges)

	require.Len(t, env.api.created, 2)
	byID := map[string]createdCharge{}
	for _, c := range env.api.created {
		byID[c.agreementID] = c
	}
	require.Contains(t, byID, "due")
	require.Contains(t, byID, "forced")
	startOfDay := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	assert.Equal(t, "2024-03-04", byID["due"].req.Due)
	assert.Equal(t, int64(25000), byID["due"].req.Amount)
	assert.Equal(t, chargeRetryDays, byID["due"].req.RetryDays)
	assert.Equal(t, strconv.FormatInt(startOfDay, 10)+"-due", byID["due"].key)

	var stored []models.WalletCharge
	require.NoError(t, env.db.Order("agreement_id ASC").Find(&stored).Error)
	require.Len(t, stored, 2)
	assert.Equal(t, enums.WalletChargeTypeRecurring, stored[0].Type)
	assert.Equal(t, enums.WalletChargeStatusPending, stored[0].Status)
}

func TestSynchronizeIsIdempotent(t *testing.T) {
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	env := newTestEnv(t, now)
	donor := env.seedDonor(t, "12345678")
	env.seedAgreement(t, models.WalletAgreement{ID: "agr_1", DonorID: donor.ID, KID: "12345678", Amount: decimal.NewFromInt(250), MonthlyChargeDay: 4})
	env.api.agreements["agr_1"] = RemoteAgreement{ID: "agr_1", Status: "ACTIVE", Price: 30000}
	env.api.agreements["agr_elsewhere"] = RemoteAgreement{ID: "agr_elsewhere", Status: "STOPPED", Price: 10000}
	env.api.charges["agr_1"] = []RemoteCharge{
		{ID: "chr_feb", Status: "CHARGED", Due: "2024-02-04", Amount: 25000, Type: "RECURRING"},
		{ID: "chr_mar", Status: "CHARGED", Due: "2024-03-04", Amount: 30000, Type: "RECURRING"},
		{ID: "chr_fail", Status: "FAILED", Due: "2024-01-04", Amount: 25000, Type: "RECURRING"},
	}

	ctx := context.Background()
	first, err := env.engine.Synchronize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Agreements)
	assert.Equal(t, 3, first.Charges)
	assert.Equal(t, 2, first.Donations)
	assert.Equal(t, []string{"agr_elsewhere"}, first.Unknown)

	second, err := env.engine.Synchronize(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Donations)

	var donations []models.Donation
	require.NoError(t, env.db.Order("external_payment_id ASC").Find(&donations).Error)
	require.Len(t, donations, 2)
	assert.Equal(t, "agr_1.chr_feb", donations[0].ExternalPaymentID)
	assert.Equal(t, enums.PaymentMethodWallet, donations[0].PaymentMethod)
	assert.True(t, decimal.NewFromInt(250).Equal(donations[0].Amount))
	// February closed before the sync ran, so the donation lands today
	assert.True(t, donations[0].RegisteredAt.Equal(now))
	assert.True(t, donations[1].RegisteredAt.Equal(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)))

	local := env.agreement(t, "agr_1")
	assert.True(t, decimal.NewFromInt(300).Equal(local.Amount))
	require.NotNil(t, local.PriceChangedAt)
}

func TestSynchronizeBooksChargesThatShareAMonth(t *testing.T) {
	env := newTestEnv(t, time.Date(2024, 3, 25, 9, 0, 0, 0, time.UTC))
	donor := env.seedDonor(t, "12345678")
	env.seedAgreement(t, models.WalletAgreement{ID: "agr_1", DonorID: donor.ID, KID: "12345678", Amount: decimal.NewFromInt(250), MonthlyChargeDay: 4})
	env.api.agreements["agr_1"] = RemoteAgreement{ID: "agr_1", Status: "ACTIVE", Price: 25000}
	env.api.charges["agr_1"] = []RemoteCharge{
		{ID: "chr_a", Status: "CHARGED", Due: "2024-03-04", Amount: 25000, Type: "RECURRING"},
		{ID: "chr_b", Status: "CHARGED", Due: "2024-03-21", Amount: 25000, Type: "RECURRING"},
	}

	result, err := env.engine.Synchronize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Charges)
	assert.Equal(t, []string{"chr_b"}, result.Conflicts)
	assert.Equal(t, 2, result.Donations)
}

func TestDraftAgreementAndActivationPoll(t *testing.T) {
	env := newTestEnv(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	env.seedDonor(t, "12345678")
	env.api.draft = DraftResponse{AgreementID: "agr_new", ConfirmationURL: "https://wallet.test/confirm", ChargeID: "chr_init"}

	ctx := context.Background()
	result, err := env.engine.DraftAgreement(ctx, DraftInput{
		KID:           "12345678",
		AmountNOK:     decimal.NewFromInt(150),
		InitialCharge: true,
		ChargeDay:     31,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://wallet.test/confirm", result.URL)
	assert.Len(t, result.URLCode, 32)
	require.NotNil(t, result.Poll)

	local := env.agreement(t, "agr_new")
	assert.Equal(t, enums.WalletAgreementStatusPending, local.Status)
	assert.Equal(t, maxChargeDay, local.MonthlyChargeDay)

	// still pending: the tick keeps polling
	done, err := env.engine.agreementTick("agr_new")(ctx, 1)
	require.NoError(t, err)
	assert.False(t, done)

	env.api.agreements["agr_new"] = RemoteAgreement{ID: "agr_new", Status: "ACTIVE", Price: 15000}
	require.NoError(t, result.Poll.Run(ctx))

	assert.Equal(t, enums.WalletAgreementStatusActive, env.agreement(t, "agr_new").Status)
	assert.Equal(t, []string{captureKey("agr_new", "chr_init")}, env.api.captured)
	var initial models.WalletCharge
	require.NoError(t, env.db.Where("id = ?", "chr_init").First(&initial).Error)
	assert.Equal(t, enums.WalletChargeTypeInitial, initial.Type)
	assert.Equal(t, enums.WalletChargeStatusCharged, initial.Status)
}

func TestUpdateStatusRefusesStoppedAgreements(t *testing.T) {
	env := newTestEnv(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	env.api.agreements["agr_1"] = RemoteAgreement{ID: "agr_1", Status: "STOPPED"}

	err := env.engine.UpdateStatus(context.Background(), "agr_1", enums.WalletAgreementStatusActive)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))
	assert.Empty(t, env.api.patches)
}

func TestUpdatePriceAndChargeDay(t *testing.T) {
	env := newTestEnv(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	donor := env.seedDonor(t, "12345678")
	env.seedAgreement(t, models.WalletAgreement{ID: "agr_1", DonorID: donor.ID, KID: "12345678", Amount: decimal.NewFromInt(250), MonthlyChargeDay: 4})
	env.api.agreements["agr_1"] = RemoteAgreement{ID: "agr_1", Status: "ACTIVE", Price: 25000}
	ctx := context.Background()

	require.True(t, pkgerrors.Is(env.engine.UpdatePrice(ctx, "agr_1", 99), pkgerrors.CodeValidation))
	require.NoError(t, env.engine.UpdatePrice(ctx, "agr_1", 27500))
	assert.Equal(t, int64(27500), env.api.agreements["agr_1"].Price)
	assert.True(t, decimal.RequireFromString("275").Equal(env.agreement(t, "agr_1").Amount))

	require.True(t, pkgerrors.Is(env.engine.UpdateChargeDay(ctx, "agr_1", 29), pkgerrors.CodeValidation))
	require.NoError(t, env.engine.UpdateChargeDay(ctx, "agr_1", 0))
	assert.Zero(t, env.agreement(t, "agr_1").MonthlyChargeDay)
}

func TestRefundChargeRequiresCharged(t *testing.T) {
	env := newTestEnv(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	env.api.charges["agr_1"] = []RemoteCharge{{ID: "chr_1", Status: "PENDING", Amount: 25000}}

	err := env.engine.RefundCharge(context.Background(), "agr_1", "chr_1")
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))
}
