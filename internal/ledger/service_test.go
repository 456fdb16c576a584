package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/giroflow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/giroflow-backend/pkg/db/models"
	"github.com/angelmondragon/giroflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
	"github.com/angelmondragon/giroflow-backend/pkg/outbox"
)

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	client := dbtest.Client(t)
	emitter := outbox.NewService(outbox.NewRepository(client.DB()), nil)
	svc, err := NewService(NewRepository(client.DB()), client, emitter)
	require.NoError(t, err)
	return svc, client.DB()
}

func TestRecordDonationInsertsOnceAndEmits(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t)

	donor := &models.Donor{Email: "kari@example.org", FullName: "Kari Nordmann"}
	require.NoError(t, db.Create(donor).Error)

	input := RecordDonationInput{
		DonorID:           donor.ID,
		KID:               "12345674",
		PaymentMethod:     enums.PaymentMethodProviderA,
		Amount:            decimal.NewFromInt(300),
		ExternalPaymentID: "010224.000123451",
		RegisteredAt:      time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}

	donation, err := svc.RecordDonation(ctx, input)
	require.NoError(t, err)
	assert.NotZero(t, donation.ID)

	_, err = svc.RecordDonation(ctx, input)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsDuplicate(err), "second insert should be a duplicate, got %v", err)

	var donations int64
	require.NoError(t, db.Model(&models.Donation{}).Count(&donations).Error)
	assert.Equal(t, int64(1), donations)

	var events []models.OutboxEvent
	require.NoError(t, db.Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventDonationRecorded, events[0].EventType)
	assert.Equal(t, enums.AggregateDonation, events[0].AggregateType)
}

func TestRecordDonationValidation(t *testing.T) {
	svc, _ := newTestService(t)
	valid := RecordDonationInput{
		DonorID:           1,
		KID:               "12345674",
		PaymentMethod:     enums.PaymentMethodWallet,
		Amount:            decimal.NewFromInt(100),
		ExternalPaymentID: "agr.chr",
		RegisteredAt:      time.Now(),
	}

	cases := map[string]func(in *RecordDonationInput){
		"missing donor":  func(in *RecordDonationInput) { in.DonorID = 0 },
		"missing kid":    func(in *RecordDonationInput) { in.KID = " " },
		"bad method":     func(in *RecordDonationInput) { in.PaymentMethod = "cash" },
		"zero amount":    func(in *RecordDonationInput) { in.Amount = decimal.Zero },
		"no external id": func(in *RecordDonationInput) { in.ExternalPaymentID = "" },
		"no date":        func(in *RecordDonationInput) { in.RegisteredAt = time.Time{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := valid
			mutate(&in)
			_, err := svc.RecordDonation(context.Background(), in)
			require.Error(t, err)
			assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
		})
	}
}

func TestFindOrCreateDonor(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	created, err := svc.FindOrCreateDonor(ctx, "Sven@Example.se", "Sven Svensson")
	require.NoError(t, err)

	byEmail, err := svc.FindOrCreateDonor(ctx, "sven@example.se", "")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	byName, err := svc.FindOrCreateDonor(ctx, "", "sven svensson")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byName.ID)

	other, err := svc.FindOrCreateDonor(ctx, "", "Anna Andersson")
	require.NoError(t, err)
	assert.NotEqual(t, created.ID, other.ID)
	assert.Contains(t, other.Email, "@unknown.invalid")

	_, err = svc.FindOrCreateDonor(ctx, "", "")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestEnsureTaxUnitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	donor, err := svc.FindOrCreateDonor(ctx, "anna@example.se", "Anna")
	require.NoError(t, err)

	first, err := svc.EnsureTaxUnit(ctx, nil, donor.ID, "Anna", "199001011234")
	require.NoError(t, err)
	second, err := svc.EnsureTaxUnit(ctx, nil, donor.ID, "Anna", "199001011234")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = svc.EnsureTaxUnit(ctx, nil, donor.ID, "Anna", "")
	assert.Error(t, err)
}

func TestLatestDonation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	latest, err := svc.LatestDonation(ctx, "99999999")
	require.NoError(t, err)
	assert.Nil(t, latest)

	donor, err := svc.FindOrCreateDonor(ctx, "ola@example.no", "Ola")
	require.NoError(t, err)
	for i, day := range []int{1, 15} {
		_, err := svc.RecordDonation(ctx, RecordDonationInput{
			DonorID:           donor.ID,
			KID:               "12345674",
			PaymentMethod:     enums.PaymentMethodProviderA,
			Amount:            decimal.NewFromInt(int64(100 * (i + 1))),
			ExternalPaymentID: time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC).Format("020106") + ".x",
			RegisteredAt:      time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
	}

	latest, err = svc.LatestDonation(ctx, "12345674")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.Amount.Equal(decimal.NewFromInt(200)))
}

func TestDonorByKID(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t)

	_, err := svc.DonorByKID(ctx, "12345674")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound), "got %v", err)

	donor := &models.Donor{Email: "per@example.no", FullName: "Per Hansen"}
	require.NoError(t, db.Create(donor).Error)
	require.NoError(t, db.Create(&models.Distribution{KID: "12345674", DonorID: donor.ID}).Error)

	found, err := svc.DonorByKID(ctx, "12345674")
	require.NoError(t, err)
	assert.Equal(t, "Per Hansen", found.FullName)
}
