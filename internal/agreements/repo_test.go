package agreements

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/giroflow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/giroflow-backend/pkg/db/models"
	"github.com/angelmondragon/giroflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
)

func TestListActiveSpansAllRails(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	start := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.Create(&models.Donor{ID: 1, Email: "a@example.org"}).Error)
	require.NoError(t, db.Create(&[]models.ProviderAAgreement{
		{KID: "000001111111116", Amount: 30000, Active: true, Status: enums.ProviderAStatusActive, StartDate: start},
		{KID: "000001222222226", Amount: 10000, Active: false, Status: enums.ProviderAStatusTerminated, StartDate: start},
	}).Error)
	require.NoError(t, db.Create(&models.ProviderBAgreement{KID: "000001333333336", Amount: 20000, Status: enums.ProviderBStatusActive}).Error)
	require.NoError(t, db.Create(&models.WalletAgreement{
		ID: "agr_1", DonorID: 1, KID: "000001444444446", Amount: decimal.RequireFromString("250.50"),
		Status: enums.WalletAgreementStatusActive, MonthlyChargeDay: 5,
	}).Error)

	list, err := NewRepository(db).ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, enums.AgreementTypeProviderA, list[0].Kind())
	assert.Equal(t, int64(30000), list[0].AmountMinor())
	assert.Equal(t, enums.AgreementTypeProviderB, list[1].Kind())
	assert.Equal(t, enums.AgreementTypeWallet, list[2].Kind())
	assert.Equal(t, "agr_1", list[2].ID())
	assert.Equal(t, int64(25050), list[2].AmountMinor())
}

func TestUpdateAmountPerRail(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	repo := NewRepository(db)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.Create(&models.Donor{ID: 1, Email: "a@example.org"}).Error)
	b := &models.ProviderBAgreement{KID: "000001333333336", Amount: 20000, Status: enums.ProviderBStatusActive}
	require.NoError(t, db.Create(b).Error)
	require.NoError(t, db.Create(&models.WalletAgreement{
		ID: "agr_1", DonorID: 1, KID: "000001444444446", Amount: decimal.NewFromInt(200),
		Status: enums.WalletAgreementStatusActive,
	}).Error)

	require.NoError(t, repo.UpdateAmount(ctx, enums.AgreementTypeProviderB, "1", 22000, now))
	found, err := repo.Find(ctx, enums.AgreementTypeProviderB, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(22000), found.AmountMinor())

	require.NoError(t, repo.UpdateAmount(ctx, enums.AgreementTypeWallet, "agr_1", 22000, now))
	wallet, err := repo.Find(ctx, enums.AgreementTypeWallet, "agr_1")
	require.NoError(t, err)
	assert.Equal(t, int64(22000), wallet.AmountMinor())
	assert.True(t, wallet.LastUpdated().Equal(now))

	err = repo.UpdateAmount(ctx, enums.AgreementTypeProviderA, "99", 100, now)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	_, err = repo.Find(ctx, enums.AgreementType("cash"), "1")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}
