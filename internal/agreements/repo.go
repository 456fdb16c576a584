package agreements

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/giroflow-backend/internal/repo"
	"github.com/angelmondragon/giroflow-backend/pkg/db/models"
	"github.com/angelmondragon/giroflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
)

// Repository loads and reprices agreements of every rail.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListActive(ctx context.Context) ([]Agreement, error)
	Find(ctx context.Context, kind enums.AgreementType, id string) (Agreement, error)
	UpdateAmount(ctx context.Context, kind enums.AgreementType, id string, amountMinor int64, at time.Time) error
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

// ListActive returns active agreements ordered by rail, then id.
func (r *repository) ListActive(ctx context.Context) ([]Agreement, error) {
	var out []Agreement

	var a []models.ProviderAAgreement
	if err := r.DB(ctx).Where("status = ? AND active = ?", enums.ProviderAStatusActive, true).Order("id ASC").Find(&a).Error; err != nil {
		return nil, fmt.Errorf("list providera agreements: %w", err)
	}
	for _, row := range a {
		out = append(out, ProviderA{Row: row})
	}

	var b []models.ProviderBAgreement
	if err := r.DB(ctx).Where("status = ?", enums.ProviderBStatusActive).Order("id ASC").Find(&b).Error; err != nil {
		return nil, fmt.Errorf("list providerb agreements: %w", err)
	}
	for _, row := range b {
		out = append(out, ProviderB{Row: row})
	}

	var w []models.WalletAgreement
	if err := r.DB(ctx).Where("status = ?", enums.WalletAgreementStatusActive).Order("id ASC").Find(&w).Error; err != nil {
		return nil, fmt.Errorf("list wallet agreements: %w", err)
	}
	for _, row := range w {
		out = append(out, Wallet{Row: row})
	}
	return out, nil
}

func (r *repository) Find(ctx context.Context, kind enums.AgreementType, id string) (Agreement, error) {
	var err error
	var found Agreement
	switch kind {
	case enums.AgreementTypeProviderA:
		var row models.ProviderAAgreement
		if err = r.firstByNumericID(ctx, &row, id); err == nil {
			found = ProviderA{Row: row}
		}
	case enums.AgreementTypeProviderB:
		var row models.ProviderBAgreement
		if err = r.firstByNumericID(ctx, &row, id); err == nil {
			found = ProviderB{Row: row}
		}
	case enums.AgreementTypeWallet:
		var row models.WalletAgreement
		if err = r.DB(ctx).Where("id = ?", id).First(&row).Error; err == nil {
			found = Wallet{Row: row}
		}
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown agreement type %q", kind))
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("%s agreement %s not found", kind, id))
	}
	if err != nil {
		return nil, err
	}
	return found, nil
}

// UpdateAmount stores a new price. Bank agreements bump last_updated through
// autoUpdateTime; wallet agreements record the change time explicitly.
func (r *repository) UpdateAmount(ctx context.Context, kind enums.AgreementType, id string, amountMinor int64, at time.Time) error {
	var res *gorm.DB
	switch kind {
	case enums.AgreementTypeProviderA, enums.AgreementTypeProviderB:
		numeric, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "agreement id must be numeric")
		}
		var model any = &models.ProviderAAgreement{}
		if kind == enums.AgreementTypeProviderB {
			model = &models.ProviderBAgreement{}
		}
		res = r.DB(ctx).Model(model).Where("id = ?", numeric).Update("amount", amountMinor)
	case enums.AgreementTypeWallet:
		res = r.DB(ctx).Model(&models.WalletAgreement{}).Where("id = ?", id).Updates(map[string]any{
			"amount":           decimal.New(amountMinor, -2),
			"price_changed_at": at,
		})
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown agreement type %q", kind))
	}
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("%s agreement %s not found", kind, id))
	}
	return nil
}

func (r *repository) firstByNumericID(ctx context.Context, dest any, id string) error {
	numeric, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return gorm.ErrRecordNotFound
	}
	return r.DB(ctx).Where("id = ?", numeric).First(dest).Error
}
