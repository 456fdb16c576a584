package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/giroflow-backend/internal/repo"
	"github.com/angelmondragon/giroflow-backend/pkg/db/models"
	"github.com/angelmondragon/giroflow-backend/pkg/enums"
)

// Repository mirrors wallet agreements, charges and orders locally.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateAgreement(ctx context.Context, agreement *models.WalletAgreement) error
	FindAgreement(ctx context.Context, id string) (*models.WalletAgreement, error)
	ListActive(ctx context.Context) ([]models.WalletAgreement, error)
	SetAgreementStatus(ctx context.Context, id string, status enums.WalletAgreementStatus, at time.Time) error
	SetAgreementAmount(ctx context.Context, id string, amount decimal.Decimal, at time.Time) error
	SetChargeDay(ctx context.Context, id string, day int) error

	UpsertCharge(ctx context.Context, charge *models.WalletCharge) error
	FindCharge(ctx context.Context, agreementID, chargeID string) (*models.WalletCharge, error)
	FindInitialCharge(ctx context.Context, agreementID string) (*models.WalletCharge, error)
	FindLiveCharge(ctx context.Context, agreementID string, chargeType enums.WalletChargeType, dueMonth string) (*models.WalletCharge, error)
	SetChargeStatus(ctx context.Context, agreementID, chargeID string, status enums.WalletChargeStatus) error

	CreateOrder(ctx context.Context, order *models.WalletOrder) error
	FindOrder(ctx context.Context, orderID string) (*models.WalletOrder, error)
	SetOrderStatus(ctx context.Context, orderID, status string) error
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

func (r *repository) CreateAgreement(ctx context.Context, agreement *models.WalletAgreement) error {
	return r.DB(ctx).Create(agreement).Error
}

func (r *repository) FindAgreement(ctx context.Context, id string) (*models.WalletAgreement, error) {
	return repo.First[models.WalletAgreement](r.DB(ctx).Where("id = ?", id))
}

func (r *repository) ListActive(ctx context.Context) ([]models.WalletAgreement, error) {
	var rows []models.WalletAgreement
	err := r.DB(ctx).Where("status = ?", enums.WalletAgreementStatusActive).Order("id ASC").Find(&rows).Error
	return rows, err
}

// SetAgreementStatus also stamps cancelled_at the first time an agreement stops.
func (r *repository) SetAgreementStatus(ctx context.Context, id string, status enums.WalletAgreementStatus, at time.Time) error {
	updates := map[string]any{"status": status}
	if status == enums.WalletAgreementStatusStopped {
		if err := r.DB(ctx).Model(&models.WalletAgreement{}).
			Where("id = ? AND cancelled_at IS NULL", id).
			Update("cancelled_at", at).Error; err != nil {
			return err
		}
	}
	return r.DB(ctx).Model(&models.WalletAgreement{}).Where("id = ?", id).Updates(updates).Error
}

func (r *repository) SetAgreementAmount(ctx context.Context, id string, amount decimal.Decimal, at time.Time) error {
	return r.DB(ctx).Model(&models.WalletAgreement{}).
		Where("id = ?", id).
		Updates(map[string]any{"amount": amount, "price_changed_at": at}).Error
}

func (r *repository) SetChargeDay(ctx context.Context, id string, day int) error {
	return r.DB(ctx).Model(&models.WalletAgreement{}).Where("id = ?", id).Update("monthly_charge_day", day).Error
}

// DueMonth keys the one-live-charge-per-month index.
func DueMonth(due time.Time) string {
	return due.Format("2006-01")
}

// UpsertCharge inserts the charge or refreshes the status of a known one.
// A second live charge of the same type in a due month is a unique violation.
func (r *repository) UpsertCharge(ctx context.Context, charge *models.WalletCharge) error {
	charge.DueMonth = DueMonth(charge.DueDate)
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "updated_at"}),
	}).Create(charge).Error
}

func (r *repository) FindCharge(ctx context.Context, agreementID, chargeID string) (*models.WalletCharge, error) {
	return repo.First[models.WalletCharge](r.DB(ctx).Where("id = ? AND agreement_id = ?", chargeID, agreementID))
}

func (r *repository) FindInitialCharge(ctx context.Context, agreementID string) (*models.WalletCharge, error) {
	var row models.WalletCharge
	err := r.DB(ctx).
		Where("agreement_id = ? AND type = ?", agreementID, enums.WalletChargeTypeInitial).
		Order("created_at ASC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// FindLiveCharge returns the charge holding the agreement's due month, or nil.
func (r *repository) FindLiveCharge(ctx context.Context, agreementID string, chargeType enums.WalletChargeType, dueMonth string) (*models.WalletCharge, error) {
	return repo.First[models.WalletCharge](r.DB(ctx).
		Where("agreement_id = ? AND type = ? AND due_month = ?", agreementID, chargeType, dueMonth).
		Where("status NOT IN ?", []enums.WalletChargeStatus{enums.WalletChargeStatusFailed, enums.WalletChargeStatusCancelled}))
}

func (r *repository) SetChargeStatus(ctx context.Context, agreementID, chargeID string, status enums.WalletChargeStatus) error {
	return r.DB(ctx).Model(&models.WalletCharge{}).
		Where("id = ? AND agreement_id = ?", chargeID, agreementID).
		Update("status", status).Error
}

func (r *repository) CreateOrder(ctx context.Context, order *models.WalletOrder) error {
	return r.DB(ctx).Create(order).Error
}

func (r *repository) FindOrder(ctx context.Context, orderID string) (*models.WalletOrder, error) {
	return repo.First[models.WalletOrder](r.DB(ctx).Where("order_id = ?", orderID))
}

func (r *repository) SetOrderStatus(ctx context.Context, orderID, status string) error {
	return r.DB(ctx).Model(&models.WalletOrder{}).Where("order_id = ?", orderID).Update("status", status).Error
}
