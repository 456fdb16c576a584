package providerb

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/giroflow-backend/internal/repo"
	"github.com/angelmondragon/giroflow-backend/pkg/db/models"
	"github.com/angelmondragon/giroflow-backend/pkg/enums"
)

// Repository persists agreements, charges, mandates and shipments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateAgreement(ctx context.Context, agreement *models.ProviderBAgreement) error
	FindAgreement(ctx context.Context, id int64) (*models.ProviderBAgreement, error)
	FindAgreements(ctx context.Context, ids []int64) (map[int64]models.ProviderBAgreement, error)
	ListClaimable(ctx context.Context, dueMonth string) ([]models.ProviderBAgreement, error)
	CancelAgreementsByKID(ctx context.Context, kid string, at time.Time) (int64, error)

	CreateCharge(ctx context.Context, charge *models.ProviderBCharge) error
	FindCharge(ctx context.Context, id int64) (*models.ProviderBCharge, error)
	ListChargesByStatus(ctx context.Context, status enums.ChargeStatus) ([]models.ProviderBCharge, error)
	SetChargeStatus(ctx context.Context, id int64, status enums.ChargeStatus) error

	CreateMandate(ctx context.Context, mandate *models.ProviderBMandate) error
	FindMandateByKID(ctx context.Context, kid string) (*models.ProviderBMandate, error)
	ListMandatesByStatus(ctx context.Context, status enums.MandateStatus) ([]models.ProviderBMandate, error)
	SetMandateStatus(ctx context.Context, id int64, status enums.MandateStatus) error

	CreateShipment(ctx context.Context, charges int) (int64, error)
	MarkShipmentSent(ctx context.Context, id int64, filename string, at time.Time) error
	DeleteShipment(ctx context.Context, id int64) error
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

func (r *repository) CreateAgreement(ctx context.Context, agreement *models.ProviderBAgreement) error {
	return r.DB(ctx).Create(agreement).Error
}

func (r *repository) FindAgreement(ctx context.Context, id int64) (*models.ProviderBAgreement, error) {
	return repo.First[models.ProviderBAgreement](r.DB(ctx), id)
}

func (r *repository) FindAgreements(ctx context.Context, ids []int64) (map[int64]models.ProviderBAgreement, error) {
	out := make(map[int64]models.ProviderBAgreement, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.ProviderBAgreement
	if err := r.DB(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

// ListClaimable returns active agreements with no live charge for dueMonth.
func (r *repository) ListClaimable(ctx context.Context, dueMonth string) ([]models.ProviderBAgreement, error) {
	charged := r.DB(ctx).Model(&models.ProviderBCharge{}).
		Select("agreement_id").
		Where("due_month = ? AND status <> ?", dueMonth, enums.ChargeStatusAmended)
	var rows []models.ProviderBAgreement
	err := r.DB(ctx).
		Where("status = ? AND amount > 0", enums.ProviderBStatusActive).
		Where("id NOT IN (?)", charged).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) CancelAgreementsByKID(ctx context.Context, kid string, at time.Time) (int64, error) {
	res := r.DB(ctx).Model(&models.ProviderBAgreement{}).
		Where("kid = ? AND status = ?", kid, enums.ProviderBStatusActive).
		UpdateColumns(map[string]any{
			"status":       enums.ProviderBStatusCancelled,
			"cancelled_at": at,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) CreateCharge(ctx context.Context, charge *models.ProviderBCharge) error {
	return r.DB(ctx).Create(charge).Error
}

func (r *repository) FindCharge(ctx context.Context, id int64) (*models.ProviderBCharge, error) {
	return repo.First[models.ProviderBCharge](r.DB(ctx), id)
}

func (r *repository) ListChargesByStatus(ctx context.Context, status enums.ChargeStatus) ([]models.ProviderBCharge, error) {
	var rows []models.ProviderBCharge
	err := r.DB(ctx).Where("status = ?", status).Order("id ASC").Find(&rows).Error
	return rows, err
}

func (r *repository) SetChargeStatus(ctx context.Context, id int64, status enums.ChargeStatus) error {
	return r.DB(ctx).Model(&models.ProviderBCharge{}).Where("id = ?", id).Update("status", status).Error
}

func (r *repository) CreateMandate(ctx context.Context, mandate *models.ProviderBMandate) error {
	return r.DB(ctx).Create(mandate).Error
}

// FindMandateByKID returns the newest mandate for kid, or nil.
func (r *repository) FindMandateByKID(ctx context.Context, kid string) (*models.ProviderBMandate, error) {
	return repo.First[models.ProviderBMandate](r.DB(ctx).Where("kid = ?", kid).Order("id DESC"))
}

func (r *repository) ListMandatesByStatus(ctx context.Context, status enums.MandateStatus) ([]models.ProviderBMandate, error) {
	var rows []models.ProviderBMandate
	err := r.DB(ctx).Where("status = ?", status).Order("id ASC").Find(&rows).Error
	return rows, err
}

func (r *repository) SetMandateStatus(ctx context.Context, id int64, status enums.MandateStatus) error {
	return r.DB(ctx).Model(&models.ProviderBMandate{}).Where("id = ?", id).Update("status", status).Error
}

func (r *repository) CreateShipment(ctx context.Context, charges int) (int64, error) {
	shipment := &models.ProviderBShipment{NumCharges: charges}
	if err := r.DB(ctx).Create(shipment).Error; err != nil {
		return 0, err
	}
	return shipment.ID, nil
}

func (r *repository) MarkShipmentSent(ctx context.Context, id int64, filename string, at time.Time) error {
	return r.DB(ctx).Model(&models.ProviderBShipment{}).
		Where("id = ?", id).
		Updates(map[string]any{"filename": filename, "sent_at": at}).Error
}

// DeleteShipment also removes the charges queued under it.
func (r *repository) DeleteShipment(ctx context.Context, id int64) error {
	if err := r.DB(ctx).Where("shipment_id = ?", id).Delete(&models.ProviderBCharge{}).Error; err != nil {
		return err
	}
	return r.DB(ctx).Delete(&models.ProviderBShipment{}, id).Error
}
