package providera

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/giroflow-backend/internal/repo"
	"github.com/angelmondragon/giroflow-backend/pkg/db/models"
	"github.com/angelmondragon/giroflow-backend/pkg/enums"
)

// Repository persists agreements, shipments and claim logs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListDue(ctx context.Context, due time.Time, includeLastDay bool) ([]models.ProviderAAgreement, error)
	FindByKID(ctx context.Context, kid string) (*models.ProviderAAgreement, error)
	Create(ctx context.Context, agreement *models.ProviderAAgreement) error
	UpdateNotice(ctx context.Context, kid string, notice bool) error
	SetActive(ctx context.Context, kid string) error
	Cancel(ctx context.Context, kid string, at time.Time) (bool, error)
	CreateShipment(ctx context.Context, claims int) (int64, error)
	CreateClaims(ctx context.Context, claims []models.ProviderAClaim) error
	CreateClaimLog(ctx context.Context, log *models.ProviderAClaimLog) error
	ListUnaccepted(ctx context.Context, claimDateFrom time.Time) ([]models.ProviderAClaimLog, error)
	MarkAccepted(ctx context.Context, id int64, at time.Time) error
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

// ListDue returns active agreements claimed on due's day of month, plus the
// last-day-of-month agreements when includeLastDay is set. Agreements that
// already have a claim for due are left out.
func (r *repository) ListDue(ctx context.Context, due time.Time, includeLastDay bool) ([]models.ProviderAAgreement, error) {
	days := []int{due.Day()}
	if includeLastDay {
		days = append(days, 0)
	}
	claimed := r.DB(ctx).Model(&models.ProviderAClaim{}).
		Select("agreement_id").
		Where("due_date = ?", due)
	var rows []models.ProviderAAgreement
	err := r.DB(ctx).
		Where("active = ? AND status = ?", true, enums.ProviderAStatusActive).
		Where("payment_date IN ?", days).
		Where("amount > 0").
		Where("id NOT IN (?)", claimed).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) FindByKID(ctx context.Context, kid string) (*models.ProviderAAgreement, error) {
	return repo.First[models.ProviderAAgreement](r.DB(ctx).Where("kid = ?", kid))
}

func (r *repository) Create(ctx context.Context, agreement *models.ProviderAAgreement) error {
	return r.DB(ctx).Create(agreement).Error
}

// UpdateNotice and SetActive use UpdateColumns so last_updated keeps tracking
// price changes only.
func (r *repository) UpdateNotice(ctx context.Context, kid string, notice bool) error {
	return r.DB(ctx).Model(&models.ProviderAAgreement{}).
		Where("kid = ?", kid).
		UpdateColumn("notice", notice).Error
}

func (r *repository) SetActive(ctx context.Context, kid string) error {
	return r.DB(ctx).Model(&models.ProviderAAgreement{}).
		Where("kid = ?", kid).
		UpdateColumns(map[string]any{
			"active":       true,
			"status":       enums.ProviderAStatusActive,
			"cancelled_at": nil,
		}).Error
}

func (r *repository) Cancel(ctx context.Context, kid string, at time.Time) (bool, error) {
	res := r.DB(ctx).Model(&models.ProviderAAgreement{}).
		Where("kid = ?", kid).
		UpdateColumns(map[string]any{
			"active":       false,
			"status":       enums.ProviderAStatusTerminated,
			"cancelled_at": at,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *repository) CreateShipment(ctx context.Context, claims int) (int64, error) {
	shipment := &models.ProviderAShipment{NumClaims: claims}
	if err := r.DB(ctx).Create(shipment).Error; err != nil {
		return 0, err
	}
	return shipment.ID, nil
}

func (r *repository) CreateClaims(ctx context.Context, claims []models.ProviderAClaim) error {
	if len(claims) == 0 {
		return nil
	}
	return r.DB(ctx).Create(&claims).Error
}

func (r *repository) CreateClaimLog(ctx context.Context, log *models.ProviderAClaimLog) error {
	return r.DB(ctx).Create(log).Error
}

// ListUnaccepted returns claim logs for claim dates on or after claimDateFrom
// that have no receipt yet, oldest first.
func (r *repository) ListUnaccepted(ctx context.Context, claimDateFrom time.Time) ([]models.ProviderAClaimLog, error) {
	var rows []models.ProviderAClaimLog
	err := r.DB(ctx).
		Where("accepted_at IS NULL AND claim_date >= ?", claimDateFrom).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) MarkAccepted(ctx context.Context, id int64, at time.Time) error {
	return r.DB(ctx).Model(&models.ProviderAClaimLog{}).Where("id = ?", id).Update("accepted_at", at).Error
}
