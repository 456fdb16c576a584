package inflation

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/giroflow-backend/internal/repo"
	"github.com/angelmondragon/giroflow-backend/pkg/db/models"
	"github.com/angelmondragon/giroflow-backend/pkg/enums"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, adjustment *models.InflationAdjustment) error
	OpenAgreementKeys(ctx context.Context) (map[string]struct{}, error)
	ListNew(ctx context.Context) ([]models.InflationAdjustment, error)
	FindByToken(ctx context.Context, token string) (*models.InflationAdjustment, error)
	MarkPending(ctx context.Context, id int64, expiresAt time.Time) error
	MarkAccepted(ctx context.Context, id int64, at time.Time) (bool, error)
	MarkRejected(ctx context.Context, token string, now time.Time) (bool, error)
	ExpirePending(ctx context.Context, now time.Time) (int64, error)
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

func (r *repository) Create(ctx context.Context, adjustment *models.InflationAdjustment) error {
	return r.DB(ctx).Create(adjustment).Error
}

func agreementKey(kind enums.AgreementType, id string) string {
	return string(kind) + "-" + id
}

// OpenAgreementKeys returns the agreements that already have a new or pending proposal.
func (r *repository) OpenAgreementKeys(ctx context.Context) (map[string]struct{}, error) {
	var rows []models.InflationAdjustment
	err := r.DB(ctx).
		Select("agreement_id", "agreement_type").
		Where("status IN ?", []enums.InflationAdjustmentStatus{enums.InflationAdjustmentStatusNew, enums.InflationAdjustmentStatusPending}).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	keys := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		keys[agreementKey(row.AgreementType, row.AgreementID)] = struct{}{}
	}
	return keys, nil
}

func (r *repository) ListNew(ctx context.Context) ([]models.InflationAdjustment, error) {
	var rows []models.InflationAdjustment
	err := r.DB(ctx).Where("status = ?", enums.InflationAdjustmentStatusNew).Order("id ASC").Find(&rows).Error
	return rows, err
}

func (r *repository) FindByToken(ctx context.Context, token string) (*models.InflationAdjustment, error) {
	return repo.First[models.InflationAdjustment](r.DB(ctx).Where("token = ?", token))
}

func (r *repository) MarkPending(ctx context.Context, id int64, expiresAt time.Time) error {
	return r.DB(ctx).Model(&models.InflationAdjustment{}).
		Where("id = ? AND status = ?", id, enums.InflationAdjustmentStatusNew).
		Updates(map[string]any{"status": enums.InflationAdjustmentStatusPending, "expires_at": expiresAt}).Error
}

// MarkAccepted reports false when the row left pending concurrently.
func (r *repository) MarkAccepted(ctx context.Context, id int64, at time.Time) (bool, error) {
	res := r.DB(ctx).Model(&models.InflationAdjustment{}).
		Where("id = ? AND status = ?", id, enums.InflationAdjustmentStatusPending).
		Updates(map[string]any{"status": enums.InflationAdjustmentStatusAccepted, "accepted_at": at})
	return res.RowsAffected > 0, res.Error
}

func (r *repository) MarkRejected(ctx context.Context, token string, now time.Time) (bool, error) {
	res := r.DB(ctx).Model(&models.InflationAdjustment{}).
		Where("token = ? AND status = ? AND expires_at > ?", token, enums.InflationAdjustmentStatusPending, now).
		Update("status", enums.InflationAdjustmentStatusRejected)
	return res.RowsAffected > 0, res.Error
}

func (r *repository) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	res := r.DB(ctx).Model(&models.InflationAdjustment{}).
		Where("status = ? AND expires_at < ?", enums.InflationAdjustmentStatusPending, now).
		Update("status", enums.InflationAdjustmentStatusExpired)
	return res.RowsAffected, res.Error
}
