package distribution

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/giroflow-backend/internal/repo"
	"github.com/angelmondragon/giroflow-backend/pkg/db/models"
)

// Repository persists distributions and their replacement history.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	KIDExists(ctx context.Context, kid string) (bool, error)
	GetByKID(ctx context.Context, kid string) (*models.Distribution, error)
	// LockByKID is GetByKID holding a row lock until the transaction ends.
	LockByKID(ctx context.Context, kid string) (*models.Distribution, error)
	ListCandidates(ctx context.Context, donorID int64, taxUnitID *int64, standard bool, minKIDLength int) ([]models.Distribution, error)
	Create(ctx context.Context, dist *models.Distribution) error
	UpdateKID(ctx context.Context, fromKID, toKID string) error
	CreateReplacement(ctx context.Context, link *models.ReplacedDistribution) error
	ResetAgreementKIDs(ctx context.Context, fromKID, toKID string) (int64, error)
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

func (r *repository) KIDExists(ctx context.Context, kid string) (bool, error) {
	var count int64
	err := r.DB(ctx).Model(&models.Distribution{}).Where("kid = ?", kid).Count(&count).Error
	return count > 0, err
}

func (r *repository) GetByKID(ctx context.Context, kid string) (*models.Distribution, error) {
	return repo.First[models.Distribution](r.DB(ctx).Preload("CauseAreas.Organizations").Where("kid = ?", kid))
}

func (r *repository) LockByKID(ctx context.Context, kid string) (*models.Distribution, error) {
	return repo.First[models.Distribution](r.Locked(ctx).Preload("CauseAreas.Organizations").Where("kid = ?", kid))
}

func (r *repository) ListCandidates(ctx context.Context, donorID int64, taxUnitID *int64, standard bool, minKIDLength int) ([]models.Distribution, error) {
	query := r.DB(ctx).
		Preload("CauseAreas.Organizations").
		Where("donor_id = ?", donorID).
		Where("standard_distribution = ?", standard).
		Where("LENGTH(kid) >= ?", minKIDLength)
	if taxUnitID != nil {
		query = query.Where("tax_unit_id = ?", *taxUnitID)
	} else {
		query = query.Where("tax_unit_id IS NULL")
	}
	var rows []models.Distribution
	if err := query.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Create inserts the distribution with its cause-area and organization rows.
func (r *repository) Create(ctx context.Context, dist *models.Distribution) error {
	return r.DB(ctx).Session(&gorm.Session{FullSaveAssociations: true}).Create(dist).Error
}

func (r *repository) UpdateKID(ctx context.Context, fromKID, toKID string) error {
	res := r.DB(ctx).Model(&models.Distribution{}).Where("kid = ?", fromKID).Update("kid", toKID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) CreateReplacement(ctx context.Context, link *models.ReplacedDistribution) error {
	return r.DB(ctx).Create(link).Error
}

// ResetAgreementKIDs points every agreement on fromKID back to toKID.
func (r *repository) ResetAgreementKIDs(ctx context.Context, fromKID, toKID string) (int64, error) {
	var total int64
	for _, model := range []any{&models.ProviderAAgreement{}, &models.ProviderBAgreement{}, &models.WalletAgreement{}} {
		// UpdateColumn leaves last_updated alone; it tracks price changes.
		res := r.DB(ctx).Model(model).Where("kid = ?", fromKID).UpdateColumn("kid", toKID)
		if res.Error != nil {
			return total, res.Error
		}
		total += res.RowsAffected
	}
	return total, nil
}
