package ledger

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/giroflow-backend/internal/repo"
	"github.com/angelmondragon/giroflow-backend/pkg/db/models"
)

// Repository manages donors, tax units and donations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindDonorByID(ctx context.Context, id int64) (*models.Donor, error)
	FindDonorByEmail(ctx context.Context, email string) (*models.Donor, error)
	FindDonorByName(ctx context.Context, fullName string) (*models.Donor, error)
	FindDonorByKID(ctx context.Context, kid string) (*models.Donor, error)
	CreateDonor(ctx context.Context, donor *models.Donor) error
	FindTaxUnit(ctx context.Context, donorID int64, ssn string) (*models.TaxUnit, error)
	CreateTaxUnit(ctx context.Context, unit *models.TaxUnit) error
	CreateDonation(ctx context.Context, donation *models.Donation) error
	DonationExists(ctx context.Context, externalPaymentID string) (bool, error)
	LatestDonationByKID(ctx context.Context, kid string) (*models.Donation, error)
	MoveDonations(ctx context.Context, fromKID, toKID string) (int64, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) FindDonorByID(ctx context.Context, id int64) (*models.Donor, error) {
	var donor models.Donor
	if err := r.DB(ctx).Where("id = ?", id).First(&donor).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return &donor, nil
}

func (r *repository) FindDonorByEmail(ctx context.Context, email string) (*models.Donor, error) {
	var donor models.Donor
	if err := r.DB(ctx).Where("LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email))).First(&donor).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return &donor, nil
}

func (r *repository) FindDonorByName(ctx context.Context, fullName string) (*models.Donor, error) {
	var donor models.Donor
	if err := r.DB(ctx).
		Where("LOWER(full_name) = ?", strings.ToLower(strings.TrimSpace(fullName))).
		Order("id ASC").
		First(&donor).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return &donor, nil
}

// FindDonorByKID resolves the donor owning the distribution behind kid.
func (r *repository) FindDonorByKID(ctx context.Context, kid string) (*models.Donor, error) {
	var donor models.Donor
	if err := r.DB(ctx).
		Joins("JOIN distributions ON distributions.donor_id = donors.id").
		Where("distributions.kid = ?", kid).
		First(&donor).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return &donor, nil
}

func (r *repository) CreateDonor(ctx context.Context, donor *models.Donor) error {
	return r.DB(ctx).Create(donor).Error
}

func (r *repository) FindTaxUnit(ctx context.Context, donorID int64, ssn string) (*models.TaxUnit, error) {
	var unit models.TaxUnit
	if err := r.DB(ctx).Where("donor_id = ? AND ssn = ?", donorID, ssn).First(&unit).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return &unit, nil
}

func (r *repository) CreateTaxUnit(ctx context.Context, unit *models.TaxUnit) error {
	return r.DB(ctx).Create(unit).Error
}

func (r *repository) CreateDonation(ctx context.Context, donation *models.Donation) error {
	return r.DB(ctx).Create(donation).Error
}

func (r *repository) DonationExists(ctx context.Context, externalPaymentID string) (bool, error) {
	var count int64
	err := r.DB(ctx).Model(&models.Donation{}).
		Where("external_payment_id = ?", externalPaymentID).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) LatestDonationByKID(ctx context.Context, kid string) (*models.Donation, error) {
	var donation models.Donation
	if err := r.DB(ctx).
		Where("kid = ?", kid).
		Order("registered_at DESC").
		Order("id DESC").
		First(&donation).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return &donation, nil
}

func (r *repository) MoveDonations(ctx context.Context, fromKID, toKID string) (int64, error) {
	res := r.DB(ctx).Model(&models.Donation{}).Where("kid = ?", fromKID).Update("kid", toKID)
	return res.RowsAffected, res.Error
}

func notFoundAsNil(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return err
}
