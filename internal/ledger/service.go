package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/giroflow-backend/pkg/db"
	"github.com/angelmondragon/giroflow-backend/pkg/db/models"
	"github.com/angelmondragon/giroflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
	"github.com/angelmondragon/giroflow-backend/pkg/outbox"
	"github.com/angelmondragon/giroflow-backend/pkg/outbox/payloads"
)

// TxRunner runs fn inside a transaction; db.Client satisfies it.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service records donations and resolves the donors behind them.
type Service interface {
	RecordDonation(ctx context.Context, input RecordDonationInput) (*models.Donation, error)
	RecordDonationTx(ctx context.Context, tx *gorm.DB, input RecordDonationInput) (*models.Donation, error)
	FindOrCreateDonor(ctx context.Context, email, fullName string) (*models.Donor, error)
	EnsureTaxUnit(ctx context.Context, tx *gorm.DB, donorID int64, name, ssn string) (*models.TaxUnit, error)
	LatestDonation(ctx context.Context, kid string) (*models.Donation, error)
	DonorByKID(ctx context.Context, kid string) (*models.Donor, error)
}

// RecordDonationInput is one confirmed payment from any rail.
type RecordDonationInput struct {
	DonorID           int64
	KID               string
	PaymentMethod     enums.PaymentMethod
	Amount            decimal.Decimal
	ExternalPaymentID string
	RegisteredAt      time.Time
}

type service struct {
	repo   Repository
	tx     TxRunner
	outbox outbox.Emitter
}

// NewService wires the ledger service. emitter may be nil when events are not needed.
func NewService(repo Repository, tx TxRunner, emitter outbox.Emitter) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx, outbox: emitter}, nil
}

func (s *service) RecordDonation(ctx context.Context, input RecordDonationInput) (*models.Donation, error) {
	var created *models.Donation
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		donation, err := s.RecordDonationTx(ctx, tx, input)
		if err != nil {
			return err
		}
		created = donation
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// RecordDonationTx inserts the donation inside tx. A repeated external id
// surfaces as CodeDuplicate, which callers treat as already recorded.
func (s *service) RecordDonationTx(ctx context.Context, tx *gorm.DB, input RecordDonationInput) (*models.Donation, error) {
	if err := validateDonation(input); err != nil {
		return nil, err
	}
	repo := s.repo.WithTx(tx)

	exists, err := repo.DonationExists(ctx, input.ExternalPaymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDB, err, "check donation")
	}
	if exists {
		return nil, duplicateDonation(input.ExternalPaymentID, nil)
	}

	donation := &models.Donation{
		DonorID:           input.DonorID,
		KID:               input.KID,
		PaymentMethod:     input.PaymentMethod,
		Amount:            input.Amount,
		ExternalPaymentID: input.ExternalPaymentID,
		RegisteredAt:      input.RegisteredAt,
	}
	if err := repo.CreateDonation(ctx, donation); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, duplicateDonation(input.ExternalPaymentID, err)
		}
		return nil, err
	}

	if s.outbox != nil {
		event := outbox.DomainEvent{
			EventType:     enums.EventDonationRecorded,
			AggregateType: enums.AggregateDonation,
			AggregateID:   strconv.FormatInt(donation.ID, 10),
			Data: payloads.DonationRecordedEvent{
				DonationID:        donation.ID,
				DonorID:           donation.DonorID,
				KID:               donation.KID,
				PaymentMethod:     donation.PaymentMethod,
				Amount:            donation.Amount,
				ExternalPaymentID: donation.ExternalPaymentID,
				RegisteredAt:      donation.RegisteredAt,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return nil, fmt.Errorf("emit donation event: %w", err)
		}
	}
	return donation, nil
}

func validateDonation(input RecordDonationInput) error {
	if input.DonorID <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "donor id is required")
	}
	if strings.TrimSpace(input.KID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "kid is required")
	}
	if !input.PaymentMethod.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payment method %q", input.PaymentMethod))
	}
	if !input.Amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if strings.TrimSpace(input.ExternalPaymentID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "external payment id is required")
	}
	if input.RegisteredAt.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "registered date is required")
	}
	return nil
}

func duplicateDonation(externalID string, cause error) error {
	msg := fmt.Sprintf("donation %s already recorded", externalID)
	if cause == nil {
		return pkgerrors.New(pkgerrors.CodeDuplicate, msg)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDuplicate, cause, msg)
}

// FindOrCreateDonor matches on email first, then on full name.
func (s *service) FindOrCreateDonor(ctx context.Context, email, fullName string) (*models.Donor, error) {
	email = strings.TrimSpace(email)
	fullName = strings.TrimSpace(fullName)
	if email == "" && fullName == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email or name is required")
	}

	var donor *models.Donor
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if email != "" {
			found, err := repo.FindDonorByEmail(ctx, email)
			if err != nil {
				return err
			}
			if found != nil {
				donor = found
				return nil
			}
		}
		if fullName != "" {
			found, err := repo.FindDonorByName(ctx, fullName)
			if err != nil {
				return err
			}
			if found != nil {
				donor = found
				return nil
			}
		}
		created := &models.Donor{Email: email, FullName: fullName}
		if created.Email == "" {
			created.Email = placeholderEmail(fullName)
		}
		if err := repo.CreateDonor(ctx, created); err != nil {
			return err
		}
		donor = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return donor, nil
}

// placeholderEmail keeps donors created from bank records unique until a real address is known.
func placeholderEmail(fullName string) string {
	slug := strings.ToLower(strings.Join(strings.Fields(fullName), "."))
	return fmt.Sprintf("%s.%d@unknown.invalid", slug, time.Now().UnixNano())
}

func (s *service) EnsureTaxUnit(ctx context.Context, tx *gorm.DB, donorID int64, name, ssn string) (*models.TaxUnit, error) {
	ssn = strings.TrimSpace(ssn)
	if donorID <= 0 || ssn == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "donor id and ssn are required for a tax unit")
	}
	repo := s.repo.WithTx(tx)
	unit, err := repo.FindTaxUnit(ctx, donorID, ssn)
	if err != nil {
		return nil, err
	}
	if unit != nil {
		return unit, nil
	}
	unit = &models.TaxUnit{DonorID: donorID, Name: strings.TrimSpace(name), SSN: ssn}
	if err := repo.CreateTaxUnit(ctx, unit); err != nil {
		return nil, err
	}
	return unit, nil
}

func (s *service) LatestDonation(ctx context.Context, kid string) (*models.Donation, error) {
	return s.repo.LatestDonationByKID(ctx, kid)
}

// DonorByKID returns CodeNotFound when no distribution carries kid.
func (s *service) DonorByKID(ctx context.Context, kid string) (*models.Donor, error) {
	donor, err := s.repo.FindDonorByKID(ctx, kid)
	if err != nil {
		return nil, err
	}
	if donor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("no donor for KID %s", kid))
	}
	return donor, nil
}
