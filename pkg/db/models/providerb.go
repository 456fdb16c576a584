package models

import (
	"time"

	"github.com/angelmondragon/giroflow-backend/pkg/enums"
)

// ProviderBAgreement is a Swedish direct-debit agreement. Amount is in öre.
type ProviderBAgreement struct {
	ID          int64                 `gorm:"column:id;primaryKey;autoIncrement"`
	KID         string                `gorm:"column:kid;size:15;not null;index"`
	Amount      int64                 `gorm:"column:amount;not null"`
	PaymentDate int                   `gorm:"column:payment_date;not null"`
	Notice      bool                  `gorm:"column:notice;not null;default:false"`
	Status      enums.ProviderBStatus `gorm:"column:status;type:varchar(16);not null;default:'ACTIVE'"`
	CreatedAt   time.Time             `gorm:"column:created_at;autoCreateTime"`
	LastUpdated time.Time             `gorm:"column:last_updated;autoUpdateTime"`
	CancelledAt *time.Time            `gorm:"column:cancelled_at"`
}

// ProviderBCharge is one withdrawal sent to the bank; its ID is the bank-side reference.
// An AMENDED charge frees its month so the agreement can be claimed again.
type ProviderBCharge struct {
	ID          int64              `gorm:"column:id;primaryKey;autoIncrement"`
	AgreementID int64              `gorm:"column:agreement_id;not null;uniqueIndex:idx_providerb_charge_month,where:status <> 'AMENDED'"`
	ShipmentID  int64              `gorm:"column:shipment_id;not null;index"`
	Amount      int64              `gorm:"column:amount;not null"`
	ClaimDate   time.Time          `gorm:"column:claim_date;not null"`
	DueMonth    string             `gorm:"column:due_month;size:7;not null;uniqueIndex:idx_providerb_charge_month,where:status <> 'AMENDED'"`
	Status      enums.ChargeStatus `gorm:"column:status;type:varchar(16);not null;default:'PENDING'"`
	CreatedAt   time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

type ProviderBMandate struct {
	ID                 int64               `gorm:"column:id;primaryKey;autoIncrement"`
	KID                string              `gorm:"column:kid;size:15;not null;index"`
	BankAccount        string              `gorm:"column:bank_account;not null"`
	SpecialInformation string              `gorm:"column:special_information;not null;default:''"`
	NameAndAddress     string              `gorm:"column:name_and_address;not null;default:''"`
	PostalCode         string              `gorm:"column:postal_code;not null;default:''"`
	PostalCity         string              `gorm:"column:postal_city;not null;default:''"`
	Status             enums.MandateStatus `gorm:"column:status;type:varchar(16);not null;default:'NEW'"`
	CreatedAt          time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// ProviderBShipment is one withdrawal file. SentAt stays nil until the
// bank has accepted the upload.
type ProviderBShipment struct {
	ID         int64      `gorm:"column:id;primaryKey;autoIncrement"`
	NumCharges int        `gorm:"column:num_charges;not null;default:0"`
	Filename   string     `gorm:"column:filename;not null;default:''"`
	SentAt     *time.Time `gorm:"column:sent_at"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
}
