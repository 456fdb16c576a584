package models

import (
	"time"

	"github.com/angelmondragon/giroflow-backend/pkg/enums"
)

// ProviderAAgreement is a Norwegian direct-debit agreement. Amount is in øre;
// PaymentDate 0 means the last day of the month.
type ProviderAAgreement struct {
	ID          int64                 `gorm:"column:id;primaryKey;autoIncrement"`
	KID         string                `gorm:"column:kid;size:15;not null;uniqueIndex"`
	Amount      int64                 `gorm:"column:amount;not null"`
	PaymentDate int                   `gorm:"column:payment_date;not null"`
	Notice      bool                  `gorm:"column:notice;not null;default:false"`
	Active      bool                  `gorm:"column:active;not null;default:false"`
	Status      enums.ProviderAStatus `gorm:"column:status;type:varchar(16);not null;default:'PROPOSED'"`
	StartDate   time.Time             `gorm:"column:start_date;not null"`
	CreatedAt   time.Time             `gorm:"column:created_at;autoCreateTime"`
	LastUpdated time.Time             `gorm:"column:last_updated;autoUpdateTime"`
	CancelledAt *time.Time            `gorm:"column:cancelled_at"`
}

type ProviderAShipment struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	NumClaims int       `gorm:"column:num_claims;not null;default:0"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// ProviderAClaim records that an agreement was claimed for a due date.
// The pair is unique so a rerun cannot claim it twice.
type ProviderAClaim struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	AgreementID int64     `gorm:"column:agreement_id;not null;uniqueIndex:idx_providera_claim_due"`
	ShipmentID  int64     `gorm:"column:shipment_id;not null;index"`
	DueDate     time.Time `gorm:"column:due_date;not null;uniqueIndex:idx_providera_claim_due"`
	Amount      int64     `gorm:"column:amount;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// ProviderAClaimLog tracks an uploaded claim file until the bank's receipt arrives.
type ProviderAClaimLog struct {
	ID         int64      `gorm:"column:id;primaryKey;autoIncrement"`
	ShipmentID int64      `gorm:"column:shipment_id;not null;index"`
	Filename   string     `gorm:"column:filename;not null"`
	ClaimDate  time.Time  `gorm:"column:claim_date;not null"`
	Content    string     `gorm:"column:content;not null"`
	AcceptedAt *time.Time `gorm:"column:accepted_at"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
}
