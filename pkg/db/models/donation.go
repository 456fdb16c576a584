package models

import (
	"time"

	"github.com/angelmondragon/giroflow-backend/pkg/enums"
	"github.com/shopspring/decimal"
)

// Donation is a confirmed payment. ExternalPaymentID is unique so re-imports
// of the same bank line or wallet charge cannot double count.
type Donation struct {
	ID                int64               `gorm:"column:id;primaryKey;autoIncrement"`
	DonorID           int64               `gorm:"column:donor_id;not null;index"`
	KID               string              `gorm:"column:kid;size:15;not null;index"`
	PaymentMethod     enums.PaymentMethod `gorm:"column:payment_method;type:varchar(32);not null"`
	Amount            decimal.Decimal     `gorm:"column:amount;type:numeric(16,2);not null"`
	ExternalPaymentID string              `gorm:"column:external_payment_id;not null;uniqueIndex"`
	RegisteredAt      time.Time           `gorm:"column:registered_at;not null"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
}
