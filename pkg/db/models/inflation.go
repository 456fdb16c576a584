package models

import (
	"time"

	"github.com/angelmondragon/giroflow-backend/pkg/enums"
	"github.com/shopspring/decimal"
)

// InflationAdjustment is a proposed price increase sent to the donor. Amounts in øre.
type InflationAdjustment struct {
	ID                  int64                           `gorm:"column:id;primaryKey;autoIncrement"`
	AgreementID         string                          `gorm:"column:agreement_id;not null;index:idx_inflation_agreement"`
	AgreementType       enums.AgreementType             `gorm:"column:agreement_type;type:varchar(16);not null;index:idx_inflation_agreement"`
	DonorEmail          string                          `gorm:"column:donor_email;not null;default:''"`
	CurrentAmount       int64                           `gorm:"column:current_amount;not null"`
	ProposedAmount      int64                           `gorm:"column:proposed_amount;not null"`
	InflationPercentage decimal.Decimal                 `gorm:"column:inflation_percentage;type:numeric(8,6);not null"`
	Token               string                          `gorm:"column:token;size:64;not null;uniqueIndex"`
	Status              enums.InflationAdjustmentStatus `gorm:"column:status;type:varchar(16);not null;default:'new'"`
	CreatedAt           time.Time                       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time                       `gorm:"column:updated_at;autoUpdateTime"`
	ExpiresAt           *time.Time                      `gorm:"column:expires_at"`
	AcceptedAt          *time.Time                      `gorm:"column:accepted_at"`
}
