package models

import (
	"time"

	"github.com/angelmondragon/giroflow-backend/pkg/enums"
	"github.com/shopspring/decimal"
)

// WalletAgreement mirrors a remote recurring agreement. ID is the remote agreement id.
type WalletAgreement struct {
	ID               string                      `gorm:"column:id;primaryKey"`
	DonorID          int64                       `gorm:"column:donor_id;not null;index"`
	KID              string                      `gorm:"column:kid;size:15;not null;index"`
	Amount           decimal.Decimal             `gorm:"column:amount;type:numeric(16,2);not null"`
	Status           enums.WalletAgreementStatus `gorm:"column:status;type:varchar(16);not null"`
	MonthlyChargeDay int                         `gorm:"column:monthly_charge_day;not null"`
	ForceChargeDate  *time.Time                  `gorm:"column:force_charge_date"`
	PausedUntil      *time.Time                  `gorm:"column:paused_until"`
	URLCode          string                      `gorm:"column:agreement_url_code;not null;default:''"`
	PriceChangedAt   *time.Time                  `gorm:"column:price_changed_at"`
	CreatedAt        time.Time                   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time                   `gorm:"column:updated_at;autoUpdateTime"`
	CancelledAt      *time.Time                  `gorm:"column:cancelled_at"`
}

// WalletCharge mirrors a remote charge. ID is the remote charge id.
// An agreement has at most one live charge of each type per due month;
// failed and cancelled charges free the month.
type WalletCharge struct {
	ID          string                   `gorm:"column:id;primaryKey"`
	AgreementID string                   `gorm:"column:agreement_id;not null;index;uniqueIndex:idx_wallet_charge_month,where:status <> 'FAILED' AND status <> 'CANCELLED'"`
	AmountNOK   decimal.Decimal          `gorm:"column:amount_nok;type:numeric(16,2);not null"`
	DueDate     time.Time                `gorm:"column:due_date;not null"`
	DueMonth    string                   `gorm:"column:due_month;size:7;not null;uniqueIndex:idx_wallet_charge_month,where:status <> 'FAILED' AND status <> 'CANCELLED'"`
	Status      enums.WalletChargeStatus `gorm:"column:status;type:varchar(24);not null"`
	Type        enums.WalletChargeType   `gorm:"column:type;type:varchar(16);not null;default:'RECURRING';uniqueIndex:idx_wallet_charge_month,where:status <> 'FAILED' AND status <> 'CANCELLED'"`
	CreatedAt   time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

// WalletOrder is a one-off wallet payment awaiting capture.
type WalletOrder struct {
	OrderID   string          `gorm:"column:order_id;primaryKey"`
	DonorID   int64           `gorm:"column:donor_id;not null;index"`
	KID       string          `gorm:"column:kid;size:15;not null"`
	Amount    decimal.Decimal `gorm:"column:amount;type:numeric(16,2);not null"`
	Status    string          `gorm:"column:status;not null;default:'INITIATED'"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
