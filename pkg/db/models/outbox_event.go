package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/giroflow-backend/pkg/enums"
)

// OutboxEvent represents an append-only event emitted via the outbox pattern.
type OutboxEvent struct {
	ID            int64                     `gorm:"column:id;primaryKey;autoIncrement"`
	EventID       uuid.UUID                 `gorm:"column:event_id;type:uuid;not null;uniqueIndex"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;type:varchar(64);not null"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;type:varchar(32);not null"`
	AggregateID   string                    `gorm:"column:aggregate_id;not null"`
	Payload       json.RawMessage           `gorm:"column:payload;type:text;not null"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime"`
	PublishedAt   *time.Time                `gorm:"column:published_at"`
	AttemptCount  int                       `gorm:"column:attempt_count;not null;default:0"`
	LastError     *string                   `gorm:"column:last_error"`
}

// All lists every model, for sqlite AutoMigrate in tests and dev.
func All() []any {
	return []any{
		&Donor{},
		&TaxUnit{},
		&Distribution{},
		&DistributionCauseArea{},
		&DistributionOrganization{},
		&ReplacedDistribution{},
		&Donation{},
		&ProviderAAgreement{},
		&ProviderAShipment{},
		&ProviderAClaim{},
		&ProviderAClaimLog{},
		&ProviderBAgreement{},
		&ProviderBCharge{},
		&ProviderBMandate{},
		&ProviderBShipment{},
		&WalletAgreement{},
		&WalletCharge{},
		&WalletOrder{},
		&InflationAdjustment{},
		&OutboxEvent{},
	}
}
