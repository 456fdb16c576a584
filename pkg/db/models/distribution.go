package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Distribution binds a KID to a donor's percentage split.
type Distribution struct {
	ID                   int64                   `gorm:"column:id;primaryKey;autoIncrement"`
	KID                  string                  `gorm:"column:kid;size:15;not null;uniqueIndex"`
	DonorID              int64                   `gorm:"column:donor_id;not null;index"`
	TaxUnitID            *int64                  `gorm:"column:tax_unit_id"`
	StandardDistribution bool                    `gorm:"column:standard_distribution;not null;default:false"`
	CreatedAt            time.Time               `gorm:"column:created_at;autoCreateTime"`
	CauseAreas           []DistributionCauseArea `gorm:"foreignKey:DistributionID"`
}

type DistributionCauseArea struct {
	ID              int64                      `gorm:"column:id;primaryKey;autoIncrement"`
	DistributionID  int64                      `gorm:"column:distribution_id;not null;index"`
	CauseAreaID     int64                      `gorm:"column:cause_area_id;not null"`
	PercentageShare decimal.Decimal            `gorm:"column:percentage_share;type:numeric(15,12);not null"`
	StandardSplit   bool                       `gorm:"column:standard_split;not null;default:false"`
	Organizations   []DistributionOrganization `gorm:"foreignKey:CauseAreaRowID"`
}

type DistributionOrganization struct {
	ID              int64           `gorm:"column:id;primaryKey;autoIncrement"`
	CauseAreaRowID  int64           `gorm:"column:cause_area_row_id;not null;index"`
	OrgID           int64           `gorm:"column:org_id;not null"`
	PercentageShare decimal.Decimal `gorm:"column:percentage_share;type:numeric(15,12);not null"`
}

// ReplacedDistribution links the KID that took over a split's donation history
// to the bank-held KID it was moved away from.
type ReplacedDistribution struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement"`
	ReplacementKID string    `gorm:"column:replacement_kid;size:15;not null;uniqueIndex"`
	OriginalKID    string    `gorm:"column:original_kid;size:15;not null;index"`
	ReplacedAt     time.Time `gorm:"column:replaced_at;autoCreateTime"`
}
