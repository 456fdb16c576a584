package models

import "time"

// Donor is the person behind distributions and donations.
type Donor struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Email     string    `gorm:"column:email;not null;uniqueIndex"`
	FullName  string    `gorm:"column:full_name;not null;default:''"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TaxUnit is the tax identity a donation is reported under.
type TaxUnit struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	DonorID   int64     `gorm:"column:donor_id;not null;index"`
	Name      string    `gorm:"column:name;not null"`
	SSN       string    `gorm:"column:ssn;not null;index"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
