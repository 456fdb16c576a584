package enums

import "fmt"

type InflationAdjustmentStatus string

const (
	InflationAdjustmentStatusNew      InflationAdjustmentStatus = "new"
	InflationAdjustmentStatusPending  InflationAdjustmentStatus = "pending"
	InflationAdjustmentStatusAccepted InflationAdjustmentStatus = "accepted"
	InflationAdjustmentStatusRejected InflationAdjustmentStatus = "rejected"
	InflationAdjustmentStatusExpired  InflationAdjustmentStatus = "expired"
)

var validInflationAdjustmentStatuses = []InflationAdjustmentStatus{
	InflationAdjustmentStatusNew,
	InflationAdjustmentStatusPending,
	InflationAdjustmentStatusAccepted,
	InflationAdjustmentStatusRejected,
	InflationAdjustmentStatusExpired,
}

// String implements fmt.Stringer.
func (i InflationAdjustmentStatus) String() string {
	return string(i)
}

// IsValid reports whether the value is known.
func (i InflationAdjustmentStatus) IsValid() bool {
	for _, candidate := range validInflationAdjustmentStatuses {
		if candidate == i {
			return true
		}
	}
	return false
}

// ParseInflationAdjustmentStatus converts raw input into a InflationAdjustmentStatus.
func ParseInflationAdjustmentStatus(value string) (InflationAdjustmentStatus, error) {
	for _, candidate := range validInflationAdjustmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid inflation adjustment status %q", value)
}
