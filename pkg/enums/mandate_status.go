package enums

import "fmt"

// MandateStatus is the ProviderB mandate lifecycle: NEW, PENDING, then ACTIVE or REJECTED; ACTIVE may end CANCELLED.
type MandateStatus string

const (
	MandateStatusNew       MandateStatus = "NEW"
	MandateStatusPending   MandateStatus = "PENDING"
	MandateStatusActive    MandateStatus = "ACTIVE"
	MandateStatusRejected  MandateStatus = "REJECTED"
	MandateStatusCancelled MandateStatus = "CANCELLED"
)

var validMandateStatuses = []MandateStatus{
	MandateStatusNew,
	MandateStatusPending,
	MandateStatusActive,
	MandateStatusRejected,
	MandateStatusCancelled,
}

// String implements fmt.Stringer.
func (m MandateStatus) String() string {
	return string(m)
}

// IsValid reports whether the value is known.
func (m MandateStatus) IsValid() bool {
	for _, candidate := range validMandateStatuses {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseMandateStatus converts raw input into a MandateStatus.
func ParseMandateStatus(value string) (MandateStatus, error) {
	for _, candidate := range validMandateStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid mandate status %q", value)
}
