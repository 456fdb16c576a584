package enums

import "fmt"

// ChargeStatus covers bank batch charges (ProviderB).
type ChargeStatus string

const (
	ChargeStatusPending   ChargeStatus = "PENDING"
	ChargeStatusDue       ChargeStatus = "DUE"
	ChargeStatusCharged   ChargeStatus = "CHARGED"
	ChargeStatusFailed    ChargeStatus = "FAILED"
	ChargeStatusCancelled ChargeStatus = "CANCELLED"
	ChargeStatusAmended   ChargeStatus = "AMENDED"
)

var validChargeStatuses = []ChargeStatus{
	ChargeStatusPending,
	ChargeStatusDue,
	ChargeStatusCharged,
	ChargeStatusFailed,
	ChargeStatusCancelled,
	ChargeStatusAmended,
}

// String implements fmt.Stringer.
func (c ChargeStatus) String() string {
	return string(c)
}

// IsValid reports whether the value is known.
func (c ChargeStatus) IsValid() bool {
	for _, candidate := range validChargeStatuses {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseChargeStatus converts raw input into a ChargeStatus.
func ParseChargeStatus(value string) (ChargeStatus, error) {
	for _, candidate := range validChargeStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid charge status %q", value)
}

// WalletChargeStatus adds the reserve/refund states of the wallet API.
type WalletChargeStatus string

const (
	WalletChargeStatusPending           WalletChargeStatus = "PENDING"
	WalletChargeStatusDue               WalletChargeStatus = "DUE"
	WalletChargeStatusCharged           WalletChargeStatus = "CHARGED"
	WalletChargeStatusFailed            WalletChargeStatus = "FAILED"
	WalletChargeStatusCancelled         WalletChargeStatus = "CANCELLED"
	WalletChargeStatusReserved          WalletChargeStatus = "RESERVED"
	WalletChargeStatusRefunded          WalletChargeStatus = "REFUNDED"
	WalletChargeStatusPartiallyRefunded WalletChargeStatus = "PARTIALLY_REFUNDED"
	WalletChargeStatusProcessing        WalletChargeStatus = "PROCESSING"
)

var validWalletChargeStatuses = []WalletChargeStatus{
	WalletChargeStatusPending,
	WalletChargeStatusDue,
	WalletChargeStatusCharged,
	WalletChargeStatusFailed,
	WalletChargeStatusCancelled,
	WalletChargeStatusReserved,
	WalletChargeStatusRefunded,
	WalletChargeStatusPartiallyRefunded,
	WalletChargeStatusProcessing,
}

// String implements fmt.Stringer.
func (w WalletChargeStatus) String() string {
	return string(w)
}

// IsValid reports whether the value is known.
func (w WalletChargeStatus) IsValid() bool {
	for _, candidate := range validWalletChargeStatuses {
		if candidate == w {
			return true
		}
	}
	return false
}

// ParseWalletChargeStatus converts raw input into a WalletChargeStatus.
func ParseWalletChargeStatus(value string) (WalletChargeStatus, error) {
	for _, candidate := range validWalletChargeStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid wallet charge status %q", value)
}

type WalletChargeType string

const (
	WalletChargeTypeInitial   WalletChargeType = "INITIAL"
	WalletChargeTypeRecurring WalletChargeType = "RECURRING"
)

var validWalletChargeTypes = []WalletChargeType{
	WalletChargeTypeInitial,
	WalletChargeTypeRecurring,
}

// String implements fmt.Stringer.
func (w WalletChargeType) String() string {
	return string(w)
}

// IsValid reports whether the value is known.
func (w WalletChargeType) IsValid() bool {
	for _, candidate := range validWalletChargeTypes {
		if candidate == w {
			return true
		}
	}
	return false
}

// ParseWalletChargeType converts raw input into a WalletChargeType.
func ParseWalletChargeType(value string) (WalletChargeType, error) {
	for _, candidate := range validWalletChargeTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid wallet charge type %q", value)
}
