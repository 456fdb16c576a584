package enums

import "fmt"

// ProviderA agreement lifecycle as reported by the clearing partner.
type ProviderAStatus string

const (
	ProviderAStatusProposed   ProviderAStatus = "PROPOSED"
	ProviderAStatusActive     ProviderAStatus = "ACTIVE"
	ProviderAStatusTerminated ProviderAStatus = "TERMINATED"
)

var validProviderAStatuses = []ProviderAStatus{
	ProviderAStatusProposed,
	ProviderAStatusActive,
	ProviderAStatusTerminated,
}

// String implements fmt.Stringer.
func (p ProviderAStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p ProviderAStatus) IsValid() bool {
	for _, candidate := range validProviderAStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseProviderAStatus converts raw input into a ProviderAStatus.
func ParseProviderAStatus(value string) (ProviderAStatus, error) {
	for _, candidate := range validProviderAStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid provider A status %q", value)
}

// ProviderB agreement lifecycle.
type ProviderBStatus string

const (
	ProviderBStatusActive    ProviderBStatus = "ACTIVE"
	ProviderBStatusCancelled ProviderBStatus = "CANCELLED"
)

var validProviderBStatuses = []ProviderBStatus{
	ProviderBStatusActive,
	ProviderBStatusCancelled,
}

// String implements fmt.Stringer.
func (p ProviderBStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p ProviderBStatus) IsValid() bool {
	for _, candidate := range validProviderBStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseProviderBStatus converts raw input into a ProviderBStatus.
func ParseProviderBStatus(value string) (ProviderBStatus, error) {
	for _, candidate := range validProviderBStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid provider B status %q", value)
}

// WalletAgreementStatus mirrors the wallet's remote agreement states; STOPPED is terminal.
type WalletAgreementStatus string

const (
	WalletAgreementStatusPending WalletAgreementStatus = "PENDING"
	WalletAgreementStatusActive  WalletAgreementStatus = "ACTIVE"
	WalletAgreementStatusStopped WalletAgreementStatus = "STOPPED"
	WalletAgreementStatusExpired WalletAgreementStatus = "EXPIRED"
)

var validWalletAgreementStatuses = []WalletAgreementStatus{
	WalletAgreementStatusPending,
	WalletAgreementStatusActive,
	WalletAgreementStatusStopped,
	WalletAgreementStatusExpired,
}

// String implements fmt.Stringer.
func (w WalletAgreementStatus) String() string {
	return string(w)
}

// IsValid reports whether the value is known.
func (w WalletAgreementStatus) IsValid() bool {
	for _, candidate := range validWalletAgreementStatuses {
		if candidate == w {
			return true
		}
	}
	return false
}

// ParseWalletAgreementStatus converts raw input into a WalletAgreementStatus.
func ParseWalletAgreementStatus(value string) (WalletAgreementStatus, error) {
	for _, candidate := range validWalletAgreementStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid wallet agreement status %q", value)
}

// IsTerminal reports states the wallet never leaves.
func (w WalletAgreementStatus) IsTerminal() bool {
	return w == WalletAgreementStatusStopped || w == WalletAgreementStatusExpired
}
