package enums

import "fmt"

// AgreementType tags which payment rail owns an agreement.
type AgreementType string

const (
	AgreementTypeProviderA AgreementType = "providera"
	AgreementTypeProviderB AgreementType = "providerb"
	AgreementTypeWallet    AgreementType = "wallet"
)

var validAgreementTypes = []AgreementType{
	AgreementTypeProviderA,
	AgreementTypeProviderB,
	AgreementTypeWallet,
}

// String implements fmt.Stringer.
func (a AgreementType) String() string {
	return string(a)
}

// IsValid reports whether the value is known.
func (a AgreementType) IsValid() bool {
	for _, candidate := range validAgreementTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAgreementType converts raw input into a AgreementType.
func ParseAgreementType(value string) (AgreementType, error) {
	for _, candidate := range validAgreementTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid agreement type %q", value)
}
