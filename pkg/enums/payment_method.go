package enums

import "fmt"

// PaymentMethod records how a donation reached the ledger.
type PaymentMethod string

const (
	PaymentMethodProviderA   PaymentMethod = "providera"
	PaymentMethodProviderB   PaymentMethod = "providerb"
	PaymentMethodWallet      PaymentMethod = "wallet_recurring"
	PaymentMethodWalletOrder PaymentMethod = "wallet_order"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodProviderA,
	PaymentMethodProviderB,
	PaymentMethodWallet,
	PaymentMethodWalletOrder,
}

// String implements fmt.Stringer.
func (p PaymentMethod) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentMethod converts raw input into a PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	for _, candidate := range validPaymentMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}
