// Package agreements presents the three rails' agreements behind one tagged
// shape so cross-rail jobs can iterate them uniformly.
package agreements

import (
	"strconv"
	"time"

	"github.com/angelmondragon/giroflow-backend/pkg/db/models"
	"github.com/angelmondragon/giroflow-backend/pkg/enums"
)

// Agreement is the common view of a recurring agreement. AmountMinor is in øre/öre.
type Agreement interface {
	Kind() enums.AgreementType
	ID() string
	KID() string
	AmountMinor() int64
	LastUpdated() time.Time
}

type ProviderA struct{ Row models.ProviderAAgreement }

func (ProviderA) Kind() enums.AgreementType { return enums.AgreementTypeProviderA }
func (a ProviderA) ID() string              { return strconv.FormatInt(a.Row.ID, 10) }
func (a ProviderA) KID() string             { return a.Row.KID }
func (a ProviderA) AmountMinor() int64      { return a.Row.Amount }
func (a ProviderA) LastUpdated() time.Time  { return a.Row.LastUpdated }

type ProviderB struct{ Row models.ProviderBAgreement }

func (ProviderB) Kind() enums.AgreementType { return enums.AgreementTypeProviderB }
func (a ProviderB) ID() string              { return strconv.FormatInt(a.Row.ID, 10) }
func (a ProviderB) KID() string             { return a.Row.KID }
func (a ProviderB) AmountMinor() int64      { return a.Row.Amount }
func (a ProviderB) LastUpdated() time.Time  { return a.Row.LastUpdated }

// Wallet wraps a wallet agreement. Its price only changes through an explicit
// price update, so LastUpdated falls back to the creation time.
type Wallet struct{ Row models.WalletAgreement }

func (Wallet) Kind() enums.AgreementType { return enums.AgreementTypeWallet }
func (a Wallet) ID() string              { return a.Row.ID }
func (a Wallet) KID() string             { return a.Row.KID }
func (a Wallet) AmountMinor() int64      { return a.Row.Amount.Shift(2).Round(0).IntPart() }

func (a Wallet) LastUpdated() time.Time {
	if a.Row.PriceChangedAt != nil {
		return *a.Row.PriceChangedAt
	}
	return a.Row.CreatedAt
}
