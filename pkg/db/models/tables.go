package models

func (Donor) TableName() string                    { return "donors" }
func (TaxUnit) TableName() string                  { return "tax_units" }
func (Distribution) TableName() string             { return "distributions" }
func (DistributionCauseArea) TableName() string    { return "distribution_cause_areas" }
func (DistributionOrganization) TableName() string { return "distribution_organizations" }
func (ReplacedDistribution) TableName() string     { return "replaced_distributions" }
func (Donation) TableName() string                 { return "donations" }
func (ProviderAAgreement) TableName() string       { return "providera_agreements" }
func (ProviderAShipment) TableName() string        { return "providera_shipments" }
func (ProviderAClaim) TableName() string           { return "providera_claims" }
func (ProviderAClaimLog) TableName() string        { return "providera_claim_logs" }
func (ProviderBAgreement) TableName() string       { return "providerb_agreements" }
func (ProviderBCharge) TableName() string          { return "providerb_charges" }
func (ProviderBMandate) TableName() string         { return "providerb_mandates" }
func (ProviderBShipment) TableName() string        { return "providerb_shipments" }
func (WalletAgreement) TableName() string          { return "wallet_agreements" }
func (WalletCharge) TableName() string             { return "wallet_charges" }
func (WalletOrder) TableName() string              { return "wallet_orders" }
func (InflationAdjustment) TableName() string      { return "inflation_adjustments" }
func (OutboxEvent) TableName() string              { return "outbox_events" }
