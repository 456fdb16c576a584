package payloads

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/giroflow-backend/pkg/enums"
)

// DonationRecordedEvent is emitted once per donation inserted by an import or sync.
type DonationRecordedEvent struct {
	DonationID        int64               `json:"donation_id"`
	DonorID           int64               `json:"donor_id"`
	KID               string              `json:"kid"`
	PaymentMethod     enums.PaymentMethod `json:"payment_method"`
	Amount            decimal.Decimal     `json:"amount"`
	ExternalPaymentID string              `json:"external_payment_id"`
	RegisteredAt      time.Time           `json:"registered_at"`
}

// AgreementStatusEvent covers activation and cancellation on any rail.
type AgreementStatusEvent struct {
	AgreementID   string              `json:"agreement_id"`
	AgreementType enums.AgreementType `json:"agreement_type"`
	KID           string              `json:"kid"`
	Status        string              `json:"status"`
}

// AgreementAmountChangedEvent is emitted when an inflation proposal is accepted.
type AgreementAmountChangedEvent struct {
	AgreementID   string              `json:"agreement_id"`
	AgreementType enums.AgreementType `json:"agreement_type"`
	OldAmount     int64               `json:"old_amount_minor"`
	NewAmount     int64               `json:"new_amount_minor"`
}

// DistributionReplacedEvent links a replacement KID to the KID it took over from.
type DistributionReplacedEvent struct {
	OriginalKID    string    `json:"original_kid"`
	ReplacementKID string    `json:"replacement_kid"`
	ReplacedAt     time.Time `json:"replaced_at"`
}

// ShipmentSentEvent is emitted after a claim file is uploaded.
type ShipmentSentEvent struct {
	ShipmentID int64               `json:"shipment_id"`
	Provider   enums.AgreementType `json:"provider"`
	Filename   string              `json:"filename"`
	Claims     int                 `json:"claims"`
	ClaimDate  time.Time           `json:"claim_date"`
}

// InflationAcceptedEvent records a donor accepting an inflation proposal.
type InflationAcceptedEvent struct {
	AdjustmentID   int64               `json:"adjustment_id"`
	AgreementID    string              `json:"agreement_id"`
	AgreementType  enums.AgreementType `json:"agreement_type"`
	ProposedAmount int64               `json:"proposed_amount_minor"`
	AcceptedAt     time.Time           `json:"accepted_at"`
}
