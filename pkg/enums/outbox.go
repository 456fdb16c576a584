package enums

import "fmt"

// OutboxAggregateType names the entity an outbox event describes.
type OutboxAggregateType string

const (
	AggregateDonation            OutboxAggregateType = "donation"
	AggregateAgreement           OutboxAggregateType = "agreement"
	AggregateDistribution        OutboxAggregateType = "distribution"
	AggregateInflationAdjustment OutboxAggregateType = "inflation_adjustment"
	AggregateShipment            OutboxAggregateType = "shipment"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateDonation,
	AggregateAgreement,
	AggregateDistribution,
	AggregateInflationAdjustment,
	AggregateShipment,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType identifies the domain event published to Pub/Sub.
type OutboxEventType string

const (
	EventDonationRecorded      OutboxEventType = "donation_recorded"
	EventAgreementActivated    OutboxEventType = "agreement_activated"
	EventAgreementCancelled    OutboxEventType = "agreement_cancelled"
	EventAgreementAmountChange OutboxEventType = "agreement_amount_changed"
	EventDistributionReplaced  OutboxEventType = "distribution_replaced"
	EventShipmentSent          OutboxEventType = "shipment_sent"
	EventInflationAccepted     OutboxEventType = "inflation_adjustment_accepted"
)

var validOutboxEventTypes = []OutboxEventType{
	EventDonationRecorded,
	EventAgreementActivated,
	EventAgreementCancelled,
	EventAgreementAmountChange,
	EventDistributionReplaced,
	EventShipmentSent,
	EventInflationAccepted,
}

// IsValid reports whether the value is a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
