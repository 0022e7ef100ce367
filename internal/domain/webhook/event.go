// Package webhook defines domain types for payment-provider webhook events.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType is the dotted event taxonomy string sent by the payment provider.
type EventType string

const (
	EventInvoicePaymentSucceeded EventType = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    EventType = "invoice.payment_failed"
	EventIntentSucceeded         EventType = "payment_intent.succeeded"
	EventIntentPaymentFailed     EventType = "payment_intent.payment_failed"

	EventAccountUpdated      EventType = "account.updated"
	EventAccountDeauthorized EventType = "account.application.deauthorized"
	EventTransferCreated     EventType = "transfer.created"
	EventTransferPaid        EventType = "transfer.paid"
	EventTransferFailed      EventType = "transfer.failed"
	EventPayoutCreated       EventType = "payout.created"
	EventPayoutPaid          EventType = "payout.paid"
	EventPayoutFailed        EventType = "payout.failed"
	EventDisputeCreated      EventType = "charge.dispute.created"
	EventSubscriptionCreated EventType = "customer.subscription.created"
	EventSubscriptionUpdated EventType = "customer.subscription.updated"
	EventSubscriptionDeleted EventType = "customer.subscription.deleted"
)

// Family groups event types that share a handler.
type Family string

const (
	FamilyUnknown        Family = ""
	FamilyPaymentSuccess Family = "payment_succeeded"
	FamilyPaymentFailure Family = "payment_failed"
	FamilyAccountUpdate  Family = "account_updated"
	FamilyAccountDeauth  Family = "account_deauthorized"
	FamilyTransfer       Family = "transfer"
	FamilyPayout         Family = "payout"
	FamilyDispute        Family = "dispute"
	FamilySubscription   Family = "subscription"
)

var families = map[EventType]Family{
	EventInvoicePaymentSucceeded: FamilyPaymentSuccess,
	EventIntentSucceeded:         FamilyPaymentSuccess,
	EventInvoicePaymentFailed:    FamilyPaymentFailure,
	EventIntentPaymentFailed:     FamilyPaymentFailure,
	EventAccountUpdated:          FamilyAccountUpdate,
	EventAccountDeauthorized:     FamilyAccountDeauth,
	EventTransferCreated:         FamilyTransfer,
	EventTransferPaid:            FamilyTransfer,
	EventTransferFailed:          FamilyTransfer,
	EventPayoutCreated:           FamilyPayout,
	EventPayoutPaid:              FamilyPayout,
	EventPayoutFailed:            FamilyPayout,
	EventDisputeCreated:          FamilyDispute,
	EventSubscriptionCreated:     FamilySubscription,
	EventSubscriptionUpdated:     FamilySubscription,
	EventSubscriptionDeleted:     FamilySubscription,
}

// Family returns the handler family for t, or FamilyUnknown.
func (t EventType) Family() Family {
	return families[t]
}

// Recognized reports whether a handler exists for t.
func (t EventType) Recognized() bool {
	return t.Family() != FamilyUnknown
}

// Event is a decoded webhook envelope. The object payload stays raw until the
// dispatcher decodes it into the type-specific struct.
type Event struct {
	ID       string    `json:"id"`
	Type     EventType `json:"type"`
	Created  int64     `json:"created"`
	Livemode bool      `json:"livemode"`
	Account  string    `json:"account,omitempty"`
	Data     EventData `json:"data"`
}

// EventData wraps the object the event describes.
type EventData struct {
	Object json.RawMessage `json:"object"`
}

// CreatedAt returns the provider creation time.
func (e *Event) CreatedAt() time.Time {
	return time.Unix(e.Created, 0).UTC()
}

// ErrMalformedPayload is returned when the body is not a valid event envelope.
var ErrMalformedPayload = errors.New("webhook: malformed payload")

// ParseEvent decodes the envelope from the raw request body. The raw bytes are
// only read, never re-serialized.
func ParseEvent(raw []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if ev.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedPayload)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedPayload)
	}
	return &ev, nil
}
