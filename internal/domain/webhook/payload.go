package webhook

// PaymentObject is the data.object of invoice and payment_intent events.
type PaymentObject struct {
	ID       string `json:"id" validate:"required"`
	Customer string `json:"customer" validate:"required"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

// AccountObject is the data.object of account.updated.
type AccountObject struct {
	ID               string `json:"id" validate:"required"`
	ChargesEnabled   bool   `json:"charges_enabled"`
	PayoutsEnabled   bool   `json:"payouts_enabled"`
	DetailsSubmitted bool   `json:"details_submitted"`
}

// Deauthorization carries the connected account that revoked access. The
// provider sends the account id on the envelope, not on the object.
type Deauthorization struct {
	AccountID     string `validate:"required"`
	ApplicationID string
}

// TransferObject is the data.object of transfer.* and payout.* events.
type TransferObject struct {
	ID          string `json:"id" validate:"required"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Destination string `json:"destination"`
	Status      string `json:"status"`
	FailureCode string `json:"failure_code"`
}

// DisputeObject is the data.object of charge.dispute.created.
type DisputeObject struct {
	ID       string `json:"id" validate:"required"`
	Charge   string `json:"charge"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Reason   string `json:"reason"`
}

// SubscriptionObject is the data.object of customer.subscription.* events.
type SubscriptionObject struct {
	ID       string `json:"id" validate:"required"`
	Customer string `json:"customer" validate:"required"`
	Status   string `json:"status"`
}

// Capabilities are the connected-account flags cached after account.updated.
type Capabilities struct {
	AccountID        string `json:"account_id"`
	ChargesEnabled   bool   `json:"charges_enabled"`
	PayoutsEnabled   bool   `json:"payouts_enabled"`
	DetailsSubmitted bool   `json:"details_submitted"`
	Active           bool   `json:"active"`
}
