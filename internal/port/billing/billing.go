// Package billing defines the ports for the domain services that own payment
// and connected-account state. Webhook handlers call them; they never talk to
// the payment processor directly.
package billing

import (
	"context"

	"github.com/Strob0t/TheraGate/internal/domain/webhook"
)

// PaymentService confirms or fails domain payments.
// Implementations wrap retryable failures with webhook.Transient.
type PaymentService interface {
	ConfirmPayment(ctx context.Context, paymentID string) error
	MarkFailed(ctx context.Context, paymentID string) error
}

// AccountService manages connected accounts.
type AccountService interface {
	// RefreshAccount re-reads the account and returns its capability flags.
	RefreshAccount(ctx context.Context, accountID string) (*webhook.Capabilities, error)
	DeactivateAccount(ctx context.Context, accountID string) error
}
