// Package payments mediates between the contract core and the external
// payment gateway: charge orchestration, webhook reconciliation, and the
// withdrawal lifecycle.
package payments

import "context"

// Method is a saved payment instrument.
type Method struct {
	ID       string `json:"id"`
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
}

// SetupIntent lets a client attach a new payment instrument.
type SetupIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

// Intent is a payment intent as reported by the gateway.
type Intent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// IntentRequest describes a charge to create.
type IntentRequest struct {
	AmountCents int64
	Currency    string
	CustomerID  string
	Metadata    map[string]string
}

// Webhook event types the orchestrator reconciles.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
)

// Event is a verified gateway webhook event.
type Event struct {
	Type           string
	IntentID       string
	Metadata       map[string]string
	FailureMessage string
}

// Gateway is the payment capability port.
type Gateway interface {
	CreateCustomer(ctx context.Context, email, name string) (string, error)
	CreateSetupIntent(ctx context.Context, customerID string) (*SetupIntent, error)
	ListPaymentMethods(ctx context.Context, customerID string) ([]Method, error)
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	ConfirmPaymentIntent(ctx context.Context, intentID, methodID string) (*Intent, error)
	CancelPaymentIntent(ctx context.Context, intentID string) error
	RetrievePaymentIntent(ctx context.Context, intentID string) (*Intent, error)
	// VerifyWebhook checks the signature over the exact received bytes and
	// decodes the event. Unverified events are rejected.
	VerifyWebhook(payload []byte, signature string) (*Event, error)
}
