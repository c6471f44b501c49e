package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/talentlane/backend/internal/apperr"
)

// StripeGateway implements Gateway over the Stripe API.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

// NewStripeGateway builds the production gateway.
func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeGateway{api: api, webhookSecret: webhookSecret}
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.Context = ctx
	cus, err := g.api.Customers.New(params)
	if err != nil {
		return "", gatewayErr(err, "create customer")
	}
	return cus.ID, nil
}

func (g *StripeGateway) CreateSetupIntent(ctx context.Context, customerID string) (*SetupIntent, error) {
	params := &stripe.SetupIntentParams{
		Customer:           stripe.String(customerID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	params.Context = ctx
	si, err := g.api.SetupIntents.New(params)
	if err != nil {
		return nil, gatewayErr(err, "create setup intent")
	}
	return &SetupIntent{ID: si.ID, ClientSecret: si.ClientSecret}, nil
}

func (g *StripeGateway) ListPaymentMethods(ctx context.Context, customerID string) ([]Method, error) {
	params := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
		Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
	}
	params.Context = ctx

	var out []Method
	iter := g.api.PaymentMethods.List(params)
	for iter.Next() {
		pm := iter.PaymentMethod()
		m := Method{ID: pm.ID}
		if pm.Card != nil {
			m.Brand = string(pm.Card.Brand)
			m.Last4 = pm.Card.Last4
			m.ExpMonth = int(pm.Card.ExpMonth)
			m.ExpYear = int(pm.Card.ExpYear)
		}
		out = append(out, m)
	}
	if err := iter.Err(); err != nil {
		return nil, gatewayErr(err, "list payment methods")
	}
	return out, nil
}

func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountCents),
		Currency: stripe.String(req.Currency),
		Customer: stripe.String(req.CustomerID),
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, gatewayErr(err, "create payment intent")
	}
	return &Intent{ID: pi.ID, Status: string(pi.Status)}, nil
}

func (g *StripeGateway) ConfirmPaymentIntent(ctx context.Context, intentID, methodID string) (*Intent, error) {
	params := &stripe.PaymentIntentConfirmParams{
		PaymentMethod: stripe.String(methodID),
	}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Confirm(intentID, params)
	if err != nil {
		return nil, gatewayErr(err, "confirm payment intent")
	}
	return &Intent{ID: pi.ID, Status: string(pi.Status)}, nil
}

func (g *StripeGateway) CancelPaymentIntent(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := g.api.PaymentIntents.Cancel(intentID, params); err != nil {
		return gatewayErr(err, "cancel payment intent")
	}
	return nil
}

func (g *StripeGateway) RetrievePaymentIntent(ctx context.Context, intentID string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, gatewayErr(err, "retrieve payment intent")
	}
	return &Intent{ID: pi.ID, Status: string(pi.Status)}, nil
}

func (g *StripeGateway) VerifyWebhook(payload []byte, signature string) (*Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		return nil, apperr.Validation("webhook signature verification failed")
	}

	out := &Event{Type: string(event.Type)}
	switch out.Type {
	case EventIntentSucceeded, EventIntentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, apperr.Validation("webhook payload did not decode as a payment intent")
		}
		out.IntentID = pi.ID
		out.Metadata = pi.Metadata
		if pi.LastPaymentError != nil {
			out.FailureMessage = pi.LastPaymentError.Msg
		}
	}
	return out, nil
}

// gatewayErr reclassifies Stripe failures; card declines surface as
// preconditions, transport problems as unavailability.
func gatewayErr(err error, op string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusTooManyRequests {
			return apperr.RateLimited(30*time.Second, "payment gateway rate limit during %s", op)
		}
		switch stripeErr.Type {
		case stripe.ErrorTypeCard:
			return apperr.Precondition("payment declined: %s", stripeErr.Msg)
		case stripe.ErrorTypeInvalidRequest:
			return apperr.Validation("payment gateway rejected %s: %s", op, stripeErr.Msg)
		case stripe.ErrorTypeAPI:
			return apperr.Unavailable("payment gateway unavailable during %s", op)
		}
	}
	return apperr.Internal(err, "payment gateway %s failed", op)
}
