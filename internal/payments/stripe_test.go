package payments

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	stripe "github.com/stripe/stripe-go/v76"

	"github.com/talentlane/backend/internal/apperr"
)

func TestGatewayErrClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind apperr.Kind
	}{
		{"card decline", &stripe.Error{Type: stripe.ErrorTypeCard, Msg: "card declined"}, apperr.KindPrecondition},
		{"bad request", &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, Msg: "no such customer"}, apperr.KindValidation},
		{"api outage", &stripe.Error{Type: stripe.ErrorTypeAPI}, apperr.KindUnavailable},
		{"rate limit", &stripe.Error{Type: stripe.ErrorTypeAPI, HTTPStatusCode: http.StatusTooManyRequests}, apperr.KindRateLimited},
		{"transport failure", errors.New("dial tcp: refused"), apperr.KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, apperr.KindOf(gatewayErr(tc.err, "create payment intent")))
		})
	}

	e, ok := apperr.As(gatewayErr(&stripe.Error{HTTPStatusCode: http.StatusTooManyRequests}, "confirm payment intent"))
	assert.True(t, ok)
	assert.NotZero(t, e.RetryAfter, "rate limits carry a retry hint")
}
