package app

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/She20222w/AGILIZAP-ONLINE/app/billing"
)

func TestCreateCheckoutSessionUsesAccountPlan(t *testing.T) {
	env := newTestEnv(t)
	u := env.activeUser("u1")
	token := tokenFor(t, u.ID, u.Email, nil)

	resp := env.do(http.MethodPost, "/api/billing/create-checkout-session", token, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "https://checkout.stripe.test/u1/personal", decode(t, resp)["url"])

	resp = env.do(http.MethodPost, "/api/billing/create-checkout-session", token, `{"plan":"exclusivo"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "https://checkout.stripe.test/u1/exclusive", decode(t, resp)["url"])

	resp = env.do(http.MethodPost, "/api/billing/create-checkout-session", token, `{"plan":"platinum"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestCreateCheckoutSessionBillingErrors(t *testing.T) {
	env := newTestEnv(t)
	u := env.activeUser("u1")
	token := tokenFor(t, u.ID, u.Email, nil)

	env.billing.checkoutErr = fmt.Errorf("billing.CreateCheckoutSession: %w", billing.ErrUnknownPlan)
	resp := env.do(http.MethodPost, "/api/billing/create-checkout-session", token, "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	env.billing.checkoutErr = fmt.Errorf("billing.CreateCheckoutSession: %w", billing.ErrNotConfigured)
	resp = env.do(http.MethodPost, "/api/billing/create-checkout-session", token, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestCreatePortalSession(t *testing.T) {
	env := newTestEnv(t)
	u := env.activeUser("u1")
	token := tokenFor(t, u.ID, u.Email, nil)

	resp := env.do(http.MethodPost, "/api/billing/portal-session", token, "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "https://billing.stripe.test/u1", decode(t, resp)["url"])

	env.billing.portalErr = fmt.Errorf("billing.CreatePortalSession: %w", billing.ErrNoCustomer)
	resp = env.do(http.MethodPost, "/api/billing/portal-session", token, "")
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestPlans(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/api/plans", "", "")
	require.Equal(t, http.StatusOK, resp.Code)
	plans := decode(t, resp)["plans"].([]any)
	assert.Len(t, plans, 3)
}

func TestStripeWebhookStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"applied", nil, http.StatusOK},
		{"bad signature", fmt.Errorf("billing.HandleWebhook: %w", billing.ErrInvalidSignature), http.StatusBadRequest},
		{"malformed", fmt.Errorf("billing.HandleWebhook: %w", billing.ErrMalformedEvent), http.StatusBadRequest},
		{"not configured", fmt.Errorf("billing.HandleWebhook: %w", billing.ErrNotConfigured), http.StatusInternalServerError},
		{"store down", fmt.Errorf("billing.HandleWebhook: connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.billing.webhookErr = tc.err

			resp := env.do(http.MethodPost, "/api/stripe/webhook", "", `{"id":"evt_1"}`)
			assert.Equal(t, tc.want, resp.Code)
		})
	}
}

func TestStripeWebhookBodyLimit(t *testing.T) {
	env := newTestEnv(t)
	big := `{"pad":"` + strings.Repeat("x", 70000) + `"}`

	resp := env.do(http.MethodPost, "/api/stripe/webhook", "", big)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, env.billing.payloads, 1)
	assert.Len(t, env.billing.payloads[0], 65536)
}
