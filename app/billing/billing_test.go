package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/She20222w/AGILIZAP-ONLINE/app/config"
	"github.com/She20222w/AGILIZAP-ONLINE/app/metrics"
	"github.com/She20222w/AGILIZAP-ONLINE/app/models"
	"github.com/She20222w/AGILIZAP-ONLINE/app/store"
)

const testSecret = "whsec_test"

type memStore struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func (m *memStore) GetUser(_ context.Context, id string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return models.User{}, store.ErrUserNotFound
	}
	return *u, nil
}

func (m *memStore) SetStripeCustomer(_ context.Context, id, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return store.ErrUserNotFound
	}
	u.StripeCustomerID = customerID
	return nil
}

func (m *memStore) pay(u *models.User, p store.Payment) {
	if u.Status != models.StatusReseller {
		u.Status = models.StatusActive
	}
	at := p.At
	u.LastPaymentAt = &at
	u.MinutesUsed = 0
	if p.Plan != nil {
		u.Plan = *p.Plan
	}
	if p.CustomerID != "" {
		u.StripeCustomerID = p.CustomerID
	}
}

func (m *memStore) RecordPayment(_ context.Context, id string, p store.Payment) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return models.User{}, store.ErrUserNotFound
	}
	m.pay(u, p)
	return *u, nil
}

func (m *memStore) byCustomer(customerID string) *models.User {
	for _, u := range m.users {
		if u.StripeCustomerID == customerID {
			return u
		}
	}
	return nil
}

func (m *memStore) RecordPaymentByCustomer(_ context.Context, customerID string, p store.Payment) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.byCustomer(customerID)
	if u == nil {
		return models.User{}, store.ErrUserNotFound
	}
	p.CustomerID = ""
	m.pay(u, p)
	return *u, nil
}

func (m *memStore) DeactivateByCustomer(_ context.Context, customerID string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.byCustomer(customerID)
	if u == nil {
		return models.User{}, store.ErrUserNotFound
	}
	if u.Status != models.StatusReseller {
		u.Status = models.StatusInactive
	}
	return *u, nil
}

type fakeGateway struct {
	customers int
	checkout  *stripe.CheckoutSessionParams
	portal    *stripe.BillingPortalSessionParams
	err       error
}

func (g *fakeGateway) NewCustomer(_ context.Context, params *stripe.CustomerParams) (*stripe.Customer, error) {
	if g.err != nil {
		return nil, g.err
	}
	g.customers++
	return &stripe.Customer{ID: fmt.Sprintf("cus_%d", g.customers), Metadata: params.Metadata}, nil
}

func (g *fakeGateway) NewCheckoutSession(_ context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	g.checkout = params
	return &stripe.CheckoutSession{ID: "cs_test", URL: "https://checkout.stripe.com/c/cs_test"}, nil
}

func (g *fakeGateway) NewPortalSession(_ context.Context, params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
	g.portal = params
	return &stripe.BillingPortalSession{URL: "https://billing.stripe.com/p/session"}, nil
}

type memDedup struct {
	seen     map[string]bool
	released []string
}

func (d *memDedup) Claim(_ context.Context, key string, _ time.Duration) (bool, error) {
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

func (d *memDedup) Release(_ context.Context, key string) error {
	delete(d.seen, key)
	d.released = append(d.released, key)
	return nil
}

type memJobs struct {
	jobs []models.InstanceJob
}

func (j *memJobs) Publish(_ context.Context, job models.InstanceJob) error {
	j.jobs = append(j.jobs, job)
	return nil
}

type fixture struct {
	svc     *Service
	store   *memStore
	gateway *fakeGateway
	dedup   *memDedup
	jobs    *memJobs
	metrics *metrics.Metrics
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: &memStore{users: map[string]*models.User{
			"u1": {ID: "u1", Email: "a@example.com", Phone: "5511988887777", Plan: models.PlanPersonal, Status: models.StatusInactive, MinutesUsed: 7},
			"u2": {ID: "u2", Email: "b@example.com", Phone: "5511911112222", Plan: models.PlanBusiness, Status: models.StatusActive, MinutesUsed: 55, StripeCustomerID: "cus_u2"},
		}},
		gateway: &fakeGateway{},
		dedup:   &memDedup{seen: map[string]bool{}},
		jobs:    &memJobs{},
		metrics: metrics.New("test", prometheus.NewRegistry()),
		now:     time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	catalog := NewCatalog(config.StripeConfig{
		PriceIDPersonal:  "price_p",
		PriceIDBusiness:  "price_b",
		PriceIDExclusive: "price_e",
	})
	f.svc = NewService(f.store, f.gateway, catalog, f.dedup, f.jobs, f.metrics, Options{
		SiteURL:       "https://agilizap.example/",
		WebhookSecret: testSecret,
	})
	f.svc.now = func() time.Time { return f.now }
	return f
}

func signedHeader(payload []byte, secret string, ts time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: ts,
	}).Header
}

func eventPayload(id, eventType, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","api_version":"2024-06-20","type":%q,"data":{"object":%s}}`, id, eventType, object))
}

func TestCatalog(t *testing.T) {
	c := NewCatalog(config.StripeConfig{PriceIDPersonal: "price_p", PriceIDExclusive: "price_e"})

	p, err := c.ForPlan(models.PlanExclusive)
	require.NoError(t, err)
	assert.Equal(t, "price_e", p.PriceID)
	assert.Equal(t, 1000, p.Minutes)

	_, err = c.ForPlan(models.PlanBusiness)
	assert.ErrorIs(t, err, ErrUnknownPlan)

	plan, ok := c.PlanForPrice("price_p")
	assert.True(t, ok)
	assert.Equal(t, models.PlanPersonal, plan)

	products := c.Products()
	require.Len(t, products, 2)
	assert.Equal(t, models.PlanPersonal, products[0].Plan)
}

func TestCreateCheckoutSession(t *testing.T) {
	f := newFixture(t)
	u, _ := f.store.GetUser(context.Background(), "u1")

	url, err := f.svc.CreateCheckoutSession(context.Background(), u, models.PlanBusiness)
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/c/cs_test", url)

	p := f.gateway.checkout
	require.NotNil(t, p)
	assert.Equal(t, "u1", *p.ClientReferenceID)
	assert.Equal(t, "cus_1", *p.Customer)
	assert.Equal(t, "price_b", *p.LineItems[0].Price)
	assert.Equal(t, "business", p.Metadata["plan"])
	assert.Equal(t, "https://agilizap.example/success?session_id={CHECKOUT_SESSION_ID}", *p.SuccessURL)
	assert.Equal(t, "https://agilizap.example/signup?canceled=true", *p.CancelURL)

	stored, _ := f.store.GetUser(context.Background(), "u1")
	assert.Equal(t, "cus_1", stored.StripeCustomerID)

	// the stored customer is reused
	_, err = f.svc.CreateCheckoutSession(context.Background(), stored, models.PlanPersonal)
	require.NoError(t, err)
	assert.Equal(t, 1, f.gateway.customers)
}

func TestCreateCheckoutSessionUnknownPlan(t *testing.T) {
	f := newFixture(t)
	u, _ := f.store.GetUser(context.Background(), "u1")
	_, err := f.svc.CreateCheckoutSession(context.Background(), u, "gold")
	assert.ErrorIs(t, err, ErrUnknownPlan)
	assert.Equal(t, 0, f.gateway.customers)
}

func TestCreatePortalSession(t *testing.T) {
	f := newFixture(t)

	u1, _ := f.store.GetUser(context.Background(), "u1")
	_, err := f.svc.CreatePortalSession(context.Background(), u1)
	assert.ErrorIs(t, err, ErrNoCustomer)

	u2, _ := f.store.GetUser(context.Background(), "u2")
	url, err := f.svc.CreatePortalSession(context.Background(), u2)
	require.NoError(t, err)
	assert.Equal(t, "https://billing.stripe.com/p/session", url)
	assert.Equal(t, "https://agilizap.example/dashboard", *f.gateway.portal.ReturnURL)
}

func TestWebhookCheckoutCompletedActivatesUser(t *testing.T) {
	f := newFixture(t)
	payload := eventPayload("evt_1", EventCheckoutCompleted,
		`{"id":"cs_1","object":"checkout.session","client_reference_id":"u1","customer":"cus_new","metadata":{"plan":"exclusivo"}}`)

	outcome, err := f.svc.HandleWebhook(context.Background(), payload, signedHeader(payload, testSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	u, _ := f.store.GetUser(context.Background(), "u1")
	assert.Equal(t, models.StatusActive, u.Status)
	assert.Equal(t, models.PlanExclusive, u.Plan)
	assert.Equal(t, 0, u.MinutesUsed)
	assert.Equal(t, "cus_new", u.StripeCustomerID)
	require.NotNil(t, u.LastPaymentAt)
	assert.True(t, f.now.Equal(*u.LastPaymentAt))

	// no other account changed
	other, _ := f.store.GetUser(context.Background(), "u2")
	assert.Equal(t, 55, other.MinutesUsed)

	require.Len(t, f.jobs.jobs, 1)
	assert.Equal(t, "u1", f.jobs.jobs[0].UserID)
	assert.Equal(t, "5511988887777", f.jobs.jobs[0].Phone)
	assert.Equal(t, "checkout", f.jobs.jobs[0].Reason)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.WebhookEvents.WithLabelValues(EventCheckoutCompleted, "applied")))
}

func TestWebhookBadSignatureChangesNothing(t *testing.T) {
	f := newFixture(t)
	payload := eventPayload("evt_1", EventCheckoutCompleted,
		`{"id":"cs_1","object":"checkout.session","client_reference_id":"u1"}`)

	for _, header := range []string{
		"",
		"t=123,v1=deadbeef",
		signedHeader(payload, "whsec_other", time.Now()),
		signedHeader(payload, testSecret, time.Now().Add(-time.Hour)),
	} {
		outcome, err := f.svc.HandleWebhook(context.Background(), payload, header)
		assert.ErrorIs(t, err, ErrInvalidSignature)
		assert.Equal(t, OutcomeRejected, outcome)
	}

	u, _ := f.store.GetUser(context.Background(), "u1")
	assert.Equal(t, models.StatusInactive, u.Status)
	assert.Nil(t, u.LastPaymentAt)
	assert.Empty(t, f.jobs.jobs)
}

func TestWebhookDuplicateDeliveryAppliedOnce(t *testing.T) {
	f := newFixture(t)
	payload := eventPayload("evt_dup", EventCheckoutCompleted,
		`{"id":"cs_1","object":"checkout.session","client_reference_id":"u1"}`)
	header := signedHeader(payload, testSecret, time.Now())

	outcome, err := f.svc.HandleWebhook(context.Background(), payload, header)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	outcome, err = f.svc.HandleWebhook(context.Background(), payload, header)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Len(t, f.jobs.jobs, 1)
}

func TestWebhookMalformedCheckoutReleasesDedupKey(t *testing.T) {
	f := newFixture(t)
	payload := eventPayload("evt_bad", EventCheckoutCompleted, `{"id":"cs_1","object":"checkout.session"}`)

	outcome, err := f.svc.HandleWebhook(context.Background(), payload, signedHeader(payload, testSecret, time.Now()))
	assert.ErrorIs(t, err, ErrMalformedEvent)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, []string{"stripe:event:evt_bad"}, f.dedup.released)
}

func TestWebhookInvoicePaidRenews(t *testing.T) {
	f := newFixture(t)
	payload := eventPayload("evt_2", EventInvoicePaid,
		`{"id":"in_1","object":"invoice","billing_reason":"subscription_cycle","customer":"cus_u2",
		  "lines":{"object":"list","data":[{"id":"il_1","object":"line_item","price":{"id":"price_e","object":"price"}}]}}`)

	outcome, err := f.svc.HandleWebhook(context.Background(), payload, signedHeader(payload, testSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	u, _ := f.store.GetUser(context.Background(), "u2")
	assert.Equal(t, 0, u.MinutesUsed)
	assert.Equal(t, models.PlanExclusive, u.Plan)
	require.NotNil(t, u.LastPaymentAt)
	assert.Empty(t, f.jobs.jobs)
}

func TestWebhookFirstInvoiceIgnored(t *testing.T) {
	f := newFixture(t)
	payload := eventPayload("evt_3", EventInvoicePaid,
		`{"id":"in_1","object":"invoice","billing_reason":"subscription_create","customer":"cus_u2"}`)

	outcome, err := f.svc.HandleWebhook(context.Background(), payload, signedHeader(payload, testSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)

	u, _ := f.store.GetUser(context.Background(), "u2")
	assert.Equal(t, 55, u.MinutesUsed)
}

func TestWebhookSubscriptionDeletedDeactivates(t *testing.T) {
	f := newFixture(t)
	payload := eventPayload("evt_4", EventSubscriptionDeleted,
		`{"id":"sub_1","object":"subscription","customer":"cus_u2"}`)

	outcome, err := f.svc.HandleWebhook(context.Background(), payload, signedHeader(payload, testSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	u, _ := f.store.GetUser(context.Background(), "u2")
	assert.Equal(t, models.StatusInactive, u.Status)
}

func TestWebhookUnhandledEventIgnored(t *testing.T) {
	f := newFixture(t)
	payload := eventPayload("evt_5", "customer.created", `{"id":"cus_x","object":"customer"}`)

	outcome, err := f.svc.HandleWebhook(context.Background(), payload, signedHeader(payload, testSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, f.dedup.seen)
}

func TestWebhookUnknownAccountIgnored(t *testing.T) {
	f := newFixture(t)
	payload := eventPayload("evt_6", EventCheckoutCompleted,
		`{"id":"cs_1","object":"checkout.session","client_reference_id":"ghost"}`)

	outcome, err := f.svc.HandleWebhook(context.Background(), payload, signedHeader(payload, testSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
}

func TestEnsureCustomerPropagatesGatewayError(t *testing.T) {
	f := newFixture(t)
	f.gateway.err = errors.New("stripe down")
	u, _ := f.store.GetUser(context.Background(), "u1")

	_, err := f.svc.EnsureCustomer(context.Background(), u)
	require.Error(t, err)
	stored, _ := f.store.GetUser(context.Background(), "u1")
	assert.Empty(t, stored.StripeCustomerID)
}
