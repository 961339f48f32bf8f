// Package billing sells plans through Stripe Checkout and applies Stripe
// webhook events to accounts.
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"github.com/She20222w/AGILIZAP-ONLINE/app/logger"
	"github.com/She20222w/AGILIZAP-ONLINE/app/metrics"
	"github.com/She20222w/AGILIZAP-ONLINE/app/models"
	"github.com/She20222w/AGILIZAP-ONLINE/app/store"
)

var (
	ErrNotConfigured = errors.New("billing not configured")
	ErrNoCustomer    = errors.New("account has no stripe customer")
)

type AccountStore interface {
	GetUser(ctx context.Context, id string) (models.User, error)
	SetStripeCustomer(ctx context.Context, id, customerID string) error
	RecordPayment(ctx context.Context, id string, p store.Payment) (models.User, error)
	RecordPaymentByCustomer(ctx context.Context, customerID string, p store.Payment) (models.User, error)
	DeactivateByCustomer(ctx context.Context, customerID string) (models.User, error)
}

// Deduper remembers processed webhook event ids.
type Deduper interface {
	// Claim reports true the first time key is seen within ttl.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// JobPublisher enqueues WhatsApp instance provisioning.
type JobPublisher interface {
	Publish(ctx context.Context, job models.InstanceJob) error
}

type Options struct {
	SiteURL       string
	WebhookSecret string
	DedupTTL      time.Duration
}

type Service struct {
	store   AccountStore
	gateway Gateway
	catalog Catalog
	dedup   Deduper
	jobs    JobPublisher
	metrics *metrics.Metrics
	opts    Options
	now     func() time.Time
}

// NewService builds the billing service. dedup and jobs may be nil.
func NewService(s AccountStore, gw Gateway, catalog Catalog, dedup Deduper, jobs JobPublisher, m *metrics.Metrics, opts Options) *Service {
	opts.SiteURL = strings.TrimRight(opts.SiteURL, "/")
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = 72 * time.Hour
	}
	return &Service{
		store:   s,
		gateway: gw,
		catalog: catalog,
		dedup:   dedup,
		jobs:    jobs,
		metrics: m,
		opts:    opts,
		now:     time.Now,
	}
}

func (s *Service) Catalog() Catalog {
	return s.catalog
}

// EnsureCustomer finds or creates the Stripe customer for the account.
func (s *Service) EnsureCustomer(ctx context.Context, u models.User) (string, error) {
	const op = "billing.EnsureCustomer"

	if u.StripeCustomerID != "" {
		return u.StripeCustomerID, nil
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(u.Email),
		Metadata: map[string]string{
			"user_id": u.ID,
		},
	}
	if u.Name != "" {
		params.Name = stripe.String(u.Name)
	}
	if u.Phone != "" {
		params.Phone = stripe.String(u.Phone)
	}
	cust, err := s.gateway.NewCustomer(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	if err := s.store.SetStripeCustomer(ctx, u.ID, cust.ID); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return cust.ID, nil
}

// CreateCheckoutSession starts a subscription checkout for plan and returns
// the hosted page URL.
func (s *Service) CreateCheckoutSession(ctx context.Context, u models.User, plan models.Plan) (string, error) {
	const op = "billing.CreateCheckoutSession"

	product, err := s.catalog.ForPlan(plan)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if s.opts.SiteURL == "" {
		return "", fmt.Errorf("%s: %w", op, ErrNotConfigured)
	}

	customerID, err := s.EnsureCustomer(ctx, u)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	metadata := map[string]string{
		"user_id": u.ID,
		"plan":    string(plan),
		"phone":   u.Phone,
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(customerID),
		ClientReferenceID: stripe.String(u.ID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(product.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: metadata,
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
		SuccessURL: stripe.String(s.opts.SiteURL + "/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(s.opts.SiteURL + "/signup?canceled=true"),
	}

	sess, err := s.gateway.NewCheckoutSession(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	logger.FromContext(ctx).Info("checkout session created",
		zap.String("user_id", u.ID),
		zap.String("plan", string(plan)),
		zap.String("session_id", sess.ID),
	)
	return sess.URL, nil
}

// CreatePortalSession opens the Stripe customer portal for the account.
func (s *Service) CreatePortalSession(ctx context.Context, u models.User) (string, error) {
	const op = "billing.CreatePortalSession"

	if u.StripeCustomerID == "" {
		return "", fmt.Errorf("%s: %w", op, ErrNoCustomer)
	}
	if s.opts.SiteURL == "" {
		return "", fmt.Errorf("%s: %w", op, ErrNotConfigured)
	}

	sess, err := s.gateway.NewPortalSession(ctx, &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(u.StripeCustomerID),
		ReturnURL: stripe.String(s.opts.SiteURL + "/dashboard"),
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return sess.URL, nil
}
