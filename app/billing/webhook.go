package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.uber.org/zap"

	"github.com/She20222w/AGILIZAP-ONLINE/app/logger"
	"github.com/She20222w/AGILIZAP-ONLINE/app/models"
	"github.com/She20222w/AGILIZAP-ONLINE/app/store"
)

var (
	ErrInvalidSignature = errors.New("stripe signature verification failed")
	ErrMalformedEvent   = errors.New("malformed stripe event")
)

// Outcome describes what a webhook delivery did.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventInvoicePaid         = "invoice.paid"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// HandleWebhook verifies a Stripe delivery and applies it. Bad signatures
// return ErrInvalidSignature and touch nothing.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) (Outcome, error) {
	const op = "billing.HandleWebhook"
	log := logger.FromContext(ctx)

	if s.opts.WebhookSecret == "" {
		return OutcomeFailed, fmt.Errorf("%s: %w", op, ErrNotConfigured)
	}

	event, err := webhook.ConstructEventWithOptions(
		payload,
		sigHeader,
		s.opts.WebhookSecret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		log.Warn("stripe webhook signature failed", zap.Error(err))
		s.metrics.ObserveWebhook("unknown", string(OutcomeRejected))
		return OutcomeRejected, fmt.Errorf("%s: %w", op, ErrInvalidSignature)
	}

	eventType := string(event.Type)
	log = log.With(zap.String("event_id", event.ID), zap.String("event_type", eventType))
	ctx = logger.WithContext(ctx, log)

	if !handled(eventType) {
		s.metrics.ObserveWebhook(eventType, string(OutcomeIgnored))
		return OutcomeIgnored, nil
	}

	key := "stripe:event:" + event.ID
	if s.dedup != nil {
		first, err := s.dedup.Claim(ctx, key, s.opts.DedupTTL)
		switch {
		case err != nil:
			// a broken cache must not block payments
			log.Warn("webhook dedup unavailable", zap.Error(err))
		case !first:
			log.Info("duplicate stripe event skipped")
			s.metrics.ObserveWebhook(eventType, string(OutcomeDuplicate))
			return OutcomeDuplicate, nil
		}
	}

	outcome, err := s.apply(ctx, eventType, event.Data.Raw)
	if err != nil {
		if s.dedup != nil {
			if rerr := s.dedup.Release(context.WithoutCancel(ctx), key); rerr != nil {
				log.Warn("webhook dedup release failed", zap.Error(rerr))
			}
		}
		s.metrics.ObserveWebhook(eventType, string(OutcomeFailed))
		return OutcomeFailed, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.ObserveWebhook(eventType, string(outcome))
	return outcome, nil
}

func handled(eventType string) bool {
	switch eventType {
	case EventCheckoutCompleted, EventInvoicePaid, EventSubscriptionDeleted:
		return true
	}
	return false
}

func (s *Service) apply(ctx context.Context, eventType string, raw json.RawMessage) (Outcome, error) {
	switch eventType {
	case EventCheckoutCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(raw, &sess); err != nil {
			return OutcomeFailed, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		return s.checkoutCompleted(ctx, &sess)

	case EventInvoicePaid:
		var inv stripe.Invoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return OutcomeFailed, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		return s.invoicePaid(ctx, &inv)

	case EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return OutcomeFailed, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		return s.subscriptionDeleted(ctx, &sub)
	}
	return OutcomeIgnored, nil
}

func (s *Service) checkoutCompleted(ctx context.Context, sess *stripe.CheckoutSession) (Outcome, error) {
	log := logger.FromContext(ctx)

	userID := sess.ClientReferenceID
	if userID == "" {
		userID = sess.Metadata["user_id"]
	}
	if userID == "" {
		return OutcomeFailed, fmt.Errorf("%w: checkout session without client_reference_id", ErrMalformedEvent)
	}

	payment := store.Payment{At: s.now()}
	if p, ok := models.ParsePlan(sess.Metadata["plan"]); ok {
		payment.Plan = &p
	}
	if sess.Customer != nil {
		payment.CustomerID = sess.Customer.ID
	}

	user, err := s.store.RecordPayment(ctx, userID, payment)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			log.Warn("checkout completed for unknown account", zap.String("user_id", userID))
			return OutcomeIgnored, nil
		}
		return OutcomeFailed, err
	}
	log.Info("subscription activated",
		zap.String("user_id", user.ID),
		zap.String("plan", string(user.Plan)),
	)

	s.enqueueInstance(ctx, user, "checkout")
	return OutcomeApplied, nil
}

func (s *Service) invoicePaid(ctx context.Context, inv *stripe.Invoice) (Outcome, error) {
	log := logger.FromContext(ctx)

	// the first invoice of a subscription is covered by checkout.session.completed
	if inv.BillingReason != stripe.InvoiceBillingReasonSubscriptionCycle {
		return OutcomeIgnored, nil
	}
	if inv.Customer == nil || inv.Customer.ID == "" {
		return OutcomeFailed, fmt.Errorf("%w: invoice without customer", ErrMalformedEvent)
	}

	payment := store.Payment{At: s.now()}
	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			if line == nil || line.Price == nil {
				continue
			}
			if p, ok := s.catalog.PlanForPrice(line.Price.ID); ok {
				payment.Plan = &p
				break
			}
		}
	}

	user, err := s.store.RecordPaymentByCustomer(ctx, inv.Customer.ID, payment)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			log.Warn("renewal for unknown customer", zap.String("customer_id", inv.Customer.ID))
			return OutcomeIgnored, nil
		}
		return OutcomeFailed, err
	}
	log.Info("subscription renewed", zap.String("user_id", user.ID))
	return OutcomeApplied, nil
}

func (s *Service) subscriptionDeleted(ctx context.Context, sub *stripe.Subscription) (Outcome, error) {
	log := logger.FromContext(ctx)

	if sub.Customer == nil || sub.Customer.ID == "" {
		return OutcomeFailed, fmt.Errorf("%w: subscription without customer", ErrMalformedEvent)
	}
	user, err := s.store.DeactivateByCustomer(ctx, sub.Customer.ID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			log.Warn("cancellation for unknown customer", zap.String("customer_id", sub.Customer.ID))
			return OutcomeIgnored, nil
		}
		return OutcomeFailed, err
	}
	log.Info("subscription cancelled", zap.String("user_id", user.ID))
	return OutcomeApplied, nil
}

// enqueueInstance never fails the payment: provisioning can be retried from
// the dashboard.
func (s *Service) enqueueInstance(ctx context.Context, u models.User, reason string) {
	if s.jobs == nil || u.Phone == "" {
		return
	}
	job := models.InstanceJob{
		JobID:  uuid.NewString(),
		UserID: u.ID,
		Phone:  u.Phone,
		Reason: reason,
	}
	if err := s.jobs.Publish(ctx, job); err != nil {
		logger.FromContext(ctx).Error("enqueue instance job failed",
			zap.String("user_id", u.ID),
			zap.Error(err),
		)
	}
}
