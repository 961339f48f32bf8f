package app

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/She20222w/AGILIZAP-ONLINE/app/billing"
	"github.com/She20222w/AGILIZAP-ONLINE/app/logger"
	"github.com/She20222w/AGILIZAP-ONLINE/app/models"
)

type checkoutRequest struct {
	Plan string `json:"plan"`
}

// CreateCheckoutSession starts a Stripe Checkout Session for the
// authenticated user. Without a plan in the body the account's plan is sold.
func (s *Server) CreateCheckoutSession(c *gin.Context) {
	ctx := c.Request.Context()
	user, ok := s.currentUser(c)
	if !ok {
		return
	}

	var req checkoutRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	plan := user.Plan
	if req.Plan != "" {
		p, ok := models.ParsePlan(req.Plan)
		if !ok {
			respondError(c, http.StatusBadRequest, "unknown plan")
			return
		}
		plan = p
	}

	url, err := s.Billing.CreateCheckoutSession(ctx, user, plan)
	if err != nil {
		logger.FromContext(ctx).Error("stripe checkout session failed", zap.String("user_id", user.ID), zap.Error(err))
		status, msg := billingError(err)
		respondError(c, status, msg)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// CreatePortalSession creates a Stripe Customer Portal session for the
// authenticated user.
func (s *Server) CreatePortalSession(c *gin.Context) {
	ctx := c.Request.Context()
	user, ok := s.currentUser(c)
	if !ok {
		return
	}

	url, err := s.Billing.CreatePortalSession(ctx, user)
	if err != nil {
		logger.FromContext(ctx).Error("stripe portal session failed", zap.String("user_id", user.ID), zap.Error(err))
		status, msg := billingError(err)
		respondError(c, status, msg)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// Plans lists the plans on sale.
func (s *Server) Plans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"plans": s.Billing.Catalog().Products()})
}

// StripeWebhook verifies and applies a Stripe event. Bad signatures and
// malformed payloads answer 400; storage failures answer 500 so Stripe
// delivers the event again.
func (s *Server) StripeWebhook(c *gin.Context) {
	const maxBodyBytes = int64(65536)
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		log.Warn("stripe webhook read failed", zap.Error(err))
		respondError(c, http.StatusBadRequest, "invalid payload")
		return
	}

	outcome, err := s.Billing.HandleWebhook(ctx, body, c.GetHeader("Stripe-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrInvalidSignature):
			respondError(c, http.StatusBadRequest, "signature verification failed")
		case errors.Is(err, billing.ErrMalformedEvent):
			log.Warn("stripe webhook payload rejected", zap.Error(err))
			respondError(c, http.StatusBadRequest, "invalid event payload")
		case errors.Is(err, billing.ErrNotConfigured):
			log.Error("stripe webhook secret missing")
			respondError(c, http.StatusInternalServerError, "webhook not configured")
		default:
			log.Error("stripe webhook apply failed", zap.Error(err))
			respondError(c, http.StatusInternalServerError, "failed to apply event")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "outcome": outcome})
}
