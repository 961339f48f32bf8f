package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/She20222w/AGILIZAP-ONLINE/app/billing"
	"github.com/She20222w/AGILIZAP-ONLINE/app/logger"
	"github.com/She20222w/AGILIZAP-ONLINE/app/models"
	"github.com/She20222w/AGILIZAP-ONLINE/app/store"
	"github.com/She20222w/AGILIZAP-ONLINE/app/supabase"
)

// Health is a public health check endpoint. It fails when the database is
// unreachable.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		logger.FromContext(ctx).Error("health: database ping failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Phone    string `json:"phone" validate:"required,e164"`
	Plan     string `json:"plan" validate:"required"`
}

// Signup registers the Supabase identity, stores the account and hands back
// the Stripe Checkout URL for the chosen plan.
func (s *Server) Signup(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = normalizePhone(req.Phone)
	if err := s.validate.Struct(req); err != nil {
		respondError(c, http.StatusBadRequest, validationMessage(err))
		return
	}
	plan, ok := models.ParsePlan(req.Plan)
	if !ok {
		respondError(c, http.StatusBadRequest, "unknown plan")
		return
	}

	authUser, err := s.Auth.SignUp(ctx, supabase.SignupRequest{
		Email:    req.Email,
		Password: req.Password,
		Data: map[string]any{
			"name":  req.Name,
			"phone": req.Phone,
			"plan":  string(plan),
		},
	})
	switch {
	case errors.Is(err, supabase.ErrEmailTaken):
		respondError(c, http.StatusConflict, "email already in use")
		return
	case errors.Is(err, supabase.ErrWeakPassword):
		respondError(c, http.StatusBadRequest, "password is too weak")
		return
	case err != nil:
		log.Error("supabase signup failed", zap.Error(err))
		respondError(c, http.StatusBadGateway, "signup failed, please try again")
		return
	}

	user, err := s.Store.CreateUser(ctx, store.NewUser{
		ID:    authUser.ID,
		Email: req.Email,
		Name:  req.Name,
		Phone: req.Phone,
		Plan:  plan,
	})
	if err != nil {
		if errors.Is(err, store.ErrUserExists) {
			respondError(c, http.StatusConflict, "email already in use")
			return
		}
		log.Error("create account failed", zap.String("user_id", authUser.ID), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to create account")
		return
	}
	log.Info("account created",
		zap.String("user_id", user.ID),
		zap.String("plan", string(user.Plan)),
		zap.String("status", string(user.Status)),
	)

	// the bootstrap reseller never pays
	if user.Status == models.StatusReseller {
		c.JSON(http.StatusCreated, gin.H{"success": true, "status": user.Status})
		return
	}

	url, err := s.Billing.CreateCheckoutSession(ctx, user, plan)
	if err != nil {
		log.Error("signup checkout failed", zap.String("user_id", user.ID), zap.Error(err))
		respondError(c, http.StatusBadGateway, "could not start payment")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"checkoutUrl": url})
}

// Me returns the caller's profile and minute usage.
func (s *Server) Me(c *gin.Context) {
	user, ok := s.currentUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":  user,
		"usage": usageSummary(user, s.now()),
	})
}

type profileRequest struct {
	Name        *string `json:"name"`
	Plan        *string `json:"plan"`
	ServiceType *string `json:"service_type"`
}

// UpdateMe changes the caller's name, plan or service type. A paying
// account switches plans through Checkout, which records the new plan once
// Stripe confirms the payment.
func (s *Server) UpdateMe(c *gin.Context) {
	ctx := c.Request.Context()
	user, ok := s.currentUser(c)
	if !ok {
		return
	}

	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	var upd models.ProfileUpdate
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		upd.Name = &name
	}
	if req.Plan != nil {
		plan, ok := models.ParsePlan(*req.Plan)
		if !ok {
			respondError(c, http.StatusBadRequest, "unknown plan")
			return
		}
		if plan != user.Plan && user.Status == models.StatusActive {
			respondError(c, http.StatusConflict, "plan changes for an active subscription go through checkout")
			return
		}
		upd.Plan = &plan
	}
	if req.ServiceType != nil {
		st, ok := models.ParseServiceType(*req.ServiceType)
		if !ok {
			respondError(c, http.StatusBadRequest, "unknown service_type")
			return
		}
		upd.ServiceType = &st
	}
	if upd == (models.ProfileUpdate{}) {
		respondError(c, http.StatusBadRequest, "nothing to update")
		return
	}

	updated, err := s.Store.UpdateProfile(ctx, user.ID, upd)
	if err != nil {
		logger.FromContext(ctx).Error("update profile failed", zap.String("user_id", user.ID), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to update profile")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":  updated,
		"usage": usageSummary(updated, s.now()),
	})
}

// CancelMe marks the caller inactive. The Stripe subscription is left to
// the billing portal.
func (s *Server) CancelMe(c *gin.Context) {
	ctx := c.Request.Context()
	user, ok := s.currentUser(c)
	if !ok {
		return
	}
	if user.Status == models.StatusReseller {
		respondError(c, http.StatusConflict, "the reseller account cannot be cancelled")
		return
	}
	updated, err := s.Store.UpdateStatus(ctx, user.ID, models.StatusInactive)
	if err != nil {
		logger.FromContext(ctx).Error("cancel account failed", zap.String("user_id", user.ID), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to cancel account")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": updated.Status})
}

// billingError maps billing failures that are the caller's fault.
func billingError(err error) (int, string) {
	switch {
	case errors.Is(err, billing.ErrUnknownPlan):
		return http.StatusBadRequest, "unknown plan"
	case errors.Is(err, billing.ErrNoCustomer):
		return http.StatusConflict, "no billing account yet, complete a checkout first"
	case errors.Is(err, billing.ErrNotConfigured):
		return http.StatusServiceUnavailable, "billing not configured"
	}
	return http.StatusBadGateway, "billing provider error"
}
