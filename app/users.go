package app

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/She20222w/AGILIZAP-ONLINE/app/logger"
	"github.com/She20222w/AGILIZAP-ONLINE/app/models"
	"github.com/She20222w/AGILIZAP-ONLINE/app/store"
)

const adminUserKey = "admin_user"

// RequireReseller lets only the reseller account through to the admin routes.
func (s *Server) RequireReseller() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := s.currentUser(c)
		if !ok {
			return
		}
		if user.Status != models.StatusReseller {
			logger.FromContext(c.Request.Context()).Info("admin access denied", zap.String("user_id", user.ID))
			respondError(c, http.StatusForbidden, "admin access only")
			return
		}
		c.Set(adminUserKey, user)
		c.Next()
	}
}

type adminUser struct {
	models.User
	Usage models.UsageSummary `json:"usage"`
}

// ListUsers returns every account, newest first.
func (s *Server) ListUsers(c *gin.Context) {
	ctx := c.Request.Context()
	users, err := s.Store.ListUsers(ctx)
	if err != nil {
		logger.FromContext(ctx).Error("list users failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to list users")
		return
	}
	now := s.now()
	out := make([]adminUser, 0, len(users))
	for _, u := range users {
		out = append(out, adminUser{User: u, Usage: usageSummary(u, now)})
	}
	c.JSON(http.StatusOK, gin.H{"users": out, "count": len(out)})
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=active inactive reseller"`
}

// UpdateUserStatus is the admin status switch.
func (s *Server) UpdateUserStatus(c *gin.Context) {
	ctx := c.Request.Context()

	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(c, http.StatusBadRequest, validationMessage(err))
		return
	}
	status, _ := models.ParseStatus(req.Status)

	id := c.Param("id")
	if admin, ok := c.Get(adminUserKey); ok && admin.(models.User).ID == id && status != models.StatusReseller {
		respondError(c, http.StatusConflict, "the reseller cannot demote itself")
		return
	}

	user, err := s.Store.UpdateStatus(ctx, id, status)
	if !s.adminResult(c, user, err) {
		return
	}
	logger.FromContext(ctx).Info("admin status change", zap.String("target_id", id), zap.String("status", string(status)))
}

// RenewUser records a manual payment: active, paid now, minutes reset. The
// account's bridge instance is provisioned again like after a checkout.
func (s *Server) RenewUser(c *gin.Context) {
	ctx := c.Request.Context()
	user, err := s.Store.RecordPayment(ctx, c.Param("id"), store.Payment{At: s.now()})
	if !s.adminResult(c, user, err) {
		return
	}
	log := logger.FromContext(ctx)
	log.Info("admin renewal", zap.String("target_id", user.ID))

	if s.Jobs == nil || user.Phone == "" {
		return
	}
	job := models.InstanceJob{
		JobID:  uuid.NewString(),
		UserID: user.ID,
		Phone:  user.Phone,
		Reason: "admin",
	}
	if err := s.Jobs.Publish(ctx, job); err != nil {
		log.Error("enqueue instance job failed", zap.String("user_id", user.ID), zap.Error(err))
	}
}

// ResetUserMinutes zeroes the minute counter without touching the payment.
func (s *Server) ResetUserMinutes(c *gin.Context) {
	user, err := s.Store.ResetMinutes(c.Request.Context(), c.Param("id"))
	s.adminResult(c, user, err)
}

func (s *Server) adminResult(c *gin.Context, user models.User, err error) bool {
	switch {
	case errors.Is(err, store.ErrUserNotFound):
		respondError(c, http.StatusNotFound, "user not found")
		return false
	case errors.Is(err, store.ErrResellerExists):
		respondError(c, http.StatusConflict, "a reseller account already exists")
		return false
	case err != nil:
		logger.FromContext(c.Request.Context()).Error("admin update failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to update user")
		return false
	}
	c.JSON(http.StatusOK, adminUser{User: user, Usage: usageSummary(user, s.now())})
	return true
}
