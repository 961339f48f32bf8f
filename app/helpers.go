package app

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator"
	"go.uber.org/zap"

	"github.com/She20222w/AGILIZAP-ONLINE/app/entitlement"
	"github.com/She20222w/AGILIZAP-ONLINE/app/logger"
	"github.com/She20222w/AGILIZAP-ONLINE/app/models"
	"github.com/She20222w/AGILIZAP-ONLINE/app/store"
	"github.com/She20222w/AGILIZAP-ONLINE/auth"
)

// jsonFieldName makes validation messages name the JSON field instead of
// the Go struct field.
func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return fld.Name
	}
	return name
}

// validationMessage turns validator errors into one readable line.
func validationMessage(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return "invalid request body"
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		switch e.ActualTag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("field %s is a required field", e.Field()))
		case "email":
			msgs = append(msgs, fmt.Sprintf("field %s must be a valid email", e.Field()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("field %s must be at least %s characters", e.Field(), e.Param()))
		case "e164":
			msgs = append(msgs, fmt.Sprintf("field %s must be an international phone number (e.g. +5511999999999)", e.Field()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("field %s must be one of: %s", e.Field(), e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("field %s is not valid", e.Field()))
		}
	}
	return strings.Join(msgs, ", ")
}

// normalizePhone drops formatting so "+55 (11) 99999-0000" and
// "5511999990000" both become "+5511999990000".
func normalizePhone(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "+" + b.String()
}

func respondError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// denialStatus maps entitlement reasons to HTTP: unknown account 404,
// unpaid or exhausted 402, everything else 403.
func denialStatus(d *entitlement.Denial) int {
	switch d.Reason {
	case entitlement.ReasonNotFound:
		return http.StatusNotFound
	case entitlement.ReasonNoPayment, entitlement.ReasonExpired, entitlement.ReasonMinutesExhausted:
		return http.StatusPaymentRequired
	case entitlement.ReasonInvalidOperation:
		return http.StatusBadRequest
	}
	return http.StatusForbidden
}

func respondDenial(c *gin.Context, d *entitlement.Denial) {
	body := gin.H{"error": d.Error(), "reason": d.Reason}
	if d.Reason == entitlement.ReasonMinutesExhausted {
		body["minutesUsed"] = d.Used
		body["minutesLimit"] = d.Limit
	}
	c.AbortWithStatusJSON(denialStatus(d), body)
}

// currentUser loads the account of the authenticated caller. Accounts that
// exist in Supabase but never reached our table (signup aborted half way)
// are created from the token's user metadata.
func (s *Server) currentUser(c *gin.Context) (models.User, bool) {
	ctx := c.Request.Context()
	claims, ok := auth.ClaimsFromContext(ctx)
	if !ok {
		respondError(c, http.StatusUnauthorized, "missing auth context")
		return models.User{}, false
	}

	user, err := s.Store.GetUser(ctx, claims.Subject)
	if errors.Is(err, store.ErrUserNotFound) {
		user, err = s.provisionFromClaims(c, claims)
	}
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			respondError(c, http.StatusNotFound, "account not found")
			return models.User{}, false
		}
		logger.FromContext(ctx).Error("load account failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to load account")
		return models.User{}, false
	}
	return user, true
}

func (s *Server) provisionFromClaims(c *gin.Context, claims *auth.Claims) (models.User, error) {
	phone := normalizePhone(claims.UserMetadata("phone"))
	if phone == "" {
		phone = normalizePhone(claims.Phone)
	}
	if claims.Email == "" || phone == "" {
		return models.User{}, store.ErrUserNotFound
	}
	plan, ok := models.ParsePlan(claims.UserMetadata("plan"))
	if !ok {
		plan = models.PlanPersonal
	}

	user, err := s.Store.CreateUser(c.Request.Context(), store.NewUser{
		ID:    claims.Subject,
		Email: claims.Email,
		Name:  strings.TrimSpace(claims.UserMetadata("name")),
		Phone: phone,
		Plan:  plan,
	})
	if errors.Is(err, store.ErrUserExists) {
		return s.Store.GetUser(c.Request.Context(), claims.Subject)
	}
	if err == nil {
		logger.FromContext(c.Request.Context()).Info("account provisioned from token",
			zap.String("user_id", user.ID),
			zap.String("status", string(user.Status)),
		)
	}
	return user, err
}
