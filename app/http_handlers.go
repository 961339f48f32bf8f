package app

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/She20222w/AGILIZAP-ONLINE/app/entitlement"
	"github.com/She20222w/AGILIZAP-ONLINE/app/flows"
	"github.com/She20222w/AGILIZAP-ONLINE/app/logger"
	"github.com/She20222w/AGILIZAP-ONLINE/app/models"
	"github.com/She20222w/AGILIZAP-ONLINE/app/whatsapp"
)

// RunFlow serves one audio operation for the WhatsApp bridge. An empty
// operation uses the account's configured service type.
func (s *Server) RunFlow(operation models.ServiceType) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		log := logger.FromContext(ctx)

		var req models.FlowRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.AudioDataURI == "" {
			respondError(c, http.StatusBadRequest, "audioDataUri is required")
			return
		}
		if req.UserID == "" && req.Phone == "" {
			respondError(c, http.StatusBadRequest, "userId or phone is required")
			return
		}

		res, err := s.Flows.Run(ctx, flows.Request{
			UserID:    req.UserID,
			Phone:     normalizePhone(req.Phone),
			AudioURI:  req.AudioDataURI,
			Operation: operation,
		})
		if err != nil {
			var denial *entitlement.Denial
			switch {
			case errors.As(err, &denial):
				respondDenial(c, denial)
			case errors.Is(err, flows.ErrInvalidAudio):
				respondError(c, http.StatusBadRequest, "invalid audio")
			case errors.Is(err, context.DeadlineExceeded):
				respondError(c, http.StatusGatewayTimeout, "audio processing timed out")
			default:
				log.Error("flow failed", zap.String("operation", string(operation)), zap.Error(err))
				respondError(c, http.StatusBadGateway, "audio processing failed")
			}
			return
		}

		c.JSON(http.StatusOK, models.FlowResponse{
			Operation:     res.Operation,
			Result:        res.Text,
			Transcription: res.Transcription,
			Summary:       res.Summary,
			WordCount:     res.WordCount,
			MinutesUsed:   res.MinutesUsed,
			MinutesLimit:  res.MinutesLimit,
		})
	}
}

// activeUser is currentUser restricted to accounts that may use the service.
func (s *Server) activeUser(c *gin.Context) (models.User, bool) {
	user, ok := s.currentUser(c)
	if !ok {
		return models.User{}, false
	}
	if !entitlement.IsActive(&user) {
		respondDenial(c, &entitlement.Denial{Reason: entitlement.ReasonInactive})
		return models.User{}, false
	}
	return user, true
}

func bridgeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, whatsapp.ErrNotConfigured):
		respondError(c, http.StatusServiceUnavailable, "whatsapp bridge not configured")
	case errors.Is(err, whatsapp.ErrAlreadyConnected):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"success": false, "error": "whatsapp is already connected"})
	default:
		logger.FromContext(c.Request.Context()).Error("whatsapp bridge call failed", zap.Error(err))
		respondError(c, http.StatusBadGateway, "whatsapp bridge error")
	}
}

// CreateInstance asks the bridge for the caller's instance. Normally the
// payment webhook does this through the job queue.
func (s *Server) CreateInstance(c *gin.Context) {
	user, ok := s.activeUser(c)
	if !ok {
		return
	}
	res, err := s.Bridge.CreateInstance(c.Request.Context(), user.Phone)
	if err != nil {
		bridgeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type qrCodeRequest struct {
	ServiceType string `json:"serviceType"`
}

// GenerateQRCode returns a pairing image for the caller's phone.
func (s *Server) GenerateQRCode(c *gin.Context) {
	user, ok := s.activeUser(c)
	if !ok {
		return
	}

	var req qrCodeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	service := entitlement.ResolveOperation(&user, "")
	if req.ServiceType != "" {
		st, ok := models.ParseServiceType(req.ServiceType)
		if !ok {
			respondError(c, http.StatusBadRequest, "unknown serviceType")
			return
		}
		service = st
	}

	img, err := s.Bridge.GenerateQRCode(c.Request.Context(), user.Phone, service)
	if err != nil {
		bridgeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "qrCode": img})
}

// VerifyConnection reports whether the caller's WhatsApp is paired. It does
// not touch the account status; only payments and the admin do.
func (s *Server) VerifyConnection(c *gin.Context) {
	user, ok := s.currentUser(c)
	if !ok {
		return
	}
	st, err := s.Bridge.CheckStatus(c.Request.Context(), user.Phone)
	if err != nil {
		bridgeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": st.Connected, "state": st.State})
}
