package app

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/She20222w/AGILIZAP-ONLINE/app/logger"
	"github.com/She20222w/AGILIZAP-ONLINE/app/models"
	"github.com/She20222w/AGILIZAP-ONLINE/auth"
)

// NewRouter builds the shared HTTP router for both local and Lambda execution.
func NewRouter(s *Server, base *zap.Logger) *gin.Engine {
	if s.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.Middleware(base))
	if s.Metrics != nil {
		router.Use(s.Metrics.Middleware())
		router.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins: s.Config.HTTP.AllowOrigins,
		AllowMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", logger.RequestIDHeader},
		MaxAge:       12 * time.Hour,
	}))

	router.GET("/health", s.Health)

	api := router.Group("/api")
	api.GET("/plans", s.Plans)
	api.POST("/stripe/webhook", s.StripeWebhook)
	api.POST("/signup", RateLimit(s.Config.Flows.SignupPerSec, s.Config.Flows.SignupBurst), s.Signup)

	flowRoutes := api.Group("/flows")
	flowRoutes.Use(
		RequireServiceKey(s.Config.Flows.ServiceKey),
		RateLimit(s.Config.Flows.RatePerSecond, s.Config.Flows.RateBurst),
	)
	flowRoutes.POST("/transcribe", s.RunFlow(models.ServiceTranscribe))
	flowRoutes.POST("/summarize", s.RunFlow(models.ServiceSummarize))
	flowRoutes.POST("/resume-and-transcribe", s.RunFlow(models.ServiceResumeAndTranscribe))
	flowRoutes.POST("/auto", s.RunFlow(models.ServiceAuto))
	flowRoutes.POST("/process", s.RunFlow(""))

	protected := api.Group("/")
	protected.Use(auth.Middleware(s.Verifier, auth.MiddlewareConfig{
		DisableAuth: s.Config.Supabase.AuthDisabled && !s.Config.IsProduction(),
	}))
	protected.GET("/me", s.Me)
	protected.PATCH("/me", s.UpdateMe)
	protected.POST("/me/cancel", s.CancelMe)
	protected.POST("/billing/create-checkout-session", s.CreateCheckoutSession)
	protected.POST("/billing/portal-session", s.CreatePortalSession)
	protected.POST("/whatsapp/instance", s.CreateInstance)
	protected.POST("/whatsapp/qrcode", s.GenerateQRCode)
	protected.POST("/whatsapp/verify", s.VerifyConnection)

	admin := protected.Group("/admin")
	admin.Use(s.RequireReseller())
	admin.GET("/users", s.ListUsers)
	admin.PATCH("/users/:id/status", s.UpdateUserStatus)
	admin.POST("/users/:id/renew", s.RenewUser)
	admin.POST("/users/:id/reset-minutes", s.ResetUserMinutes)

	return router
}
