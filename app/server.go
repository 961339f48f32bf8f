// Package app wires the HTTP surface: accounts, billing, audio flows, the
// WhatsApp bridge and the reseller admin.
package app

import (
	"context"
	"time"

	"github.com/go-playground/validator"

	"github.com/She20222w/AGILIZAP-ONLINE/app/billing"
	"github.com/She20222w/AGILIZAP-ONLINE/app/config"
	"github.com/She20222w/AGILIZAP-ONLINE/app/flows"
	"github.com/She20222w/AGILIZAP-ONLINE/app/metrics"
	"github.com/She20222w/AGILIZAP-ONLINE/app/models"
	"github.com/She20222w/AGILIZAP-ONLINE/app/queue"
	"github.com/She20222w/AGILIZAP-ONLINE/app/store"
	"github.com/She20222w/AGILIZAP-ONLINE/app/supabase"
	"github.com/She20222w/AGILIZAP-ONLINE/app/whatsapp"
	"github.com/She20222w/AGILIZAP-ONLINE/auth"
)

// AccountStore is the part of store.Store the handlers use.
type AccountStore interface {
	Ping(ctx context.Context) error
	CreateUser(ctx context.Context, nu store.NewUser) (models.User, error)
	GetUser(ctx context.Context, id string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	UpdateProfile(ctx context.Context, id string, upd models.ProfileUpdate) (models.User, error)
	UpdateStatus(ctx context.Context, id string, status models.Status) (models.User, error)
	RecordPayment(ctx context.Context, id string, p store.Payment) (models.User, error)
	ResetMinutes(ctx context.Context, id string) (models.User, error)
}

type FlowRunner interface {
	Run(ctx context.Context, req flows.Request) (flows.Result, error)
}

type Billing interface {
	Catalog() billing.Catalog
	CreateCheckoutSession(ctx context.Context, u models.User, plan models.Plan) (string, error)
	CreatePortalSession(ctx context.Context, u models.User) (string, error)
	HandleWebhook(ctx context.Context, payload []byte, sigHeader string) (billing.Outcome, error)
}

type AuthProvider interface {
	SignUp(ctx context.Context, req supabase.SignupRequest) (supabase.AuthUser, error)
}

type Bridge interface {
	CreateInstance(ctx context.Context, phone string) (whatsapp.InstanceResult, error)
	GenerateQRCode(ctx context.Context, phone string, service models.ServiceType) (string, error)
	CheckStatus(ctx context.Context, phone string) (whatsapp.Status, error)
}

// Deps are the collaborators a Server is built from. Jobs may be nil.
type Deps struct {
	Store    AccountStore
	Flows    FlowRunner
	Billing  Billing
	Auth     AuthProvider
	Bridge   Bridge
	Jobs     queue.Publisher
	Metrics  *metrics.Metrics
	Verifier *auth.Verifier
}

// Server holds the collaborators shared by every handler.
type Server struct {
	Deps
	Config *config.Config

	validate *validator.Validate
	now      func() time.Time
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	validate := validator.New()
	validate.RegisterTagNameFunc(jsonFieldName)
	return &Server{
		Deps:     deps,
		Config:   cfg,
		validate: validate,
		now:      time.Now,
	}
}
