package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/She20222w/AGILIZAP-ONLINE/app/billing"
	"github.com/She20222w/AGILIZAP-ONLINE/app/cache"
	"github.com/She20222w/AGILIZAP-ONLINE/app/config"
	"github.com/She20222w/AGILIZAP-ONLINE/app/flows"
	"github.com/She20222w/AGILIZAP-ONLINE/app/logger"
	"github.com/She20222w/AGILIZAP-ONLINE/app/metrics"
	"github.com/She20222w/AGILIZAP-ONLINE/app/queue"
	"github.com/She20222w/AGILIZAP-ONLINE/app/store"
	"github.com/She20222w/AGILIZAP-ONLINE/app/supabase"
	"github.com/She20222w/AGILIZAP-ONLINE/app/whatsapp"
	"github.com/She20222w/AGILIZAP-ONLINE/auth"
)

const ServiceName = "agilizap"

// App is a fully wired API process.
type App struct {
	Server *Server
	Worker *InstanceWorker

	closers []io.Closer
}

// Close releases connections in reverse creation order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewLogger builds the process logger from the Logs section.
func NewLogger(cfg *config.Config, component string) (*zap.Logger, error) {
	return logger.New(logger.Config{
		Level:       cfg.Logs.Level,
		Style:       cfg.Logs.Style,
		Environment: cfg.Env,
		ServiceName: ServiceName + "-" + component,
	})
}

// NewInstanceWorker builds the queue handler that provisions bridge
// instances.
func NewInstanceWorker(cfg *config.Config, m *metrics.Metrics) *InstanceWorker {
	return &InstanceWorker{
		Bridge:  whatsapp.NewClient(cfg.WhatsApp),
		Metrics: m,
	}
}

// Build connects every collaborator described by cfg. Optional pieces
// (Redis, the model, the queue broker) degrade with a warning outside
// production.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	const op = "app.Build"
	a := &App{}
	fail := func(err error) (*App, error) {
		_ = a.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	st, err := store.New(ctx, cfg.DB.ConnString())
	if err != nil {
		return fail(err)
	}
	a.closers = append(a.closers, st)
	if cfg.DB.AutoMigrate {
		if err := st.Migrate(); err != nil {
			return fail(err)
		}
		log.Info("database migrations applied")
	}

	m := metrics.New(ServiceName, nil)
	bridge := whatsapp.NewClient(cfg.WhatsApp)
	a.Worker = &InstanceWorker{Bridge: bridge, Metrics: m}

	jobs, jobsCloser, err := queue.NewPublisher(ctx, cfg.Queue, a.Worker.ProcessInstanceJob)
	if err != nil {
		return fail(err)
	}
	a.closers = append(a.closers, jobsCloser)
	log.Info("instance job queue ready", zap.String("driver", cfg.Queue.Driver))

	var dedup billing.Deduper
	if cfg.Redis.Address != "" {
		rc, err := cache.InitServer(ctx, cfg.Redis)
		if err != nil {
			if cfg.IsProduction() {
				return fail(err)
			}
			log.Warn("redis unavailable, webhook de-duplication disabled", zap.Error(err))
		} else {
			a.closers = append(a.closers, rc)
			dedup = rc
		}
	} else {
		log.Warn("REDIS_ADDRESS not set, webhook de-duplication disabled")
	}

	billingSvc := billing.NewService(
		st,
		billing.NewStripeGateway(cfg.Stripe.SecretKey),
		billing.NewCatalog(cfg.Stripe),
		dedup,
		jobs,
		m,
		billing.Options{
			SiteURL:       cfg.Stripe.FrontendURL,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			DedupTTL:      cfg.Stripe.WebhookDedupWindow,
		},
	)

	var model flows.Model = flows.NoModel{}
	if cfg.AI.APIKey != "" {
		gm, err := flows.NewGeminiModel(ctx, cfg.AI.APIKey, cfg.AI.Model)
		if err != nil {
			return fail(err)
		}
		model = gm
	} else if cfg.IsProduction() {
		return fail(errors.New("GEMINI_API_KEY is required in production"))
	} else {
		log.Warn("GEMINI_API_KEY not set, flows will fail")
	}
	runner := flows.NewRunner(st, flows.NewLoader(cfg.AI.MaxAudioBytes), model, m, cfg.AI.Timeout)

	authDisabled := cfg.Supabase.AuthDisabled && !cfg.IsProduction()
	verifier, err := auth.NewVerifier(auth.Options{
		Issuer:     cfg.Supabase.Issuer(),
		Audience:   cfg.Supabase.Audience,
		JWKSURL:    cfg.Supabase.JWKSURL,
		HMACSecret: cfg.Supabase.JWTSecret,
	})
	if err != nil {
		if !authDisabled {
			return fail(err)
		}
		log.Warn("auth disabled, running without a token verifier", zap.Error(err))
	}

	a.Server = NewServer(cfg, Deps{
		Store:    st,
		Flows:    runner,
		Billing:  billingSvc,
		Auth:     supabase.NewClient(cfg.Supabase.URL, cfg.Supabase.AnonKey),
		Bridge:   bridge,
		Jobs:     jobs,
		Metrics:  m,
		Verifier: verifier,
	})
	return a, nil
}
