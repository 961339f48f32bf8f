// Package flows runs the paid audio operations: gate the account, charge a
// minute, call the model, and refund when the model fails.
package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/She20222w/AGILIZAP-ONLINE/app/entitlement"
	"github.com/She20222w/AGILIZAP-ONLINE/app/logger"
	"github.com/She20222w/AGILIZAP-ONLINE/app/metrics"
	"github.com/She20222w/AGILIZAP-ONLINE/app/models"
	"github.com/She20222w/AGILIZAP-ONLINE/app/store"
)

// AccountStore is the slice of the store the runner needs.
type AccountStore interface {
	GetUserByPhone(ctx context.Context, phone string) (models.User, error)
	ReserveMinute(ctx context.Context, id string, check func(*models.User) error) (models.User, error)
	RefundMinute(ctx context.Context, id string) error
}

// AudioLoader resolves a request's audio reference.
type AudioLoader interface {
	Load(ctx context.Context, uri string) (Audio, error)
}

type Request struct {
	UserID    string
	Phone     string
	AudioURI  string
	Operation models.ServiceType // empty: use the account's service type
}

type Result struct {
	Operation     models.ServiceType
	Text          string
	Transcription string
	Summary       string
	WordCount     int
	MinutesUsed   int
	MinutesLimit  int
}

type Runner struct {
	Store   AccountStore
	Audio   AudioLoader
	Model   Model
	Metrics *metrics.Metrics
	Timeout time.Duration
	Now     func() time.Time
}

func NewRunner(s AccountStore, audio AudioLoader, model Model, m *metrics.Metrics, timeout time.Duration) *Runner {
	return &Runner{
		Store:   s,
		Audio:   audio,
		Model:   model,
		Metrics: m,
		Timeout: timeout,
		Now:     time.Now,
	}
}

// Run executes one flow invocation.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	const op = "flows.Runner.Run"
	log := logger.FromContext(ctx)

	userID, err := r.resolveUser(ctx, req)
	if err != nil {
		r.Metrics.ObserveFlow(string(req.Operation), "denied")
		return Result{}, err
	}

	audio, err := r.Audio.Load(ctx, req.AudioURI)
	if err != nil {
		r.Metrics.ObserveFlow(string(req.Operation), "invalid_audio")
		return Result{}, err
	}

	var operation models.ServiceType
	user, err := r.Store.ReserveMinute(ctx, userID, func(u *models.User) error {
		d := entitlement.Evaluate(u, req.Operation, r.Now())
		operation = d.Operation
		return d.Err()
	})
	if err != nil {
		var denial *entitlement.Denial
		switch {
		case errors.As(err, &denial):
			log.Info("flow denied", zap.String("user_id", userID), zap.String("reason", string(denial.Reason)))
			r.Metrics.ObserveFlow(string(req.Operation), "denied")
			return Result{}, denial
		case errors.Is(err, store.ErrUserNotFound):
			r.Metrics.ObserveFlow(string(req.Operation), "denied")
			return Result{}, &entitlement.Denial{Reason: entitlement.ReasonNotFound}
		}
		r.Metrics.ObserveFlow(string(req.Operation), "error")
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}
	r.Metrics.ObserveMinute(string(user.Plan))

	callCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	res, err := r.execute(callCtx, operation, audio)
	if err != nil {
		// the model call failed, so the reserved minute goes back. Use a fresh
		// context in case the request one is already done.
		refundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if rerr := r.Store.RefundMinute(refundCtx, userID); rerr != nil {
			log.Error("refund minute failed", zap.String("user_id", userID), zap.Error(rerr))
		} else {
			user.MinutesUsed--
		}
		log.Warn("flow model call failed",
			zap.String("user_id", userID),
			zap.String("operation", string(operation)),
			zap.Error(err),
		)
		r.Metrics.ObserveFlow(string(operation), "error")
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	res.MinutesUsed = user.MinutesUsed
	res.MinutesLimit = user.Plan.Minutes()
	r.Metrics.ObserveFlow(string(operation), "ok")
	log.Info("flow completed",
		zap.String("user_id", userID),
		zap.String("operation", string(res.Operation)),
		zap.Int("minutes_used", res.MinutesUsed),
	)
	return res, nil
}

func (r *Runner) resolveUser(ctx context.Context, req Request) (string, error) {
	if req.UserID != "" {
		return req.UserID, nil
	}
	if req.Phone == "" {
		return "", &entitlement.Denial{Reason: entitlement.ReasonNotFound}
	}
	u, err := r.Store.GetUserByPhone(ctx, req.Phone)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return "", &entitlement.Denial{Reason: entitlement.ReasonNotFound}
		}
		return "", fmt.Errorf("flows.Runner.resolveUser: %w", err)
	}
	return u.ID, nil
}

func (r *Runner) execute(ctx context.Context, operation models.ServiceType, audio Audio) (Result, error) {
	res := Result{Operation: operation}

	switch operation {
	case models.ServiceTranscribe:
		t, err := r.Model.Transcribe(ctx, audio)
		if err != nil {
			return Result{}, err
		}
		res.Transcription, res.Text = t, t
		res.WordCount = entitlement.CountWords(t)

	case models.ServiceSummarize:
		s, err := r.Model.Summarize(ctx, audio)
		if err != nil {
			return Result{}, err
		}
		res.Summary, res.Text = s, s

	case models.ServiceResumeAndTranscribe:
		t, err := r.Model.Transcribe(ctx, audio)
		if err != nil {
			return Result{}, err
		}
		s, err := r.Model.Summarize(ctx, audio)
		if err != nil {
			return Result{}, err
		}
		res.Transcription, res.Summary = t, s
		res.WordCount = entitlement.CountWords(t)
		res.Text = s + "\n\n" + t

	case models.ServiceAuto:
		t, err := r.Model.Transcribe(ctx, audio)
		if err != nil {
			return Result{}, err
		}
		res.Transcription = t
		res.WordCount = entitlement.CountWords(t)
		if !entitlement.ShouldSummarize(t) {
			res.Text = t
			return res, nil
		}
		s, err := r.Model.Summarize(ctx, audio)
		if err != nil {
			return Result{}, err
		}
		res.Summary, res.Text = s, s

	default:
		return Result{}, &entitlement.Denial{Reason: entitlement.ReasonInvalidOperation}
	}
	return res, nil
}
