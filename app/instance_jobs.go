package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/She20222w/AGILIZAP-ONLINE/app/logger"
	"github.com/She20222w/AGILIZAP-ONLINE/app/metrics"
	"github.com/She20222w/AGILIZAP-ONLINE/app/models"
	"github.com/She20222w/AGILIZAP-ONLINE/app/queue"
	"github.com/She20222w/AGILIZAP-ONLINE/app/whatsapp"
)

type InstanceCreator interface {
	CreateInstance(ctx context.Context, phone string) (whatsapp.InstanceResult, error)
}

// InstanceWorker provisions WhatsApp bridge instances for paid accounts.
type InstanceWorker struct {
	Bridge  InstanceCreator
	Metrics *metrics.Metrics
}

// ProcessInstanceJob is the queue.Handler for instance jobs. Errors that a
// retry cannot fix are marked queue.ErrPermanent.
func (w *InstanceWorker) ProcessInstanceJob(ctx context.Context, job models.InstanceJob) error {
	const op = "app.ProcessInstanceJob"
	log := logger.FromContext(ctx).With(
		zap.String("job_id", job.JobID),
		zap.String("user_id", job.UserID),
		zap.String("reason", job.Reason),
	)

	if job.Phone == "" {
		w.Metrics.ObserveJob("dropped")
		return fmt.Errorf("%s: job without phone: %w", op, queue.ErrPermanent)
	}

	res, err := w.Bridge.CreateInstance(ctx, job.Phone)
	if err != nil {
		if errors.Is(err, whatsapp.ErrNotConfigured) {
			w.Metrics.ObserveJob("dropped")
			log.Warn("instance job dropped, bridge not configured")
			return fmt.Errorf("%s: %w: %v", op, queue.ErrPermanent, err)
		}
		w.Metrics.ObserveJob("failed")
		log.Error("create instance failed", zap.Error(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	w.Metrics.ObserveJob("ok")
	log.Info("whatsapp instance created", zap.Bool("success", res.Success), zap.String("message", res.Message))
	return nil
}
