// Package queue moves WhatsApp instance jobs from the billing webhook to the
// worker over SQS or RabbitMQ.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/She20222w/AGILIZAP-ONLINE/app/config"
	"github.com/She20222w/AGILIZAP-ONLINE/app/logger"
	"github.com/She20222w/AGILIZAP-ONLINE/app/models"
)

const (
	DriverSQS  = "sqs"
	DriverAMQP = "amqp"
	DriverNone = "none"
)

// ErrPermanent marks a job that will never succeed; consumers drop it
// instead of leaving it for redelivery.
var ErrPermanent = errors.New("permanent job failure")

// JobTimeout bounds a single job.
const JobTimeout = 2 * time.Minute

type Publisher interface {
	Publish(ctx context.Context, job models.InstanceJob) error
}

// Handler processes one job.
type Handler func(ctx context.Context, job models.InstanceJob) error

// Consumer delivers jobs to a handler until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, h Handler) error
	Close() error
}

func encode(job models.InstanceJob) ([]byte, error) {
	return json.Marshal(job)
}

func decode(body []byte) (models.InstanceJob, error) {
	var job models.InstanceJob
	if err := json.Unmarshal(body, &job); err != nil {
		return job, fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	if job.UserID == "" || job.Phone == "" {
		return job, fmt.Errorf("%w: job without user or phone", ErrPermanent)
	}
	return job, nil
}

// handle runs h with the per-job timeout and reports whether the message
// should be removed from the queue.
func handle(ctx context.Context, body []byte, h Handler) (remove bool, err error) {
	job, err := decode(body)
	if err != nil {
		return true, err
	}

	jobCtx, cancel := context.WithTimeout(ctx, JobTimeout)
	defer cancel()
	jobCtx = logger.WithContext(jobCtx, logger.FromContext(ctx).With(zap.String("job_id", job.JobID)))

	if err := h(jobCtx, job); err != nil {
		return errors.Is(err, ErrPermanent), err
	}
	return true, nil
}

// Inline runs jobs in the publishing process. Used when no broker is
// configured.
type Inline struct {
	Handler Handler
}

func (i Inline) Publish(ctx context.Context, job models.InstanceJob) error {
	if i.Handler == nil {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		jobCtx, cancel := context.WithTimeout(ctx, JobTimeout)
		defer cancel()
		if err := i.Handler(jobCtx, job); err != nil {
			logger.FromContext(ctx).Error("inline job failed", zap.String("job_id", job.JobID), zap.Error(err))
		}
	}()
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewPublisher picks the broker from config. fallback handles jobs when the
// driver is "none".
func NewPublisher(ctx context.Context, cfg config.QueueConfig, fallback Handler) (Publisher, io.Closer, error) {
	switch strings.ToLower(cfg.Driver) {
	case DriverSQS:
		q, err := NewSQS(ctx, cfg.QueueURL)
		if err != nil {
			return nil, nil, err
		}
		return q, nopCloser{}, nil
	case DriverAMQP:
		q, err := DialAMQP(cfg.AMQPURL, cfg.AMQPName)
		if err != nil {
			return nil, nil, err
		}
		return q, q, nil
	case DriverNone, "":
		return Inline{Handler: fallback}, nopCloser{}, nil
	}
	return nil, nil, fmt.Errorf("queue.NewPublisher: unknown driver %q", cfg.Driver)
}

// NewConsumer is the worker side of NewPublisher.
func NewConsumer(ctx context.Context, cfg config.QueueConfig) (Consumer, error) {
	switch strings.ToLower(cfg.Driver) {
	case DriverSQS:
		return NewSQS(ctx, cfg.QueueURL)
	case DriverAMQP:
		return DialAMQP(cfg.AMQPURL, cfg.AMQPName)
	}
	return nil, fmt.Errorf("queue.NewConsumer: driver %q has no consumer", cfg.Driver)
}
