package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/She20222w/AGILIZAP-ONLINE/app/logger"
	"github.com/She20222w/AGILIZAP-ONLINE/app/models"
)

// SQSAPI is the subset of *sqs.Client used here.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

type SQSQueue struct {
	client   SQSAPI
	queueURL string

	// poll tuning, overridable in tests
	waitSeconds  int32
	errorBackoff time.Duration
	idleBackoff  time.Duration
}

func NewSQS(ctx context.Context, queueURL string) (*SQSQueue, error) {
	const op = "queue.NewSQS"
	if queueURL == "" {
		return nil, fmt.Errorf("%s: QUEUE_URL is required", op)
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return NewSQSWithClient(sqs.NewFromConfig(awsCfg), queueURL), nil
}

func NewSQSWithClient(client SQSAPI, queueURL string) *SQSQueue {
	return &SQSQueue{
		client:       client,
		queueURL:     queueURL,
		waitSeconds:  20,
		errorBackoff: 5 * time.Second,
		idleBackoff:  2 * time.Second,
	}
}

func (q *SQSQueue) Publish(ctx context.Context, job models.InstanceJob) error {
	const op = "queue.SQSQueue.Publish"
	body, err := encode(job)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Consume long-polls the queue. Failed jobs are left in place so SQS
// redelivers them after the visibility timeout.
func (q *SQSQueue) Consume(ctx context.Context, h Handler) error {
	log := logger.FromContext(ctx)
	log.Info("worker listening on SQS", zap.String("queue_url", q.queueURL))

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		recvCtx, cancel := context.WithTimeout(ctx, time.Duration(q.waitSeconds+10)*time.Second)
		resp, err := q.client.ReceiveMessage(recvCtx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.queueURL),
			MaxNumberOfMessages: 5,
			WaitTimeSeconds:     q.waitSeconds,
			VisibilityTimeout:   int32((JobTimeout + time.Minute) / time.Second),
		})
		cancel()

		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil
			}
			log.Warn("sqs receive failed", zap.Error(err))
			sleep(ctx, q.errorBackoff)
			continue
		}
		if len(resp.Messages) == 0 {
			sleep(ctx, q.idleBackoff)
			continue
		}

		for _, m := range resp.Messages {
			q.process(ctx, m, h)
		}
	}
}

func (q *SQSQueue) process(ctx context.Context, m sqstypes.Message, h Handler) {
	log := logger.FromContext(ctx)
	if m.Body == nil {
		q.delete(ctx, m)
		return
	}
	remove, err := handle(ctx, []byte(*m.Body), h)
	if err != nil {
		log.Warn("job failed", zap.Bool("dropped", remove), zap.Error(err))
	}
	if remove {
		q.delete(ctx, m)
	}
}

func (q *SQSQueue) delete(ctx context.Context, m sqstypes.Message) {
	if m.ReceiptHandle == nil {
		return
	}
	_, err := q.client.DeleteMessage(context.WithoutCancel(ctx), &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: m.ReceiptHandle,
	})
	if err != nil {
		logger.FromContext(ctx).Warn("failed to delete SQS message", zap.Error(err))
	}
}

func (q *SQSQueue) Close() error { return nil }

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
