package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/She20222w/AGILIZAP-ONLINE/app/config"
	"github.com/She20222w/AGILIZAP-ONLINE/app/models"
)

type fakeSQS struct {
	mu       sync.Mutex
	sent     []string
	inbox    []sqstypes.Message
	deleted  []string
	received chan struct{}
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	msgs := f.inbox
	f.inbox = nil
	f.mu.Unlock()
	if len(msgs) == 0 {
		select {
		case f.received <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func msg(handle, body string) sqstypes.Message {
	return sqstypes.Message{ReceiptHandle: aws.String(handle), Body: aws.String(body)}
}

func TestSQSPublishEncodesJob(t *testing.T) {
	f := &fakeSQS{}
	q := NewSQSWithClient(f, "https://sqs.local/queue")

	err := q.Publish(context.Background(), models.InstanceJob{JobID: "j1", UserID: "u1", Phone: "551199", Reason: "checkout"})
	require.NoError(t, err)
	require.Len(t, f.sent, 1)
	assert.JSONEq(t, `{"job_id":"j1","user_id":"u1","phone":"551199","reason":"checkout"}`, f.sent[0])
}

func TestSQSConsumeDeletesHandledAndPoisonMessages(t *testing.T) {
	f := &fakeSQS{
		received: make(chan struct{}, 1),
		inbox: []sqstypes.Message{
			msg("ok", `{"job_id":"j1","user_id":"u1","phone":"551199"}`),
			msg("retry", `{"job_id":"j2","user_id":"u2","phone":"551188"}`),
			msg("poison", `not json`),
			msg("permanent", `{"job_id":"j3","user_id":"u3","phone":"551177"}`),
		},
	}
	q := NewSQSWithClient(f, "https://sqs.local/queue")
	q.waitSeconds = 0

	ctx, cancel := context.WithCancel(context.Background())
	var handled []string
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(ctx, func(_ context.Context, job models.InstanceJob) error {
			handled = append(handled, job.JobID)
			switch job.JobID {
			case "j2":
				return errors.New("bridge unavailable")
			case "j3":
				return ErrPermanent
			}
			return nil
		})
	}()

	select {
	case <-f.received:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer never drained the inbox")
	}
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"j1", "j2", "j3"}, handled)
	assert.ElementsMatch(t, []string{"ok", "poison", "permanent"}, f.deleted)
}

func TestDecodeRejectsIncompleteJobs(t *testing.T) {
	_, err := decode([]byte(`{"job_id":"j1"}`))
	assert.ErrorIs(t, err, ErrPermanent)

	job, err := decode([]byte(`{"job_id":"j1","user_id":"u","phone":"1"}`))
	require.NoError(t, err)
	assert.Equal(t, "u", job.UserID)
}

func TestInlinePublisherRunsHandler(t *testing.T) {
	got := make(chan models.InstanceJob, 1)
	p := Inline{Handler: func(_ context.Context, job models.InstanceJob) error {
		got <- job
		return nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Publish(ctx, models.InstanceJob{JobID: "j1"}))
	// the request context ending must not abort the job
	cancel()

	select {
	case job := <-got:
		assert.Equal(t, "j1", job.JobID)
	case <-time.After(2 * time.Second):
		t.Fatal("inline handler not called")
	}

	assert.NoError(t, Inline{}.Publish(context.Background(), models.InstanceJob{}))
}

func TestNewPublisherDrivers(t *testing.T) {
	p, closer, err := NewPublisher(context.Background(), config.QueueConfig{Driver: "none"}, nil)
	require.NoError(t, err)
	assert.IsType(t, Inline{}, p)
	assert.NoError(t, closer.Close())

	_, _, err = NewPublisher(context.Background(), config.QueueConfig{Driver: "kafka"}, nil)
	assert.Error(t, err)

	_, _, err = NewPublisher(context.Background(), config.QueueConfig{Driver: "sqs"}, nil)
	assert.Error(t, err, "sqs without QUEUE_URL")

	_, err = NewConsumer(context.Background(), config.QueueConfig{Driver: "none"})
	assert.Error(t, err)
}
