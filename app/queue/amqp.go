package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/She20222w/AGILIZAP-ONLINE/app/logger"
	"github.com/She20222w/AGILIZAP-ONLINE/app/models"
)

// AMQPQueue publishes to and consumes from one durable RabbitMQ queue
// through the default exchange.
type AMQPQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func Connect(connection string, retries int, delay time.Duration) (*amqp.Connection, error) {
	const op = "queue.Connect"
	var (
		conn *amqp.Connection
		err  error
	)
	for range retries {
		conn, err = amqp.Dial(connection)
		if err == nil {
			return conn, nil
		}
		time.Sleep(delay)
	}
	return nil, fmt.Errorf("%s: %w", op, err)
}

func DialAMQP(url, queueName string) (*AMQPQueue, error) {
	const op = "queue.DialAMQP"
	if url == "" {
		return nil, fmt.Errorf("%s: AMQP_URL is required", op)
	}
	conn, err := Connect(url, 3, time.Second)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	q, err := newAMQPQueue(conn, queueName)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return q, nil
}

func newAMQPQueue(conn *amqp.Connection, queueName string) (*AMQPQueue, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	// one job at a time per worker
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}
	if _, err := ch.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}
	return &AMQPQueue{conn: conn, ch: ch, queue: queueName}, nil
}

func (q *AMQPQueue) Publish(_ context.Context, job models.InstanceJob) error {
	const op = "queue.AMQPQueue.Publish"
	body, err := encode(job)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	err = q.ch.Publish(
		"",
		q.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    job.JobID,
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Consume processes deliveries one by one. Transient failures are nacked
// with requeue.
func (q *AMQPQueue) Consume(ctx context.Context, h Handler) error {
	const op = "queue.AMQPQueue.Consume"
	log := logger.FromContext(ctx)

	deliveries, err := q.ch.Consume(
		q.queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	log.Info("worker listening on RabbitMQ", zap.String("queue", q.queue))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("%s: delivery channel closed", op)
			}
			remove, err := handle(ctx, d.Body, h)
			if err != nil {
				log.Warn("job failed", zap.Bool("dropped", remove), zap.Error(err))
			}
			if remove {
				if ackErr := d.Ack(false); ackErr != nil {
					log.Warn("failed to ack message", zap.Error(ackErr))
				}
				continue
			}
			if nackErr := d.Nack(false, true); nackErr != nil {
				log.Warn("failed to nack message", zap.Error(nackErr))
			}
		}
	}
}

func (q *AMQPQueue) Close() error {
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
