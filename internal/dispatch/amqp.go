package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"bookforge/internal/domain"
	"bookforge/internal/infra"
	"bookforge/internal/pipeline"
)

// DefaultQueue is used when no queue name is configured.
const DefaultQueue = "bookforge.jobs"

type jobMessage struct {
	JobID string `json:"job_id"`
}

func encodeMessage(jobID string) ([]byte, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, errors.New("dispatch: empty job id")
	}
	return json.Marshal(jobMessage{JobID: jobID})
}

func decodeMessage(body []byte) (string, error) {
	var msg jobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return "", fmt.Errorf("dispatch: decode message: %w", err)
	}
	if strings.TrimSpace(msg.JobID) == "" {
		return "", errors.New("dispatch: message without job id")
	}
	return msg.JobID, nil
}

func declareQueue(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	return err
}

// Publisher dispatches job ids to a durable queue through the default
// exchange.
type Publisher struct {
	mu      sync.Mutex
	channel *amqp.Channel
	queue   string
}

// NewPublisher opens a channel on conn and declares queue.
func NewPublisher(conn *amqp.Connection, queue string) (*Publisher, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("dispatch: open channel: %w", err)
	}
	if err := declareQueue(ch, queue); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("dispatch: declare queue %s: %w", queue, err)
	}
	return &Publisher{channel: ch, queue: queue}, nil
}

// Dispatch publishes a persistent message carrying jobID.
func (p *Publisher) Dispatch(ctx context.Context, jobID string) error {
	body, err := encodeMessage(jobID)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.PublishWithContext(ctx,
		"",
		p.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    jobID,
			Body:         body,
		},
	)
}

// Close releases the channel.
func (p *Publisher) Close() error {
	return p.channel.Close()
}

// Consumer executes job ids delivered on the queue.
type Consumer struct {
	channel  *amqp.Channel
	queue    string
	exec     Executor
	prefetch int
	logger   infra.Logger
}

// NewConsumer opens a channel, declares queue and limits unacknowledged
// deliveries to prefetch, which also bounds concurrent executions.
func NewConsumer(conn *amqp.Connection, queue string, exec Executor, prefetch int, logger infra.Logger) (*Consumer, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	if prefetch < 1 {
		prefetch = 1
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("dispatch: open channel: %w", err)
	}
	if err := declareQueue(ch, queue); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("dispatch: declare queue %s: %w", queue, err)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("dispatch: set qos: %w", err)
	}
	return &Consumer{channel: ch, queue: queue, exec: exec, prefetch: prefetch, logger: logger}, nil
}

func (c *Consumer) Close() error {
	return c.channel.Close()
}

// Start consumes until ctx is cancelled or the channel closes, then waits
// for in-flight jobs.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.queue,
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("dispatch: consume %s: %w", c.queue, err)
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("dispatch: consumer shutting down")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("dispatch: delivery channel closed")
			}
			jobID, err := decodeMessage(msg.Body)
			if err != nil {
				c.logger.Error().Err(err).Msg("dispatch: dropping malformed message")
				_ = msg.Nack(false, false)
				continue
			}
			wg.Add(1)
			go func(msg amqp.Delivery, jobID string) {
				defer wg.Done()
				c.handle(ctx, msg, jobID)
			}(msg, jobID)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg amqp.Delivery, jobID string) {
	err := c.exec.Execute(context.WithoutCancel(ctx), jobID)
	logger := c.logger.With().Str("job_id", jobID).Logger()
	switch settle(err) {
	case ack:
		if err != nil {
			logger.Warn().Err(err).Msg("dispatch: job finished with error")
		}
		if aerr := msg.Ack(false); aerr != nil {
			logger.Error().Err(aerr).Msg("dispatch: ack")
		}
	case requeue:
		logger.Warn().Err(err).Msg("dispatch: job not claimed, requeueing")
		if nerr := msg.Nack(false, true); nerr != nil {
			logger.Error().Err(nerr).Msg("dispatch: nack")
		}
	}
}

type disposition int

const (
	ack disposition = iota
	requeue
)

// settle decides the fate of a delivery. Only claim failures that another
// attempt could fix are requeued; once a job is claimed its record carries
// the outcome.
func settle(err error) disposition {
	if err == nil || !errors.Is(err, pipeline.ErrNotClaimed) {
		return ack
	}
	var transition *domain.InvalidTransitionError
	if errors.As(err, &transition) || errors.Is(err, domain.ErrNotFound) {
		return ack
	}
	return requeue
}
