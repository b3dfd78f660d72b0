// Package queue ships routing events to SQS for the analytics pipeline.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/felipepmaragno/model-router/internal/domain"
)

type Queue interface {
	SendEvent(ctx context.Context, event domain.RouteEvent) error
}

// SQSSender is the subset of the SQS client used here.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type SQSQueue struct {
	client   SQSSender
	queueURL string
}

func NewSQSQueue(ctx context.Context, region, queueURL string) (*SQSQueue, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewSQSQueueWithConfig(cfg, queueURL), nil
}

func NewSQSQueueWithConfig(cfg aws.Config, queueURL string) *SQSQueue {
	return NewSQSQueueWithClient(sqs.NewFromConfig(cfg), queueURL)
}

func NewSQSQueueWithClient(client SQSSender, queueURL string) *SQSQueue {
	return &SQSQueue{
		client:   client,
		queueURL: queueURL,
	}
}

func (q *SQSQueue) SendEvent(ctx context.Context, event domain.RouteEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"EventKind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(event.Kind)),
			},
			"RequestID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.RequestID),
			},
		},
	}

	_, err = q.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	return nil
}

type InMemoryQueue struct {
	mu     sync.Mutex
	events []domain.RouteEvent
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{}
}

func (q *InMemoryQueue) SendEvent(ctx context.Context, event domain.RouteEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, event)
	return nil
}

func (q *InMemoryQueue) GetEvents() []domain.RouteEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := make([]domain.RouteEvent, len(q.events))
	copy(result, q.events)
	return result
}

const publishTimeout = 5 * time.Second

// EventPublisher forwards every routing event to a Queue without blocking
// the router.
type EventPublisher struct {
	queue Queue
	wg    sync.WaitGroup
}

func NewEventPublisher(q Queue) *EventPublisher {
	return &EventPublisher{queue: q}
}

func (p *EventPublisher) Emit(ctx context.Context, event domain.RouteEvent) {
	ctx = context.WithoutCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()

		if err := p.queue.SendEvent(ctx, event); err != nil {
			slog.Warn("failed to publish routing event",
				"request_id", event.RequestID,
				"kind", event.Kind,
				"error", err,
			)
		}
	}()
}

// Close waits for in-flight sends.
func (p *EventPublisher) Close() {
	p.wg.Wait()
}
