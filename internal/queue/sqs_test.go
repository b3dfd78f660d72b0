package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/felipepmaragno/model-router/internal/domain"
)

type mockSender struct {
	SendMessageFunc func(ctx context.Context, params *sqs.SendMessageInput) (*sqs.SendMessageOutput, error)
}

func (m *mockSender) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	return m.SendMessageFunc(ctx, params)
}

func TestSQSQueue_SendEvent(t *testing.T) {
	var got *sqs.SendMessageInput
	q := NewSQSQueueWithClient(&mockSender{
		SendMessageFunc: func(ctx context.Context, params *sqs.SendMessageInput) (*sqs.SendMessageOutput, error) {
			got = params
			return &sqs.SendMessageOutput{MessageId: aws.String("1")}, nil
		},
	}, "https://sqs.us-east-1.amazonaws.com/123/events")

	err := q.SendEvent(context.Background(), domain.RouteEvent{
		Kind:       domain.EventSuccess,
		RequestID:  "req-1",
		Model:      "gemini-2.5-flash",
		TokensUsed: 12,
	})
	if err != nil {
		t.Fatalf("SendEvent: %v", err)
	}

	if aws.ToString(got.QueueUrl) != "https://sqs.us-east-1.amazonaws.com/123/events" {
		t.Errorf("unexpected queue %s", aws.ToString(got.QueueUrl))
	}
	if aws.ToString(got.MessageAttributes["EventKind"].StringValue) != "success" {
		t.Errorf("unexpected attributes %+v", got.MessageAttributes)
	}

	var event domain.RouteEvent
	if err := json.Unmarshal([]byte(aws.ToString(got.MessageBody)), &event); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if event.Model != "gemini-2.5-flash" || event.TokensUsed != 12 {
		t.Errorf("unexpected event %+v", event)
	}
}

func TestSQSQueue_SendEventError(t *testing.T) {
	q := NewSQSQueueWithClient(&mockSender{
		SendMessageFunc: func(ctx context.Context, params *sqs.SendMessageInput) (*sqs.SendMessageOutput, error) {
			return nil, errors.New("access denied")
		},
	}, "url")

	if err := q.SendEvent(context.Background(), domain.RouteEvent{Kind: domain.EventCacheHit}); err == nil {
		t.Error("expected error")
	}
}

func TestEventPublisher_Emit(t *testing.T) {
	q := NewInMemoryQueue()
	p := NewEventPublisher(q)

	ctx, cancel := context.WithCancel(context.Background())
	p.Emit(ctx, domain.RouteEvent{Kind: domain.EventSuccess, RequestID: "a"})
	cancel()
	p.Emit(ctx, domain.RouteEvent{Kind: domain.EventAggregateFailure, RequestID: "b"})
	p.Close()

	events := q.GetEvents()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
}
