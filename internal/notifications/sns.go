// Package notifications raises operator alerts for routing outages.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

type NotificationType string

const (
	NotificationRoutingFailed NotificationType = "routing_failed"
	NotificationCircuitOpen   NotificationType = "circuit_open"
	NotificationRateLimited   NotificationType = "rate_limited"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Notification struct {
	Type      NotificationType `json:"type"`
	Severity  Severity         `json:"severity"`
	Model     string           `json:"model,omitempty"`
	RequestID string           `json:"request_id,omitempty"`
	Message   string           `json:"message"`
	Data      map[string]any   `json:"data,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// maxSubjectLen is the SNS limit for email subjects.
const maxSubjectLen = 100

// SNSPublisher is the subset of the SNS client used here.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSNotifier struct {
	client   SNSPublisher
	topicArn string
}

func NewSNSNotifier(ctx context.Context, region, topicArn string) (*SNSNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSNSNotifierWithClient(sns.NewFromConfig(cfg), topicArn), nil
}

func NewSNSNotifierWithClient(client SNSPublisher, topicArn string) *SNSNotifier {
	return &SNSNotifier{client: client, topicArn: topicArn}
}

func (n *SNSNotifier) Send(ctx context.Context, notification Notification) error {
	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	// Subscribers filter on these attributes.
	attrs := map[string]snstypes.MessageAttributeValue{}
	for name, value := range map[string]string{
		"Type":     string(notification.Type),
		"Severity": string(notification.Severity),
		"Model":    notification.Model,
	} {
		if value == "" {
			continue
		}
		attrs[name] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(value),
		}
	}

	_, err = n.client.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(n.topicArn),
		Message:           aws.String(string(body)),
		Subject:           aws.String(subject(notification)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	slog.Info("alert published", "type", notification.Type, "model", notification.Model)
	return nil
}

func subject(n Notification) string {
	s := fmt.Sprintf("[%s] model-router %s", n.Severity, n.Type)
	if n.Model != "" {
		s += ": " + n.Model
	}
	if len(s) > maxSubjectLen {
		s = s[:maxSubjectLen]
	}
	return s
}

// LogNotifier writes alerts to the structured log. It is the default when no
// SNS topic is configured.
type LogNotifier struct{}

func (LogNotifier) Send(ctx context.Context, n Notification) error {
	level := slog.LevelWarn
	if n.Severity == SeverityCritical {
		level = slog.LevelError
	}
	slog.Log(ctx, level, "alert",
		"type", n.Type,
		"model", n.Model,
		"request_id", n.RequestID,
		"message", n.Message,
	)
	return nil
}
