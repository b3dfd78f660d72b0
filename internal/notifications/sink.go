package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/felipepmaragno/model-router/internal/domain"
)

const sendTimeout = 5 * time.Second

// AlertSink raises a notification when every candidate fails for a request
// or when a model's circuit opens. Sends happen in the background.
type AlertSink struct {
	notifier Notifier
	dedup    AlertDeduplicator
	wg       sync.WaitGroup
}

func NewAlertSink(notifier Notifier, dedup AlertDeduplicator) *AlertSink {
	return &AlertSink{
		notifier: notifier,
		dedup:    dedup,
	}
}

func (s *AlertSink) Emit(ctx context.Context, event domain.RouteEvent) {
	n, key, ok := alertFor(event)
	if !ok {
		return
	}

	ctx = context.WithoutCancel(ctx)
	if s.dedup != nil && !s.dedup.ShouldAlert(ctx, key) {
		slog.Debug("alert suppressed", "key", key)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(ctx, sendTimeout)
		defer cancel()

		if err := s.notifier.Send(ctx, n); err != nil {
			slog.Error("failed to send alert", "type", n.Type, "model", n.Model, "error", err)
		}
	}()
}

// Close waits for in-flight sends.
func (s *AlertSink) Close() {
	s.wg.Wait()
}

func alertFor(event domain.RouteEvent) (Notification, string, bool) {
	switch {
	case event.Kind == domain.EventCandidateFailure && event.CircuitState == "open":
		return Notification{
			Type:      NotificationCircuitOpen,
			Severity:  SeverityWarning,
			Model:     event.Model,
			RequestID: event.RequestID,
			Message:   fmt.Sprintf("circuit opened for %s after %s errors", event.Model, event.ErrorKind),
			Data:      map[string]any{"error": event.Error},
			Timestamp: event.Timestamp,
		}, "circuit_open:" + event.Model, true

	case event.Kind == domain.EventAggregateFailure:
		failure := &domain.RoutingFailure{
			Failures:       event.Failures,
			CircuitSkipped: event.CircuitSkipped,
			Skipped:        event.Skipped,
		}

		typ, severity := NotificationRoutingFailed, SeverityCritical
		if failure.AllRateLimited() {
			typ, severity = NotificationRateLimited, SeverityWarning
		}

		return Notification{
			Type:      typ,
			Severity:  severity,
			Timestamp: event.Timestamp,
			RequestID: event.RequestID,
			Message:   event.Error,
			Data: map[string]any{
				"failures":        event.Failures,
				"circuit_skipped": event.CircuitSkipped,
				"skipped":         event.Skipped,
			},
		}, string(typ), true
	}

	return Notification{}, "", false
}
