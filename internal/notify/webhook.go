package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/fieldlens/analysis-queue/internal/domain"
	"github.com/fieldlens/analysis-queue/internal/events"
	"github.com/google/uuid"
)

// Outcome classifies one delivery for metrics.
type Outcome string

// Delivery outcomes
const (
	OutcomeDelivered  Outcome = "delivered"
	OutcomeNoListener Outcome = "no_listener"
	OutcomeFailed     Outcome = "failed"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeSkipped    Outcome = "skipped"
)

// Payload is the JSON body of a completion callback.
type Payload struct {
	JobID     uuid.UUID            `json:"job_id"`
	SubjectID uuid.UUID            `json:"subject_id"`
	Tenant    domain.TenantContext `json:"tenant"`
	Success   bool                 `json:"success"`
	ItemCount int                  `json:"item_count"`
	BoxCount  int                  `json:"box_count"`
	Timestamp time.Time            `json:"timestamp"`
	Processor domain.ProcessorKind `json:"processor"`
}

// WebhookNotifier posts completion callbacks. It implements events.EventHandler.
type WebhookNotifier struct {
	logger  *slog.Logger
	client  *http.Client
	url     string
	guard   Guard
	observe func(Outcome)
}

var _ events.EventHandler = (*WebhookNotifier)(nil)

// NewWebhookNotifier creates a notifier. An empty url disables delivery.
// observe, when non-nil, is called with the outcome of every event.
func NewWebhookNotifier(logger *slog.Logger, url string, timeout time.Duration, guard Guard, observe func(Outcome)) *WebhookNotifier {
	if guard == nil {
		guard = NewMemoryGuard(0)
	}
	if observe == nil {
		observe = func(Outcome) {}
	}
	return &WebhookNotifier{
		logger:  logger.With("component", "webhook_notifier"),
		client:  &http.Client{Timeout: timeout},
		url:     url,
		guard:   guard,
		observe: observe,
	}
}

// HandleEvent implements events.EventHandler. Delivery errors are logged
// and swallowed, so it only returns nil.
func (n *WebhookNotifier) HandleEvent(ctx context.Context, event *events.CompletionEvent) error {
	n.observe(n.deliver(ctx, event))
	return nil
}

func (n *WebhookNotifier) deliver(ctx context.Context, event *events.CompletionEvent) Outcome {
	if n.url == "" || !event.Success {
		return OutcomeSkipped
	}

	log := n.logger.With("job_id", event.JobID.String(), "attempt", event.Attempt)

	ok, err := n.guard.Acquire(ctx, DeliveryKey(event.JobID, event.Attempt))
	if err != nil {
		log.WarnContext(ctx, "notification guard unavailable, skipping delivery", "error", err)
		return OutcomeFailed
	}
	if !ok {
		log.DebugContext(ctx, "notification already sent for attempt")
		return OutcomeDuplicate
	}

	body, err := json.Marshal(Payload{
		JobID:     event.JobID,
		SubjectID: event.SubjectID,
		Tenant:    event.Tenant,
		Success:   event.Success,
		ItemCount: event.ItemCount,
		BoxCount:  event.BoxCount,
		Timestamp: event.Timestamp,
		Processor: event.Processor,
	})
	if err != nil {
		log.WarnContext(ctx, "failed to encode notification", "error", err)
		return OutcomeFailed
	}

	status, err := n.post(ctx, body)
	switch {
	case err != nil:
		log.WarnContext(ctx, "notification delivery failed", "error", err)
		return OutcomeFailed
	case status == http.StatusNotFound:
		log.InfoContext(ctx, "no listener for notification")
		return OutcomeNoListener
	case status < 200 || status > 299:
		log.WarnContext(ctx, "notification rejected", "status", status)
		return OutcomeFailed
	}

	log.DebugContext(ctx, "notification delivered", "status", status)
	return OutcomeDelivered
}

func (n *WebhookNotifier) post(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}
