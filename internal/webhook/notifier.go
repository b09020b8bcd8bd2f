package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tabledeck/importd/internal/domain"
	"github.com/tabledeck/importd/internal/repository"
)

// Notifier builds payloads, records delivery events, and pushes them to the
// importer's webhook URL. Exactly one event is recorded per call; resends
// create a fresh event with a payload rebuilt from current job state.
type Notifier struct {
	events  repository.WebhookEventRepository
	sender  Sender
	builder *Builder
	logger  *zap.Logger
}

func NewNotifier(events repository.WebhookEventRepository, sender Sender, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		events:  events,
		sender:  sender,
		builder: NewBuilder(),
		logger:  logger,
	}
}

// Notify fires the webhook for a job that just reached a terminal status.
// It returns domain.ErrWebhookDisabled when the importer has no usable
// webhook configuration; delivery failure is recorded on the event and
// returned, never panicking the validation pass that triggered it.
func (n *Notifier) Notify(ctx context.Context, job domain.ImportJob, imp domain.Importer) (domain.WebhookEvent, error) {
	if !imp.WebhookEnabled || imp.WebhookURL == "" {
		n.logger.Debug("webhook not configured, skipping",
			zap.String("importer_id", imp.ID.String()),
			zap.String("job_id", job.ID.String()))
		return domain.WebhookEvent{}, domain.ErrWebhookDisabled
	}

	payload := n.builder.Build(job, imp)
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.WebhookEvent{}, fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	event := domain.NewWebhookEvent(job.ID, EventType(job.Status), raw)
	event, err = n.events.Create(ctx, event)
	if err != nil {
		return domain.WebhookEvent{}, fmt.Errorf("failed to record webhook event: %w", err)
	}

	// Stamp the event identity into the payload the receiver actually sees,
	// so deliveries can be correlated back to the stored record.
	eventID := event.ID.String()
	payload.WebhookID = &eventID
	payload.Timestamp = time.Now().Format(time.RFC3339)
	body, err := json.Marshal(payload)
	if err != nil {
		return event, fmt.Errorf("failed to marshal webhook body: %w", err)
	}

	event.Attempts++
	sendErr := n.sender.Send(ctx, imp.WebhookURL, body)
	if sendErr != nil {
		event.LastError = sendErr.Error()
		n.logger.Warn("webhook delivery failed",
			zap.String("job_id", job.ID.String()),
			zap.String("url", imp.WebhookURL),
			zap.Error(sendErr))
	} else {
		event.Delivered = true
		event.LastError = ""
		n.logger.Info("webhook delivered",
			zap.String("job_id", job.ID.String()),
			zap.String("event_type", string(event.EventType)))
	}
	event.UpdatedAt = time.Now()

	if updated, err := n.events.Update(ctx, event); err != nil {
		n.logger.Error("failed to persist webhook event state",
			zap.String("event_id", event.ID.String()),
			zap.Error(err))
	} else {
		event = updated
	}
	return event, sendErr
}
