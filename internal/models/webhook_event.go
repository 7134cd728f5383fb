package models

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEventType is the kind of status change a provider callback reports.
type WebhookEventType string

const (
	WebhookEventProcessing WebhookEventType = "processing"
	WebhookEventCompleted  WebhookEventType = "completed"
	WebhookEventFailed     WebhookEventType = "failed"
)

// WebhookPayload is the inbound callback body. Validation runs before
// anything is persisted; a payload that fails validation is rejected
// outright and never enters the durable queue.
type WebhookPayload struct {
	ExternalJobID string           `json:"job_id" validate:"required"`
	EventType     WebhookEventType `json:"event_type" validate:"required,oneof=processing completed failed"`
	Progress      int              `json:"progress,omitempty" validate:"gte=0,lte=100"`
	Stage         string           `json:"stage,omitempty"`
	ResultURL     string           `json:"result_url,omitempty" validate:"omitempty,url"`
	Error         string           `json:"error,omitempty"`
	Retryable     bool             `json:"retryable,omitempty"`
}

// WebhookEvent is a durably stored callback awaiting (or past) processing.
// Events are persisted before the HTTP intake acknowledges the provider, so
// a crash between receipt and processing never loses an event.
type WebhookEvent struct {
	ID            string           `json:"id" badgerhold:"key"`
	Provider      string           `json:"provider"`
	ExternalJobID string           `json:"external_job_id" badgerhold:"index"`
	EventType     WebhookEventType `json:"event_type"`
	Payload       WebhookPayload   `json:"payload"`
	ReceivedAt    time.Time        `json:"received_at"`
	Processed     bool             `json:"processed" badgerhold:"index"`
	ProcessedAt   *time.Time       `json:"processed_at,omitempty"`
	RetryCount    int              `json:"retry_count"`
	Stuck         bool             `json:"stuck"`
	LastError     string           `json:"last_error,omitempty"`
}

// NewWebhookEvent wraps a validated payload for durable storage.
func NewWebhookEvent(provider string, payload WebhookPayload) *WebhookEvent {
	return &WebhookEvent{
		ID:            uuid.New().String(),
		Provider:      provider,
		ExternalJobID: payload.ExternalJobID,
		EventType:     payload.EventType,
		Payload:       payload,
		ReceivedAt:    time.Now(),
	}
}

// Snapshot converts the event into the status snapshot the transition
// machinery consumes.
func (e *WebhookEvent) Snapshot() StatusSnapshot {
	snap := StatusSnapshot{
		Progress: e.Payload.Progress,
		Stage:    e.Payload.Stage,
	}
	switch e.EventType {
	case WebhookEventProcessing:
		snap.Status = JobStatusProcessing
	case WebhookEventCompleted:
		snap.Status = JobStatusCompleted
		if e.Payload.ResultURL != "" {
			snap.Result = &ResultRef{URL: e.Payload.ResultURL}
		}
	case WebhookEventFailed:
		snap.Status = JobStatusFailed
		snap.Error = e.Payload.Error
		snap.Retryable = e.Payload.Retryable
	}
	return snap
}
