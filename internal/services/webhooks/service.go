// -----------------------------------------------------------------------
// Webhook Service - Durable intake and processing of provider callbacks
// -----------------------------------------------------------------------

package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/showreel/internal/common"
	"github.com/ternarybob/showreel/internal/interfaces"
	"github.com/ternarybob/showreel/internal/models"
)

// ResultAction is the one-shot follow-up executed when a webhook first
// reports a job completed.
type ResultAction func(ctx context.Context, job *models.JobState) error

// Options carry the webhook tuning knobs from config.
type Options struct {
	Retention     time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
	PollInterval  time.Duration
	SweepSchedule string
	ClaimBatch    int
}

// Service validates, stores and processes inbound provider callbacks.
// Intake and processing are decoupled through the durable event queue:
// acknowledging a provider only ever happens after the event is persisted.
type Service struct {
	events   interfaces.WebhookStorage
	jobs     interfaces.JobStorage
	bus      interfaces.EventService
	action   ResultAction
	validate *validator.Validate
	opts     Options
	logger   arbor.ILogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	sweeper *cron.Cron
}

// NewService creates a webhook service.
func NewService(
	events interfaces.WebhookStorage,
	jobs interfaces.JobStorage,
	bus interfaces.EventService,
	action ResultAction,
	opts Options,
	logger arbor.ILogger,
) *Service {
	if opts.ClaimBatch <= 0 {
		opts.ClaimBatch = 50
	}
	return &Service{
		events:   events,
		jobs:     jobs,
		bus:      bus,
		action:   action,
		validate: validator.New(),
		opts:     opts,
		logger:   logger,
	}
}

// Ingest validates and durably stores one inbound callback body. The
// returned id identifies the stored event. A MalformedEventError means the
// payload was rejected and nothing was stored; any other error is a storage
// failure the caller should report as a server-side problem.
func (s *Service) Ingest(ctx context.Context, provider string, body []byte) (string, error) {
	if provider == "" {
		return "", models.NewMalformedEventError("missing provider")
	}

	var payload models.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", models.NewMalformedEventError("invalid JSON: %v", err)
	}
	if err := s.validate.Struct(payload); err != nil {
		return "", models.NewMalformedEventError("payload validation failed: %v", err)
	}

	event := models.NewWebhookEvent(provider, payload)
	if err := s.events.Insert(ctx, event); err != nil {
		return "", fmt.Errorf("failed to store webhook event: %w", err)
	}

	s.logger.Debug().
		Str("event_id", event.ID).
		Str("provider", provider).
		Str("external_id", payload.ExternalJobID).
		Str("event_type", string(payload.EventType)).
		Msg("Webhook event accepted")

	return event.ID, nil
}

// Start launches the background processor loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("webhook processor already running")
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})

	common.SafeGo(s.logger, "webhook-processor", func() {
		defer close(s.done)
		s.processLoop(loopCtx)
	})

	if s.opts.SweepSchedule != "" {
		c := cron.New(cron.WithSeconds())
		if _, err := c.AddFunc(s.opts.SweepSchedule, func() {
			s.sweep(context.Background())
		}); err != nil {
			return fmt.Errorf("invalid webhook sweep schedule: %w", err)
		}
		c.Start()
		s.sweeper = c
	}

	s.logger.Info().Msg("Webhook processor started")
	return nil
}

// Stop halts the processor loop and the GC sweeper.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	sweeper := s.sweeper
	s.cancel = nil
	s.sweeper = nil
	s.mu.Unlock()

	if sweeper != nil {
		sweeper.Stop()
	}
	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Service) processLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.drainOnce(ctx)
	}
}

// drainOnce claims a batch of unprocessed events and folds each into its
// job. Events that cannot be processed yet are retried with backoff on
// later passes; events past the retry budget are marked stuck.
func (s *Service) drainOnce(ctx context.Context) {
	claimed, err := s.events.ClaimUnprocessed(ctx, s.opts.ClaimBatch)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to claim webhook events")
		return
	}

	for _, event := range claimed {
		if ctx.Err() != nil {
			return
		}
		if !s.retryDue(event) {
			continue
		}
		if err := s.processEvent(ctx, event); err != nil {
			s.recordFailure(ctx, event, err)
		} else if err := s.events.MarkProcessed(ctx, event.ID); err != nil {
			s.logger.Error().Err(err).Str("event_id", event.ID).Msg("Failed to mark webhook event processed")
		}
	}
}

// retryDue applies exponential backoff between processing attempts.
func (s *Service) retryDue(event *models.WebhookEvent) bool {
	if event.RetryCount == 0 {
		return true
	}
	backoff := s.opts.RetryBackoff << (event.RetryCount - 1)
	return time.Since(event.ReceivedAt) >= backoff
}

// processEvent folds one event into its job. Non-monotonic updates are
// no-ops, not errors: a duplicate completed event or a processing event
// arriving after completion is simply discarded, while the side effect
// still runs at most once per job.
func (s *Service) processEvent(ctx context.Context, event *models.WebhookEvent) error {
	job, err := s.jobs.GetByExternalID(ctx, event.ExternalJobID)
	if err != nil {
		return fmt.Errorf("no job for external id %s: %w", event.ExternalJobID, err)
	}

	updated, changed, err := s.jobs.ApplySnapshot(ctx, job.ID, event.Snapshot())
	if err != nil {
		return fmt.Errorf("failed to apply webhook snapshot: %w", err)
	}

	if changed {
		s.publishStatusChange(ctx, updated)
	} else {
		s.logger.Debug().
			Str("event_id", event.ID).
			Str("external_id", event.ExternalJobID).
			Str("event_type", string(event.EventType)).
			Msg("Webhook event was a no-op (duplicate or out of order)")
	}

	// The completion follow-up is guarded by the persisted job flag, so a
	// duplicate completed event cannot run it twice.
	if updated.Status == models.JobStatusCompleted && event.EventType == models.WebhookEventCompleted {
		s.ensureSideEffect(ctx, updated)
	}

	return nil
}

func (s *Service) ensureSideEffect(ctx context.Context, job *models.JobState) {
	if s.action == nil {
		return
	}
	first, err := s.jobs.MarkSideEffectRun(ctx, job.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to claim side-effect guard")
		return
	}
	if !first {
		return
	}
	if err := s.action(ctx, job); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Completion follow-up failed")
	}
}

func (s *Service) recordFailure(ctx context.Context, event *models.WebhookEvent, cause error) {
	stuck := event.RetryCount+1 >= s.opts.MaxRetries
	if err := s.events.RecordFailure(ctx, event.ID, cause.Error(), stuck); err != nil {
		s.logger.Error().Err(err).Str("event_id", event.ID).Msg("Failed to record webhook failure")
		return
	}

	if stuck {
		s.logger.Error().
			Str("event_id", event.ID).
			Str("external_id", event.ExternalJobID).
			Int("retries", event.RetryCount+1).
			Msg("Webhook event stuck after exhausting retries")
		if s.bus != nil {
			_ = s.bus.Publish(ctx, interfaces.Event{
				Type:    interfaces.EventWebhookStuck,
				Payload: event,
			})
		}
	} else {
		s.logger.Warn().
			Err(cause).
			Str("event_id", event.ID).
			Int("retry", event.RetryCount+1).
			Msg("Webhook event processing failed, will retry")
	}
}

func (s *Service) publishStatusChange(ctx context.Context, job *models.JobState) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventJobStatusChanged,
		Payload: job,
	})
}

// sweep removes events past retention regardless of processed state.
func (s *Service) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.opts.Retention)
	deleted, err := s.events.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("Webhook retention sweep failed")
		return
	}
	if deleted > 0 {
		s.logger.Info().Int("deleted", deleted).Msg("Webhook retention sweep removed expired events")
	}
}

var _ interfaces.WebhookService = (*Service)(nil)
