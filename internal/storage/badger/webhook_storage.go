package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/showreel/internal/interfaces"
	"github.com/ternarybob/showreel/internal/models"
)

// WebhookStorage implements the durable webhook event queue over Badger.
// Events are persisted at intake and survive restarts; the processor claims
// them oldest-first.
type WebhookStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewWebhookStorage creates a new WebhookStorage instance
func NewWebhookStorage(db *BadgerDB, logger arbor.ILogger) interfaces.WebhookStorage {
	return &WebhookStorage{
		db:     db,
		logger: logger,
	}
}

func (s *WebhookStorage) Insert(ctx context.Context, event *models.WebhookEvent) error {
	if event.ID == "" {
		return fmt.Errorf("webhook event ID is required")
	}
	if err := s.db.Store().Insert(event.ID, event); err != nil {
		return fmt.Errorf("failed to insert webhook event: %w", err)
	}
	return nil
}

func (s *WebhookStorage) Get(ctx context.Context, id string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := s.db.Store().Get(id, &event); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("webhook event not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}
	return &event, nil
}

func (s *WebhookStorage) ClaimUnprocessed(ctx context.Context, limit int) ([]*models.WebhookEvent, error) {
	var events []models.WebhookEvent
	query := badgerhold.Where("Processed").Eq(false).And("Stuck").Eq(false).SortBy("ReceivedAt")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.db.Store().Find(&events, query); err != nil {
		return nil, fmt.Errorf("failed to claim unprocessed events: %w", err)
	}
	result := make([]*models.WebhookEvent, len(events))
	for i := range events {
		result[i] = &events[i]
	}
	return result, nil
}

func (s *WebhookStorage) MarkProcessed(ctx context.Context, id string) error {
	event, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now()
	event.Processed = true
	event.ProcessedAt = &now
	if err := s.db.Store().Upsert(event.ID, event); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

func (s *WebhookStorage) RecordFailure(ctx context.Context, id string, errMsg string, stuck bool) error {
	event, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	event.RetryCount++
	event.LastError = errMsg
	event.Stuck = stuck
	if err := s.db.Store().Upsert(event.ID, event); err != nil {
		return fmt.Errorf("failed to record event failure: %w", err)
	}
	return nil
}

func (s *WebhookStorage) ListStuck(ctx context.Context) ([]*models.WebhookEvent, error) {
	var events []models.WebhookEvent
	if err := s.db.Store().Find(&events, badgerhold.Where("Stuck").Eq(true).SortBy("ReceivedAt")); err != nil {
		return nil, fmt.Errorf("failed to list stuck events: %w", err)
	}
	result := make([]*models.WebhookEvent, len(events))
	for i := range events {
		result[i] = &events[i]
	}
	return result, nil
}

func (s *WebhookStorage) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	var events []models.WebhookEvent
	if err := s.db.Store().Find(&events, badgerhold.Where("ReceivedAt").Lt(cutoff)); err != nil {
		return 0, fmt.Errorf("failed to find expired events: %w", err)
	}
	deleted := 0
	for i := range events {
		if err := s.db.Store().Delete(events[i].ID, &models.WebhookEvent{}); err != nil {
			s.logger.Warn().Err(err).Str("event_id", events[i].ID).Msg("Failed to delete expired webhook event")
			continue
		}
		deleted++
	}
	return deleted, nil
}

func (s *WebhookStorage) Count(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.WebhookEvent{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count webhook events: %w", err)
	}
	return int(count), nil
}
