package badger

import (
	"context"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/showreel/internal/models"
)

func TestWebhookEventQueue(t *testing.T) {
	storage := NewWebhookStorage(openTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	first := models.NewWebhookEvent("renderfarm", models.WebhookPayload{
		ExternalJobID: "ext-1",
		EventType:     models.WebhookEventProcessing,
		Progress:      25,
	})
	second := models.NewWebhookEvent("renderfarm", models.WebhookPayload{
		ExternalJobID: "ext-1",
		EventType:     models.WebhookEventCompleted,
	})
	// Force a deterministic claim order.
	first.ReceivedAt = time.Now().Add(-2 * time.Minute)
	second.ReceivedAt = time.Now().Add(-1 * time.Minute)

	if err := storage.Insert(ctx, first); err != nil {
		t.Fatalf("Failed to insert event: %v", err)
	}
	if err := storage.Insert(ctx, second); err != nil {
		t.Fatalf("Failed to insert event: %v", err)
	}

	claimed, err := storage.ClaimUnprocessed(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to claim events: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("Expected 2 unprocessed events, got %d", len(claimed))
	}
	if claimed[0].ID != first.ID {
		t.Errorf("Expected oldest event first, got %s", claimed[0].ID)
	}

	if err := storage.MarkProcessed(ctx, first.ID); err != nil {
		t.Fatalf("Failed to mark processed: %v", err)
	}

	claimed, err = storage.ClaimUnprocessed(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 1 || claimed[0].ID != second.ID {
		t.Errorf("Expected only the second event to remain unprocessed")
	}
}

func TestWebhookEventRetryAndStuck(t *testing.T) {
	storage := NewWebhookStorage(openTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	event := models.NewWebhookEvent("avatarlab", models.WebhookPayload{
		ExternalJobID: "ext-9",
		EventType:     models.WebhookEventFailed,
		Error:         "render node lost",
	})
	if err := storage.Insert(ctx, event); err != nil {
		t.Fatal(err)
	}

	if err := storage.RecordFailure(ctx, event.ID, "job lookup failed", false); err != nil {
		t.Fatal(err)
	}
	loaded, err := storage.Get(ctx, event.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.RetryCount != 1 || loaded.Stuck {
		t.Errorf("Expected retry_count=1 not stuck, got %d/%v", loaded.RetryCount, loaded.Stuck)
	}

	// Exhausted retries mark the event stuck and take it out of the claim set.
	if err := storage.RecordFailure(ctx, event.ID, "job lookup failed", true); err != nil {
		t.Fatal(err)
	}
	claimed, err := storage.ClaimUnprocessed(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 0 {
		t.Errorf("Stuck events must not be claimable, got %d", len(claimed))
	}

	stuck, err := storage.ListStuck(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(stuck) != 1 || stuck[0].ID != event.ID {
		t.Errorf("Expected event to be listed as stuck")
	}
}

func TestWebhookEventGC(t *testing.T) {
	storage := NewWebhookStorage(openTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	old := models.NewWebhookEvent("renderfarm", models.WebhookPayload{
		ExternalJobID: "ext-old",
		EventType:     models.WebhookEventCompleted,
	})
	old.ReceivedAt = time.Now().Add(-96 * time.Hour)

	fresh := models.NewWebhookEvent("renderfarm", models.WebhookPayload{
		ExternalJobID: "ext-new",
		EventType:     models.WebhookEventCompleted,
	})

	if err := storage.Insert(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := storage.Insert(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	deleted, err := storage.DeleteOlderThan(ctx, time.Now().Add(-72*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted event, got %d", deleted)
	}

	count, err := storage.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("Expected 1 remaining event, got %d", count)
	}
}
