// -----------------------------------------------------------------------
// Provider Client Interface - Common interface for all external job providers
// -----------------------------------------------------------------------

package interfaces

import (
	"context"

	"github.com/ternarybob/showreel/internal/models"
)

// ProviderClient is the boundary to one external service that executes jobs
// asynchronously. Implementations must classify failures through the models
// error taxonomy so callers can decide between retry and give-up.
type ProviderClient interface {
	// Submit sends the work to the provider and returns its external job id.
	Submit(ctx context.Context, spec models.JobSpec) (string, error)

	// PollStatus fetches the provider's current view of the job
	PollStatus(ctx context.Context, externalJobID string) (models.StatusSnapshot, error)

	// FetchResult retrieves the artifact reference for a completed job
	FetchResult(ctx context.Context, externalJobID string) (*models.ResultRef, error)

	// Name returns the provider identifier used in logs and webhook routing
	Name() string

	// Kind returns the job kind this provider executes
	Kind() models.JobKind
}
