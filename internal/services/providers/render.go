package providers

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/showreel/internal/common"
	"github.com/ternarybob/showreel/internal/interfaces"
	"github.com/ternarybob/showreel/internal/models"
)

// NewRenderProvider creates the client for the render farm, which composites
// slide images and avatar clips into the final narrated video.
func NewRenderProvider(config common.PollAPIConfig, logger arbor.ILogger) (interfaces.ProviderClient, error) {
	return newPollClient("render", models.KindRenderJob, config, logger)
}
