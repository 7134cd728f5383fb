package providers

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/showreel/internal/common"
	"github.com/ternarybob/showreel/internal/interfaces"
	"github.com/ternarybob/showreel/internal/models"
)

// NewAvatarProvider creates the client for the avatar video service, which
// turns a narration script into a talking-head clip. Generation takes
// minutes per slide; the service exposes the usual submit/status/result job
// endpoints.
func NewAvatarProvider(config common.PollAPIConfig, logger arbor.ILogger) (interfaces.ProviderClient, error) {
	return newPollClient("avatar", models.KindAvatarVideo, config, logger)
}
