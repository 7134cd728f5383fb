// -----------------------------------------------------------------------
// App - dependency wiring for the showreel service
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/showreel/internal/common"
	"github.com/ternarybob/showreel/internal/handlers"
	"github.com/ternarybob/showreel/internal/interfaces"
	"github.com/ternarybob/showreel/internal/jobs/monitor"
	"github.com/ternarybob/showreel/internal/jobs/orchestrator"
	"github.com/ternarybob/showreel/internal/models"
	"github.com/ternarybob/showreel/internal/services/events"
	"github.com/ternarybob/showreel/internal/services/providers"
	"github.com/ternarybob/showreel/internal/services/registry"
	"github.com/ternarybob/showreel/internal/services/webhooks"
	storagebadger "github.com/ternarybob/showreel/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	EventService   interfaces.EventService
	Registry       *registry.Service
	Providers      map[models.JobKind]interfaces.ProviderClient
	Orchestrator   interfaces.BatchOrchestrator
	Monitor        interfaces.JobMonitor
	WebhookService interfaces.WebhookService
	Presets        []models.BatchPreset

	// HTTP handlers
	BatchHandler   *handlers.BatchHandler
	MonitorHandler *handlers.MonitorHandler
	StatusHandler  *handlers.StatusHandler
	WebhookHandler *handlers.WebhookHandler
	PresetHandler  *handlers.PresetHandler
	WSHandler      *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	manager, err := storagebadger.NewManager(logger, &cfg.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.StorageManager = manager

	app.EventService = events.NewService(logger)
	app.WSHandler = handlers.NewWebSocketHandler(app.EventService, &cfg.WebSocket, logger)

	app.Registry = registry.NewService(logger, common.ParseDurationOr(cfg.Registry.Retention, 24*time.Hour))
	if err := app.Registry.StartSweeper(cfg.Registry.SweepSchedule); err != nil {
		return nil, fmt.Errorf("failed to start registry sweeper: %w", err)
	}

	app.initProviders()

	orchOpts := orchestrator.Options{
		MaxConcurrent:   cfg.Orchestrator.MaxConcurrent,
		PerItemTimeout:  common.ParseDurationOr(cfg.Orchestrator.PerItemTimeout, 10*time.Minute),
		PollInterval:    common.ParseDurationOr(cfg.Orchestrator.PollInterval, 5*time.Second),
		ParallelEnabled: cfg.Orchestrator.ParallelEnabled,
	}
	app.Orchestrator = orchestrator.New(
		app.Registry,
		manager.JobStorage(),
		app.EventService,
		app.Providers,
		orchOpts,
		logger,
	)

	app.Monitor = monitor.New(
		manager.JobStorage(),
		app.Registry,
		app.EventService,
		app.Providers,
		app.resultAction(),
		monitor.Options{
			PollInterval:    orchOpts.PollInterval,
			MaxWaitDuration: common.ParseDurationOr(cfg.Orchestrator.MaxWaitDuration, 30*time.Minute),
		},
		logger,
	)

	webhookSvc := webhooks.NewService(
		manager.WebhookStorage(),
		manager.JobStorage(),
		app.EventService,
		webhooks.ResultAction(app.resultAction()),
		webhooks.Options{
			Retention:     common.ParseDurationOr(cfg.Webhooks.Retention, 72*time.Hour),
			MaxRetries:    cfg.Webhooks.MaxRetries,
			RetryBackoff:  common.ParseDurationOr(cfg.Webhooks.RetryBackoff, 2*time.Second),
			PollInterval:  common.ParseDurationOr(cfg.Webhooks.PollInterval, time.Second),
			SweepSchedule: cfg.Webhooks.SweepSchedule,
		},
		logger,
	)
	if err := webhookSvc.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to start webhook processor: %w", err)
	}
	app.WebhookService = webhookSvc

	presets, err := storagebadger.LoadPresetsFromFiles(cfg.Presets.Dir, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to load batch presets")
	}
	app.Presets = presets

	app.initHandlers()

	logger.Info().
		Int("providers", len(app.Providers)).
		Int("presets", len(app.Presets)).
		Msg("Application initialization complete")

	return app, nil
}

// initProviders builds the provider map. A provider whose configuration is
// missing is skipped with a warning; batches for its kind are rejected at
// start rather than failing mid-run.
func (a *App) initProviders() {
	a.Providers = make(map[models.JobKind]interfaces.ProviderClient)

	if gemini, err := providers.NewGeminiProvider(a.Config.Providers.Gemini, a.Logger); err != nil {
		a.Logger.Warn().Err(err).Msg("Slide-analysis provider unavailable")
	} else {
		a.Providers[models.KindSlideAnalysis] = gemini
	}

	if claude, err := providers.NewClaudeProvider(a.Config.Providers.Claude, a.Logger); err != nil {
		a.Logger.Warn().Err(err).Msg("Narrative provider unavailable")
	} else {
		a.Providers[models.KindNarrative] = claude
	}

	if avatar, err := providers.NewAvatarProvider(a.Config.Providers.Avatar, a.Logger); err != nil {
		a.Logger.Warn().Err(err).Msg("Avatar video provider unavailable")
	} else {
		a.Providers[models.KindAvatarVideo] = avatar
	}

	if render, err := providers.NewRenderProvider(a.Config.Providers.Render, a.Logger); err != nil {
		a.Logger.Warn().Err(err).Msg("Render provider unavailable")
	} else {
		a.Providers[models.KindRenderJob] = render
	}
}

// resultAction is the one-shot completion follow-up shared by the monitor
// and the webhook processor: it announces the finished artifact on the event
// bus so operators and downstream stages see it exactly once.
func (a *App) resultAction() monitor.ResultAction {
	return func(ctx context.Context, job *models.JobState) error {
		url := ""
		if job.Result != nil {
			url = job.Result.URL
		}
		a.Logger.Info().
			Str("job_id", job.ID).
			Str("subject_id", job.SubjectID).
			Str("kind", string(job.Kind)).
			Str("result_url", url).
			Msg("Artifact registered")
		return a.EventService.Publish(ctx, interfaces.Event{
			Type:    interfaces.EventJobStatusChanged,
			Payload: job,
		})
	}
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() {
	inspector := providers.NewDeckInspector(a.Logger)

	a.BatchHandler = handlers.NewBatchHandler(a.Orchestrator, inspector, a.Logger)
	a.MonitorHandler = handlers.NewMonitorHandler(a.Monitor, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.Registry, a.StorageManager, a.Logger)
	a.WebhookHandler = handlers.NewWebhookHandler(a.WebhookService, a.Logger)
	a.PresetHandler = handlers.NewPresetHandler(a.Presets, a.Orchestrator, inspector, a.Logger)
}

// Close closes all application resources
func (a *App) Close() error {
	if a.WebhookService != nil {
		a.WebhookService.Stop()
	}
	if a.Registry != nil {
		a.Registry.StopSweeper()
	}
	if a.WSHandler != nil {
		a.WSHandler.Close()
	}
	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}
	return nil
}
