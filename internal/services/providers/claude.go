// -----------------------------------------------------------------------
// Claude Provider - narration script generation from slide analyses
// -----------------------------------------------------------------------

package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/showreel/internal/common"
	"github.com/ternarybob/showreel/internal/interfaces"
	"github.com/ternarybob/showreel/internal/models"
)

const narrativeSystemPrompt = "You write spoken narration scripts for presentation videos. " +
	"Given a slide analysis, produce a short conversational script a presenter " +
	"would say over that slide. No stage directions, no markdown."

// ClaudeProvider generates narration scripts through the Anthropic API,
// serving the submit/poll contract from its in-flight table.
type ClaudeProvider struct {
	client   *anthropic.Client
	config   common.ClaudeConfig
	timeout  time.Duration
	limiter  *rate.Limiter
	inflight *inflightJobs
	logger   arbor.ILogger
}

// NewClaudeProvider creates the narrative-generation provider.
func NewClaudeProvider(config common.ClaudeConfig, logger arbor.ILogger) (*ClaudeProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required (set ANTHROPIC_API_KEY or providers.claude.api_key in config)")
	}

	timeout := common.ParseDurationOr(config.Timeout, 5*time.Minute)
	spacing := common.ParseDurationOr(config.RateLimit, time.Second)

	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	config.MaxTokens = maxTokens

	client := anthropic.NewClient(
		option.WithAPIKey(config.APIKey),
	)

	logger.Info().
		Str("model", config.Model).
		Int("max_tokens", maxTokens).
		Dur("timeout", timeout).
		Msg("Claude narrative provider initialized")

	return &ClaudeProvider{
		client:   &client,
		config:   config,
		timeout:  timeout,
		limiter:  rate.NewLimiter(rate.Every(spacing), 1),
		inflight: newInflightJobs(),
		logger:   logger,
	}, nil
}

func (p *ClaudeProvider) Name() string         { return "claude" }
func (p *ClaudeProvider) Kind() models.JobKind { return models.KindNarrative }

// Submit starts a narrative generation in the background.
func (p *ClaudeProvider) Submit(ctx context.Context, spec models.JobSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", models.NewTerminalError(p.Name(), err)
	}
	if spec.Input["analysis"] == "" {
		return "", models.NewTerminalError(p.Name(), fmt.Errorf("narrative generation requires an analysis input"))
	}

	id := p.inflight.begin("cld")
	common.SafeGo(p.logger, "claude-"+id, func() {
		p.generate(id, spec)
	})
	return id, nil
}

// PollStatus reports the state of an in-flight generation.
func (p *ClaudeProvider) PollStatus(ctx context.Context, externalJobID string) (models.StatusSnapshot, error) {
	return p.inflight.snapshot(externalJobID)
}

// FetchResult returns the script text for a completed job.
func (p *ClaudeProvider) FetchResult(ctx context.Context, externalJobID string) (*models.ResultRef, error) {
	return p.inflight.result(externalJobID)
}

func (p *ClaudeProvider) generate(id string, spec models.JobSpec) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.limiter.Wait(ctx); err != nil {
		p.inflight.fail(id, fmt.Sprintf("rate limiter wait aborted: %v", err), true)
		return
	}
	p.inflight.setProgress(id, 20, "generating")

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		MaxTokens: int64(p.config.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(p.buildPrompt(spec))),
		},
		System: []anthropic.TextBlockParam{
			{Text: narrativeSystemPrompt},
		},
	}
	if p.config.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(p.config.Temperature))
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		p.inflight.fail(id, fmt.Sprintf("narrative generation failed: %v", err), isRetryableLLMError(err))
		return
	}

	var script strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			script.WriteString(block.Text)
		}
	}
	if script.Len() == 0 {
		p.inflight.fail(id, "narrative model returned no text", true)
		return
	}

	p.logger.Debug().
		Str("subject_id", spec.SubjectID).
		Int("script_length", script.Len()).
		Msg("Narrative generation completed")
	p.inflight.complete(id, &models.ResultRef{Text: script.String()})
}

func (p *ClaudeProvider) buildPrompt(spec models.JobSpec) string {
	var b strings.Builder
	b.WriteString("Slide analysis:\n")
	b.WriteString(spec.Input["analysis"])
	if tone := spec.Input["tone"]; tone != "" {
		b.WriteString("\n\nTone: ")
		b.WriteString(tone)
	}
	if audience := spec.Input["audience"]; audience != "" {
		b.WriteString("\nAudience: ")
		b.WriteString(audience)
	}
	return b.String()
}

var _ interfaces.ProviderClient = (*ClaudeProvider)(nil)
