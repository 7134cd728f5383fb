// -----------------------------------------------------------------------
// Gemini Provider - slide analysis via the Gemini vision API
// -----------------------------------------------------------------------

package providers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/ternarybob/showreel/internal/common"
	"github.com/ternarybob/showreel/internal/interfaces"
	"github.com/ternarybob/showreel/internal/models"
)

const defaultAnalysisPrompt = "Describe the content of this presentation slide: " +
	"the key message, any data shown, and speaker-relevant context. " +
	"Answer in plain prose suitable as input for a narration script."

// GeminiProvider runs slide analysis through the Gemini API. The upstream
// call is synchronous, so the adapter executes it in a background goroutine
// and serves the submit/poll contract from its in-flight table.
type GeminiProvider struct {
	client   *genai.Client
	config   common.GeminiConfig
	timeout  time.Duration
	limiter  *rate.Limiter
	inflight *inflightJobs
	logger   arbor.ILogger
}

// NewGeminiProvider creates the slide-analysis provider.
func NewGeminiProvider(config common.GeminiConfig, logger arbor.ILogger) (*GeminiProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required (set GEMINI_API_KEY or providers.gemini.api_key in config)")
	}

	timeout := common.ParseDurationOr(config.Timeout, 5*time.Minute)
	spacing := common.ParseDurationOr(config.RateLimit, 4*time.Second)

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	logger.Info().
		Str("model", config.Model).
		Dur("timeout", timeout).
		Msg("Gemini slide-analysis provider initialized")

	return &GeminiProvider{
		client:   client,
		config:   config,
		timeout:  timeout,
		limiter:  rate.NewLimiter(rate.Every(spacing), 1),
		inflight: newInflightJobs(),
		logger:   logger,
	}, nil
}

func (p *GeminiProvider) Name() string         { return "gemini" }
func (p *GeminiProvider) Kind() models.JobKind { return models.KindSlideAnalysis }

// Submit starts an analysis in the background and returns its external id.
func (p *GeminiProvider) Submit(ctx context.Context, spec models.JobSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", models.NewTerminalError(p.Name(), err)
	}

	id := p.inflight.begin("gem")
	common.SafeGo(p.logger, "gemini-"+id, func() {
		p.analyze(id, spec)
	})
	return id, nil
}

// PollStatus reports the state of an in-flight analysis.
func (p *GeminiProvider) PollStatus(ctx context.Context, externalJobID string) (models.StatusSnapshot, error) {
	return p.inflight.snapshot(externalJobID)
}

// FetchResult returns the analysis text for a completed job.
func (p *GeminiProvider) FetchResult(ctx context.Context, externalJobID string) (*models.ResultRef, error) {
	return p.inflight.result(externalJobID)
}

func (p *GeminiProvider) analyze(id string, spec models.JobSpec) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.limiter.Wait(ctx); err != nil {
		p.inflight.fail(id, fmt.Sprintf("rate limiter wait aborted: %v", err), true)
		return
	}
	p.inflight.setProgress(id, 10, "submitting")

	parts, err := p.buildParts(spec)
	if err != nil {
		p.inflight.fail(id, err.Error(), false)
		return
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(p.config.Temperature),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	p.inflight.setProgress(id, 30, "analyzing")
	resp, err := p.client.Models.GenerateContent(ctx, p.config.Model, contents, config)
	if err != nil {
		p.inflight.fail(id, fmt.Sprintf("slide analysis failed: %v", err), isRetryableLLMError(err))
		return
	}

	text := extractGeminiText(resp)
	if text == "" {
		p.inflight.fail(id, "analysis model returned no text", true)
		return
	}

	p.logger.Debug().
		Str("subject_id", spec.SubjectID).
		Int("response_length", len(text)).
		Msg("Slide analysis completed")
	p.inflight.complete(id, &models.ResultRef{Text: text})
}

// buildParts assembles the vision prompt: the instruction text plus the slide
// image when the spec points at one.
func (p *GeminiProvider) buildParts(spec models.JobSpec) ([]*genai.Part, error) {
	prompt := spec.Input["prompt"]
	if prompt == "" {
		prompt = defaultAnalysisPrompt
	}
	parts := []*genai.Part{genai.NewPartFromText(prompt)}

	if imagePath := spec.Input["image_path"]; imagePath != "" {
		data, err := os.ReadFile(imagePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read slide image %s: %w", imagePath, err)
		}
		parts = append(parts, genai.NewPartFromBytes(data, imageMIMEType(imagePath)))
	}
	if slideText := spec.Input["slide_text"]; slideText != "" {
		parts = append(parts, genai.NewPartFromText("Slide text:\n"+slideText))
	}
	return parts, nil
}

func imageMIMEType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

func extractGeminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				b.WriteString(part.Text)
			}
		}
		if b.Len() > 0 {
			break
		}
	}
	return b.String()
}

var _ interfaces.ProviderClient = (*GeminiProvider)(nil)
