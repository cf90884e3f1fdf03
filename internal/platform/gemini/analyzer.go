package gemini

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"text/template"
	"time"

	"google.golang.org/genai"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.ParseFS(promptFS, "prompts/*.tmpl"))

// ContentGenerator is the subset of the genai client the analyzer uses.
// *genai.Models satisfies it.
type ContentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// NewClient creates a Gemini API client and returns its model service.
func NewClient(ctx context.Context, apiKey string) (ContentGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}

	return client.Models, nil
}

// Options configures a VisionAnalyzer.
type Options struct {
	Model      string
	Strategy   Strategy
	MaxRetries int
	RetryDelay time.Duration
}

// VisionAnalyzer asks a Gemini vision model to describe an image.
type VisionAnalyzer struct {
	logger *slog.Logger
	client ContentGenerator
	opts   Options

	// sleep waits between retries; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewVisionAnalyzer creates an analyzer bound to one model and strategy.
//
// Parameters:
//   - logger: A structured logger for operation logging
//   - client: The content generator, usually from NewClient
//   - opts: Model name, prompt strategy and retry settings
//
// Returns:
//   - A VisionAnalyzer or an error wrapping ErrInvalidConfig
func NewVisionAnalyzer(logger *slog.Logger, client ContentGenerator, opts Options) (*VisionAnalyzer, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if client == nil {
		return nil, fmt.Errorf("%w: client cannot be nil", ErrInvalidConfig)
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", ErrInvalidConfig)
	}
	switch opts.Strategy {
	case "":
		opts.Strategy = StrategyFull
	case StrategyFull, StrategyReduced:
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, opts.Strategy)
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	return &VisionAnalyzer{
		logger: logger.With("component", "gemini", "model", opts.Model, "strategy", string(opts.Strategy)),
		client: client,
		opts:   opts,
		sleep:  sleepContext,
	}, nil
}

// Model returns the model name the analyzer calls.
func (a *VisionAnalyzer) Model() string {
	return a.opts.Model
}

// Analyze sends img to the model and returns the parsed answer.
// Safety blocks and unparseable answers are returned without retrying.
func (a *VisionAnalyzer) Analyze(ctx context.Context, img Image) (*Analysis, error) {
	if len(img.Data) == 0 {
		return nil, ErrEmptyImage
	}
	if img.MIMEType == "" {
		img.MIMEType = "image/jpeg"
	}
	if img.Kind == "" {
		img.Kind = "image"
	}

	prompt, err := a.createPrompt(img)
	if err != nil {
		return nil, err
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: prompt},
			{InlineData: &genai.Blob{MIMEType: img.MIMEType, Data: img.Data}},
		},
	}}
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schemaFor(a.opts.Strategy),
	}

	return a.callWithRetry(ctx, contents, cfg)
}

func (a *VisionAnalyzer) createPrompt(img Image) (string, error) {
	var buf bytes.Buffer
	name := string(a.opts.Strategy) + ".tmpl"
	if err := prompts.ExecuteTemplate(&buf, name, promptData{Kind: img.Kind, MIMEType: img.MIMEType}); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}
	return buf.String(), nil
}

func (a *VisionAnalyzer) callWithRetry(
	ctx context.Context,
	contents []*genai.Content,
	cfg *genai.GenerateContentConfig,
) (*Analysis, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for attempt := 0; ; attempt++ {
		resp, err := a.client.GenerateContent(ctx, a.opts.Model, contents, cfg)
		if err == nil {
			analysis, perr := parseResponse(resp)
			if perr != nil {
				a.logger.WarnContext(ctx, "Permanent error occurred, not retrying", "error", perr)
				return nil, perr
			}
			a.logger.DebugContext(ctx, "Gemini API call successful",
				"attempt", attempt+1,
				"items", len(analysis.Items))
			return analysis, nil
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransientFailure, ctx.Err())
		}

		a.logger.WarnContext(ctx, "Gemini API call failed",
			"attempt", attempt+1,
			"error", err)

		if attempt >= a.opts.MaxRetries {
			return nil, fmt.Errorf("%w: exceeded maximum retry attempts (%d): %v",
				ErrTransientFailure, a.opts.MaxRetries, err)
		}

		// delay = base * 2^attempt * (0.5 + rand(0, 0.5))
		backoff := float64(a.opts.RetryDelay) * math.Pow(2, float64(attempt))
		delay := time.Duration(backoff * (0.5 + rng.Float64()*0.5))
		if err := a.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransientFailure, err)
		}
	}
}

func parseResponse(resp *genai.GenerateContentResponse) (*Analysis, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: nil response", ErrInvalidResponse)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no content generated", ErrInvalidResponse)
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return nil, ErrContentBlocked
	}
	if candidate.Content == nil {
		return nil, fmt.Errorf("%w: empty content in response", ErrInvalidResponse)
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			text.WriteString(part.Text)
		}
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(text.String()), &analysis); err != nil {
		return nil, fmt.Errorf("%w: failed to parse JSON response: %v", ErrInvalidResponse, err)
	}
	return &analysis, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
