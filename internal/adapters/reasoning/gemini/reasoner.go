// Package gemini explains correlation candidates with the Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/evanschultz/cadence/internal/domain"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

const (
	defaultMaxOutputTokens = 1024
	defaultTemperature     = 0.2
)

// ErrMissingAPIKey reports a reasoner constructed without credentials.
var ErrMissingAPIKey = errors.New("gemini api key is required")

// ErrTruncatedResponse reports a response cut off by the output token budget.
var ErrTruncatedResponse = errors.New("gemini response truncated by token budget")

// ErrEmptyResponse reports a response without text.
var ErrEmptyResponse = errors.New("gemini response has no text")

// Config holds reasoner settings.
type Config struct {
	APIKey          string
	Model           string
	MaxOutputTokens int
	Temperature     float32
}

// generator is the subset of *genai.Models the reasoner calls.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Usage is the token accounting of one call.
type Usage struct {
	PromptTokens   int32
	ResponseTokens int32
	TotalTokens    int32
}

// Reasoner implements app.Reasoner over the Gemini API.
type Reasoner struct {
	gen         generator
	model       string
	maxTokens   int32
	temperature float32
	onUsage     func(Usage)
}

// Option customizes a reasoner.
type Option func(*Reasoner)

// WithUsageHook registers fn to receive token usage after each successful call.
func WithUsageHook(fn func(Usage)) Option {
	return func(r *Reasoner) {
		r.onUsage = fn
	}
}

// New constructs a reasoner backed by a Gemini API client.
func New(ctx context.Context, cfg Config, opts ...Option) (*Reasoner, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return newReasoner(client.Models, cfg, opts...), nil
}

func newReasoner(gen generator, cfg Config, opts ...Option) *Reasoner {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxOutputTokens
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}
	r := &Reasoner{
		gen:         gen,
		model:       model,
		maxTokens:   int32(maxTokens),
		temperature: temperature,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Model returns the configured model name.
func (r *Reasoner) Model() string {
	return r.model
}

// Explain sends one candidate to the model and decodes its JSON verdict.
func (r *Reasoner) Explain(ctx context.Context, req domain.ReasoningRequest) (domain.ReasoningResponse, error) {
	prompt, err := buildPrompt(req)
	if err != nil {
		return domain.ReasoningResponse{}, err
	}
	resp, err := r.gen.GenerateContent(ctx, r.model, genai.Text(prompt), r.generateConfig())
	if err != nil {
		return domain.ReasoningResponse{}, fmt.Errorf("gemini generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return domain.ReasoningResponse{}, ErrEmptyResponse
	}
	if resp.Candidates[0].FinishReason == genai.FinishReasonMaxTokens {
		return domain.ReasoningResponse{}, ErrTruncatedResponse
	}
	out, err := parseResponse(resp.Text())
	if err != nil {
		return domain.ReasoningResponse{}, err
	}
	if r.onUsage != nil && resp.UsageMetadata != nil {
		r.onUsage(Usage{
			PromptTokens:   resp.UsageMetadata.PromptTokenCount,
			ResponseTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:    resp.UsageMetadata.TotalTokenCount,
		})
	}
	return out, nil
}

func (r *Reasoner) generateConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		Temperature:       genai.Ptr(r.temperature),
		MaxOutputTokens:   r.maxTokens,
		ResponseMIMEType:  "application/json",
		ResponseSchema:    responseSchema(),
	}
}

const systemInstruction = `You analyze marketing campaign execution. Given one execution event
and the before/after movement of weekly performance metrics, judge whether the event plausibly
explains the movement. Answer with a single JSON object and nothing else.`

func buildPrompt(req domain.ReasoningRequest) (string, error) {
	payload, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode reasoning request: %w", err)
	}
	var b strings.Builder
	b.WriteString("Execution event and metric context:\n")
	b.Write(payload)
	b.WriteString("\n\nRespond with fields performance_impact (positive|negative|neutral|unknown), ")
	b.WriteString("correlation_strength (strong|moderate|weak|none), ai_analysis (two sentences at most), ")
	b.WriteString("confidence (integer 0-100), and actionable_insight (one recommendation).")
	return b.String(), nil
}

func responseSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"performance_impact": {
				Type: genai.TypeString,
				Enum: []string{
					string(domain.ImpactPositive),
					string(domain.ImpactNegative),
					string(domain.ImpactNeutral),
					string(domain.ImpactUnknown),
				},
			},
			"correlation_strength": {
				Type: genai.TypeString,
				Enum: []string{
					string(domain.StrengthStrong),
					string(domain.StrengthModerate),
					string(domain.StrengthWeak),
					string(domain.StrengthNone),
				},
			},
			"ai_analysis":        {Type: genai.TypeString},
			"confidence":         {Type: genai.TypeInteger},
			"actionable_insight": {Type: genai.TypeString},
		},
		Required: []string{"performance_impact", "correlation_strength", "ai_analysis", "confidence", "actionable_insight"},
	}
}

// parseResponse decodes the model's JSON, tolerating a markdown code fence around it.
func parseResponse(text string) (domain.ReasoningResponse, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ReasoningResponse{}, ErrEmptyResponse
	}
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	var out domain.ReasoningResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &out); err != nil {
		return domain.ReasoningResponse{}, fmt.Errorf("%w: %v", domain.ErrInvalidReasoningResponse, err)
	}
	out.PerformanceImpact = domain.PerformanceImpact(strings.ToLower(strings.TrimSpace(string(out.PerformanceImpact))))
	out.CorrelationStrength = domain.CorrelationStrength(strings.ToLower(strings.TrimSpace(string(out.CorrelationStrength))))
	out.Analysis = strings.TrimSpace(out.Analysis)
	out.ActionableInsight = strings.TrimSpace(out.ActionableInsight)
	if err := out.Validate(); err != nil {
		return domain.ReasoningResponse{}, err
	}
	return out, nil
}
