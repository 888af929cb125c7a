package enhancer

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/fpang/penguin-studio/internal/apperr"
	"github.com/fpang/penguin-studio/internal/assets"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// ContentGenerator is the subset of genai.Models used for prompt rewriting.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiService rewrites ideas with a Gemini text model.
type GeminiService struct {
	models ContentGenerator
	model  string
}

var _ PromptService = (*GeminiService)(nil)

// NewGeminiClient creates a Gemini API client for apiKey.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
}

// NewGeminiService wraps models (usually client.Models) with the given model name.
func NewGeminiService(models ContentGenerator, model string) *GeminiService {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiService{models: models, model: model}
}

func (g *GeminiService) Name() string { return "gemini" }

func (g *GeminiService) Suggest(ctx context.Context, concept string) (*Suggestion, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: assets.EnhancerSystemPrompt}}},
		ResponseMIMEType:  "application/json",
	}

	log.Debug().Str("model", g.model).Int("conceptLength", len(concept)).Msg("Requesting Gemini prompt rewrite")
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(concept), config)
	if err != nil {
		return nil, apperr.FromGenAI("gemini", err)
	}
	return parseSuggestion(resp.Text()), nil
}

type suggestionJSON struct {
	Prompt    string `json:"prompt"`
	Reasoning string `json:"reasoning"`
	Style     string `json:"style"`
}

// parseSuggestion accepts the JSON reply, optionally wrapped in markdown
// fences or prose. Anything that does not decode is taken as the prompt itself.
func parseSuggestion(raw string) *Suggestion {
	text := stripFences(raw)
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		var s suggestionJSON
		if err := json.Unmarshal([]byte(text[start:end+1]), &s); err == nil && s.Prompt != "" {
			return &Suggestion{
				Prompt:    strings.TrimSpace(s.Prompt),
				Reasoning: strings.TrimSpace(s.Reasoning),
				Style:     strings.TrimSpace(s.Style),
			}
		}
	}
	return &Suggestion{Prompt: text}
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return text
	}
	end := len(lines) - 1
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			end = i
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines[1:end], "\n"))
}
