package enhancer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fpang/penguin-studio/internal/apperr"
)

// Defaults for the fal.ai prompt generator.
const (
	DefaultFalBaseURL     = "https://fal.run"
	DefaultFalPromptModel = "fal-ai/video-prompt-generator"
)

// FalService rewrites ideas with fal.ai's video prompt generator.
type FalService struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

var _ PromptService = (*FalService)(nil)

// NewFalService creates a FalService. Empty baseURL or model pick the defaults.
func NewFalService(apiKey, baseURL, model string) *FalService {
	if baseURL == "" {
		baseURL = DefaultFalBaseURL
	}
	if model == "" {
		model = DefaultFalPromptModel
	}
	return &FalService{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (f *FalService) Name() string { return "fal" }

type falPromptInput struct {
	InputConcept    string `json:"input_concept"`
	Style           string `json:"style"`
	CameraStyle     string `json:"camera_style"`
	CameraDirection string `json:"camera_direction"`
	Pacing          string `json:"pacing"`
	SpecialEffects  string `json:"special_effects"`
	Model           string `json:"model"`
	PromptLength    string `json:"prompt_length"`
}

type falPromptOutput struct {
	Prompt string `json:"prompt"`
}

func (f *FalService) Suggest(ctx context.Context, concept string) (*Suggestion, error) {
	body, err := json.Marshal(falPromptInput{
		InputConcept:    concept,
		Style:           "Detailed",
		CameraStyle:     "Gimbal smoothness",
		CameraDirection: "None",
		Pacing:          "Slow burn",
		SpecialEffects:  "None",
		Model:           "google/gemini-flash-1.5",
		PromptLength:    "Medium",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal fal input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/"+f.model, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+f.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, apperr.API("fal", 0, "request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.API("fal", resp.StatusCode, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.API("fal", resp.StatusCode, fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(string(data), 200)), nil)
	}

	var out falPromptOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, apperr.API("fal", resp.StatusCode, "malformed response", err)
	}
	return &Suggestion{
		Prompt:    out.Prompt,
		Reasoning: "Enhanced prompt for video generation with penguin theme using fal.ai video prompt generator",
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
