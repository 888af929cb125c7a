// Package enhancer rewrites a user's idea into a penguin-themed generation
// prompt. A remote prompt service is tried first; any failure falls back to
// a local composer so enhancement itself never fails on valid input.
package enhancer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fpang/penguin-studio/internal/apperr"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Limits and fixed strings.
const (
	DefaultMaxLength         = 1000
	DefaultEnhancedMaxLength = 4000
	DefaultServiceTimeout    = 30 * time.Second

	// ThemePrefix is prepended to the idea before it is sent to a prompt service.
	ThemePrefix = "cute adorable penguin "

	// ProviderFallback names results produced by the local composer.
	ProviderFallback = "fallback"

	defaultStyle      = "realistic-cute"
	fallbackReasoning = "Enhanced prompt to be penguin-themed with detailed characteristics and Antarctic setting (fallback)"
	wrapTemplate      = "A cute penguin in a scenario: %s. The penguin has fluffy black and white feathers, bright orange beak and webbed feet, adorable round dark eyes. Set in an Antarctic landscape with pristine white snow and sparkling ice formations."
)

var errEmptyOutput = errors.New("prompt service returned no prompt")

// Result is the outcome of one enhancement.
type Result struct {
	OriginalPrompt string `json:"originalPrompt"`
	EnhancedPrompt string `json:"enhancedPrompt"`
	Reasoning      string `json:"reasoning"`
	SuggestedStyle string `json:"suggestedStyle,omitempty"`
	IsAppropriate  bool   `json:"isAppropriate"`
	Provider       string `json:"provider"`
}

// Suggestion is what a prompt service returns.
type Suggestion struct {
	Prompt    string
	Reasoning string
	Style     string
}

// PromptService is a remote text-to-prompt model.
type PromptService interface {
	Name() string
	Suggest(ctx context.Context, concept string) (*Suggestion, error)
}

// Options configures an Enhancer. Zero values pick the defaults.
type Options struct {
	Service           PromptService
	Catalog           *Catalog
	Selector          Selector
	MaxLength         int
	EnhancedMaxLength int
	Timeout           time.Duration
	// BreakerFailures is the number of consecutive service failures that
	// open the circuit. Zero means 5.
	BreakerFailures uint32
	// BreakerCooldown is how long the circuit stays open. Zero means 30s.
	BreakerCooldown time.Duration
	// OnFallback is called whenever the local composer is used.
	OnFallback func(reason string, err error)
}

// Enhancer validates ideas and turns them into penguin prompts.
type Enhancer struct {
	service     PromptService
	catalog     *Catalog
	pick        Selector
	maxLen      int
	enhancedMax int
	timeout     time.Duration
	breaker     *gobreaker.CircuitBreaker
	onFallback  func(string, error)
}

// New creates an Enhancer. It fails only when no catalog is given and the
// embedded one cannot be parsed.
func New(opts Options) (*Enhancer, error) {
	catalog := opts.Catalog
	if catalog == nil {
		c, err := DefaultCatalog()
		if err != nil {
			return nil, err
		}
		catalog = c
	}
	e := &Enhancer{
		service:     opts.Service,
		catalog:     catalog,
		pick:        opts.Selector,
		maxLen:      opts.MaxLength,
		enhancedMax: opts.EnhancedMaxLength,
		timeout:     opts.Timeout,
		onFallback:  opts.OnFallback,
	}
	if e.pick == nil {
		e.pick = RandomSelector()
	}
	if e.maxLen <= 0 {
		e.maxLen = DefaultMaxLength
	}
	if e.enhancedMax <= 0 {
		e.enhancedMax = DefaultEnhancedMaxLength
	}
	if e.timeout <= 0 {
		e.timeout = DefaultServiceTimeout
	}

	failures := opts.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	cooldown := opts.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	name := "prompt-service"
	if e.service != nil {
		name = "prompt-" + e.service.Name()
	}
	e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Prompt service circuit changed state")
		},
	})
	return e, nil
}

// ServiceName returns the configured prompt service name, or "fallback".
func (e *Enhancer) ServiceName() string {
	if e.service == nil {
		return ProviderFallback
	}
	return e.service.Name()
}

// Validate checks raw against the input limits.
func (e *Enhancer) Validate(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return apperr.Validation("Prompt cannot be empty")
	}
	if utf8.RuneCountInString(raw) > e.maxLen {
		return apperr.Validation("Prompt is too long (max %d characters)", e.maxLen)
	}
	return nil
}

// Enhance rewrites raw into a penguin prompt. Only invalid input returns an error.
func (e *Enhancer) Enhance(ctx context.Context, raw string) (*Result, error) {
	if err := e.Validate(raw); err != nil {
		return nil, err
	}
	idea := strings.TrimSpace(raw)

	if e.service == nil {
		return e.fallback(raw, idea, "no prompt service configured", nil), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	out, err := e.breaker.Execute(func() (any, error) {
		s, err := e.service.Suggest(callCtx, ThemePrefix+idea)
		if err != nil {
			return nil, err
		}
		if s == nil || strings.TrimSpace(s.Prompt) == "" {
			return nil, errEmptyOutput
		}
		return s, nil
	})
	if err != nil {
		return e.fallback(raw, idea, "prompt service failed", err), nil
	}

	s := out.(*Suggestion)
	text := strings.TrimSpace(s.Prompt)
	if !ContainsTheme(text) {
		text = fmt.Sprintf(wrapTemplate, text)
	}
	if utf8.RuneCountInString(text) > e.enhancedMax {
		return e.fallback(raw, idea, "prompt service output too long", nil), nil
	}

	reasoning := s.Reasoning
	if reasoning == "" {
		reasoning = fmt.Sprintf("Enhanced prompt with penguin theme using the %s prompt service", e.service.Name())
	}
	style := s.Style
	if style == "" {
		style = defaultStyle
	}

	log.Debug().Str("provider", e.service.Name()).Int("length", len(text)).Msg("Prompt enhanced")
	return &Result{
		OriginalPrompt: raw,
		EnhancedPrompt: text,
		Reasoning:      reasoning,
		SuggestedStyle: style,
		IsAppropriate:  true,
		Provider:       e.service.Name(),
	}, nil
}

func (e *Enhancer) fallback(raw, idea, reason string, err error) *Result {
	log.Warn().Err(err).Str("reason", reason).Msg("Using local prompt composer")
	if e.onFallback != nil {
		e.onFallback(reason, err)
	}
	return &Result{
		OriginalPrompt: raw,
		EnhancedPrompt: e.catalog.Compose(idea, e.pick),
		Reasoning:      fallbackReasoning,
		SuggestedStyle: defaultStyle,
		IsAppropriate:  true,
		Provider:       ProviderFallback,
	}
}
