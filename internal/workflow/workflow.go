// Package workflow dispatches the prompt → enhance → generate → approve
// stages and the independent share action. It holds no per-session state:
// every request carries the inputs its stage needs, and the caller
// round-trips results (enhanced prompt, record id) into the next request.
package workflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fpang/penguin-studio/internal/apperr"
	"github.com/fpang/penguin-studio/internal/cache"
	"github.com/fpang/penguin-studio/internal/enhancer"
	"github.com/fpang/penguin-studio/internal/events"
	"github.com/fpang/penguin-studio/internal/generator"
	"github.com/fpang/penguin-studio/internal/history"
	"github.com/fpang/penguin-studio/internal/metrics"
	"github.com/fpang/penguin-studio/internal/ratelimit"
	"github.com/fpang/penguin-studio/internal/social"
	"github.com/fpang/penguin-studio/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// Step names a workflow stage.
type Step string

const (
	StepEnhance  Step = "enhance"
	StepGenerate Step = "generate"
	StepApprove  Step = "approve"
	StepShare    Step = "share"
)

// DefaultMinPromptLength is the shortest prompt the enhance stage accepts.
const DefaultMinPromptLength = 3

// DefaultKind is used when a request names no media kind.
const DefaultKind = store.KindVideo

// Request is one inbound workflow call.
type Request struct {
	Step           string
	ClientID       string
	Kind           string
	Prompt         string
	EnhancedPrompt string
	OriginalPrompt string
	Constraints    generator.Constraints
	RecordID       string
	Decision       string
	MediaURL       string
	Caption        string
	Platform       string
	Schedule       string
	Target         string
}

// Response is a successful stage outcome. Result holds the stage payload:
// *enhancer.Result, *store.MediaRecord or social.Result.
type Response struct {
	Step    Step   `json:"step"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Result  any    `json:"result,omitempty"`
}

// Deps are the collaborators of a Workflow. Enhancer, Stores and Generators
// are required; the rest default to no-op behaviour.
type Deps struct {
	Enhancer        *enhancer.Enhancer
	Generators      map[store.MediaKind]generator.Generator
	Stores          map[store.MediaKind]store.RecordStore
	Publishers      *social.Registry
	Limiter         *ratelimit.Limiter
	Cache           cache.ResultStore
	History         *history.Collector
	Notifier        events.Notifier
	Observer        metrics.Observer
	MinPromptLength int
	MaxRecords      int
}

// Workflow is the stage dispatcher. It is safe for concurrent use.
type Workflow struct {
	enhancer   *enhancer.Enhancer
	generators map[store.MediaKind]generator.Generator
	stores     map[store.MediaKind]store.RecordStore
	publishers *social.Registry
	limiter    *ratelimit.Limiter
	cache      cache.ResultStore
	history    *history.Collector
	notifier   events.Notifier
	observer   metrics.Observer
	validate   *validator.Validate
	minPrompt  int
	maxRecords int
	now        func() time.Time
}

// New validates deps and builds a Workflow.
func New(d Deps) (*Workflow, error) {
	if d.Enhancer == nil {
		return nil, errors.New("workflow: enhancer is required")
	}
	if len(d.Stores) == 0 {
		return nil, errors.New("workflow: at least one record store is required")
	}
	if len(d.Generators) == 0 {
		return nil, errors.New("workflow: at least one generator is required")
	}

	w := &Workflow{
		enhancer:   d.Enhancer,
		generators: d.Generators,
		stores:     d.Stores,
		publishers: d.Publishers,
		limiter:    d.Limiter,
		cache:      d.Cache,
		history:    d.History,
		notifier:   d.Notifier,
		observer:   d.Observer,
		validate:   newValidator(),
		minPrompt:  d.MinPromptLength,
		maxRecords: d.MaxRecords,
		now:        time.Now,
	}
	if w.publishers == nil {
		w.publishers = social.NewRegistry()
	}
	if w.cache == nil {
		w.cache = cache.NewMemoryStore(enhanceCacheTTL)
	}
	if w.notifier == nil {
		w.notifier = events.Nop{}
	}
	if w.observer == nil {
		w.observer = metrics.Nop{}
	}
	if w.minPrompt <= 0 {
		w.minPrompt = DefaultMinPromptLength
	}
	if w.maxRecords <= 0 {
		w.maxRecords = store.DefaultMaxRecords
	}
	return w, nil
}

// Handle runs one stage. Errors are *apperr.Error values carrying the
// status the transport should answer with.
func (w *Workflow) Handle(ctx context.Context, req Request) (*Response, error) {
	step := Step(strings.ToLower(strings.TrimSpace(req.Step)))
	if step == "" {
		return nil, apperr.Validation("step is required")
	}

	if w.limiter != nil {
		if err := w.limiter.Check(req.ClientID); err != nil {
			w.observer.ObserveRateLimited()
			log.Warn().Str("clientId", req.ClientID).Str("step", string(step)).Msg("Rate limit exceeded")
			return nil, err
		}
	}

	start := w.now()
	var (
		resp    *Response
		outcome = metrics.OutcomeSuccess
		prefix  string
		err     error
	)
	switch step {
	case StepEnhance:
		prefix = "Failed to enhance prompt"
		resp, outcome, err = w.enhance(ctx, req)
	case StepGenerate:
		prefix = "Failed to generate " + kindName(req.Kind)
		resp, err = w.generate(ctx, req)
	case StepApprove:
		prefix = "Failed to update " + kindName(req.Kind) + " status"
		resp, err = w.approve(ctx, req)
	case StepShare:
		prefix = "Failed to share " + kindName(req.Kind)
		resp, err = w.share(ctx, req)
	default:
		return nil, apperr.Validation("invalid step: %s", req.Step)
	}

	elapsed := w.now().Sub(start)
	if err != nil {
		w.observer.ObserveStage(string(step), metrics.OutcomeFailure, elapsed)
		log.Error().Err(err).Str("step", string(step)).Dur("duration", elapsed).Msg("Workflow stage failed")
		return nil, apperr.Stage(prefix, err)
	}
	w.observer.ObserveStage(string(step), outcome, elapsed)
	log.Info().Str("step", string(step)).Str("outcome", outcome).Dur("duration", elapsed).Msg("Workflow stage complete")
	return resp, nil
}

// RateLimit reports the caller's allowance without consuming it.
func (w *Workflow) RateLimit(clientID string) ratelimit.Status {
	if w.limiter == nil {
		return ratelimit.Status{}
	}
	return w.limiter.Status(clientID)
}

// Platforms lists the configured share targets.
func (w *Workflow) Platforms() []string {
	return w.publishers.Platforms()
}

// Kinds lists the media kinds that have both a generator and a store.
func (w *Workflow) Kinds() []store.MediaKind {
	var kinds []store.MediaKind
	for _, k := range []store.MediaKind{store.KindImage, store.KindVideo} {
		if w.generators[k] != nil && w.stores[k] != nil {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func (w *Workflow) kind(raw string) (store.MediaKind, error) {
	if strings.TrimSpace(raw) == "" {
		return DefaultKind, nil
	}
	k, ok := store.ParseKind(strings.ToLower(strings.TrimSpace(raw)))
	if !ok {
		return "", apperr.Validation("unknown media kind: %s", raw)
	}
	return k, nil
}

func (w *Workflow) storeFor(kind store.MediaKind) (store.RecordStore, error) {
	s, ok := w.stores[kind]
	if !ok || s == nil {
		return nil, apperr.Validation("%s storage is not configured", kind)
	}
	return s, nil
}

func label(kind store.MediaKind) string {
	s := string(kind)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// kindName names the requested media kind for error prefixes.
func kindName(raw string) string {
	if k, ok := store.ParseKind(strings.ToLower(strings.TrimSpace(raw))); ok {
		return string(k)
	}
	if strings.TrimSpace(raw) == "" {
		return string(DefaultKind)
	}
	return "media"
}
