package workflow

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fpang/penguin-studio/internal/apperr"
	"github.com/fpang/penguin-studio/internal/enhancer"
	"github.com/fpang/penguin-studio/internal/events"
	"github.com/fpang/penguin-studio/internal/metrics"
	"github.com/fpang/penguin-studio/internal/social"
	"github.com/fpang/penguin-studio/internal/store"
	"github.com/rs/zerolog/log"
)

// enhanceCacheTTL bounds how long an enhancement is reused for the same prompt.
const enhanceCacheTTL = 10 * time.Minute

// EnhanceCacheKey is the cache key of an enhancement result.
func EnhanceCacheKey(prompt string) string {
	return "enhance:" + prompt
}

func (w *Workflow) enhance(ctx context.Context, req Request) (*Response, string, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if utf8.RuneCountInString(prompt) < w.minPrompt {
		return nil, "", apperr.Validation("Prompt must be at least %d characters", w.minPrompt)
	}
	if err := w.enhancer.Validate(req.Prompt); err != nil {
		return nil, "", err
	}

	key := EnhanceCacheKey(req.Prompt)
	if data, ok := w.cache.Get(ctx, key); ok {
		var cached enhancer.Result
		if err := json.Unmarshal(data, &cached); err == nil {
			log.Debug().Str("key", key).Msg("Enhancement cache hit")
			return &Response{Step: StepEnhance, Success: true, Result: &cached}, metrics.OutcomeCached, nil
		}
		log.Warn().Str("key", key).Msg("Discarding unreadable cached enhancement")
	}

	result, err := w.enhancer.Enhance(ctx, req.Prompt)
	if err != nil {
		return nil, "", err
	}

	outcome := metrics.OutcomeSuccess
	if result.Provider == enhancer.ProviderFallback {
		outcome = metrics.OutcomeFallback
	}
	w.observer.ObserveProvider(result.Provider, outcome)

	if data, err := json.Marshal(result); err == nil {
		w.cache.Set(ctx, key, data)
	}
	return &Response{Step: StepEnhance, Success: true, Result: result}, outcome, nil
}

func (w *Workflow) generate(ctx context.Context, req Request) (*Response, error) {
	enhanced := strings.TrimSpace(req.EnhancedPrompt)
	if enhanced == "" {
		return nil, apperr.Validation("Enhanced prompt is required")
	}
	kind, err := w.kind(req.Kind)
	if err != nil {
		return nil, err
	}
	gen, ok := w.generators[kind]
	if !ok || gen == nil {
		return nil, apperr.Validation("%s generation is not configured", kind)
	}
	records, err := w.storeFor(kind)
	if err != nil {
		return nil, err
	}

	rec, err := gen.Generate(ctx, enhanced, req.Constraints)
	if err != nil {
		w.observer.ObserveProvider(gen.Name(), metrics.OutcomeFailure)
		return nil, err
	}
	w.observer.ObserveProvider(gen.Name(), metrics.OutcomeSuccess)

	rec.EnhancedPrompt = enhanced
	if original := strings.TrimSpace(req.OriginalPrompt); original != "" {
		rec.Prompt = original
	}
	if err := records.Append(ctx, *rec); err != nil {
		return nil, err
	}

	log.Info().Str("id", rec.ID).Str("kind", string(kind)).Str("provider", gen.Name()).Msg("Media generated")
	return &Response{Step: StepGenerate, Success: true, Result: rec}, nil
}

func (w *Workflow) approve(ctx context.Context, req Request) (*Response, error) {
	in := approveInput{
		RecordID: strings.TrimSpace(req.RecordID),
		Decision: strings.ToLower(strings.TrimSpace(req.Decision)),
	}
	if err := w.check(in); err != nil {
		return nil, err
	}
	kind, err := w.kind(req.Kind)
	if err != nil {
		return nil, err
	}
	records, err := w.storeFor(kind)
	if err != nil {
		return nil, err
	}

	status := store.StatusApproved
	if strings.HasPrefix(in.Decision, "reject") {
		status = store.StatusRejected
	}
	if err := records.UpdateStatus(ctx, in.RecordID, status); err != nil {
		return nil, err
	}

	w.notifyReviewed(ctx, records, in.RecordID)

	return &Response{
		Step:    StepApprove,
		Success: true,
		Message: label(kind) + " " + string(status) + " successfully!",
	}, nil
}

// notifyReviewed emits the review decision. Hook failures are logged only.
func (w *Workflow) notifyReviewed(ctx context.Context, records store.RecordStore, id string) {
	rec, err := records.Get(ctx, id)
	if err != nil {
		log.Warn().Err(err).Str("id", id).Msg("Reviewed record not readable, skipping notification")
		return
	}
	if err := w.notifier.MediaReviewed(ctx, events.NewMediaReviewed(*rec, w.now())); err != nil {
		log.Warn().Err(err).Str("id", id).Msg("Review notification failed")
	}
}

func (w *Workflow) share(ctx context.Context, req Request) (*Response, error) {
	in := shareInput{
		MediaURL: strings.TrimSpace(req.MediaURL),
		Caption:  strings.TrimSpace(req.Caption),
		Platform: strings.ToLower(strings.TrimSpace(req.Platform)),
		Schedule: strings.TrimSpace(req.Schedule),
	}
	if err := w.check(in); err != nil {
		return nil, err
	}
	kind, err := w.kind(req.Kind)
	if err != nil {
		return nil, err
	}
	pub, err := w.publishers.Get(in.Platform)
	if err != nil {
		return nil, err
	}

	post := social.Post{
		Kind:     kind,
		MediaURL: in.MediaURL,
		Caption:  in.Caption,
		Target:   strings.TrimSpace(req.Target),
	}
	post.ScheduledAt = w.scheduleFor(ctx, pub, in.Schedule)

	result := pub.Publish(ctx, post)
	outcome := metrics.OutcomeSuccess
	if !result.Success {
		outcome = metrics.OutcomeFailure
	}
	w.observer.ObserveProvider(pub.Platform(), outcome)

	return &Response{Step: StepShare, Success: result.Success, Message: result.Message, Result: result}, nil
}

// scheduleFor resolves the schedule field: empty or "now" posts immediately,
// "optimal" asks schedulers for a slot, anything else is an RFC 3339 time.
func (w *Workflow) scheduleFor(ctx context.Context, pub social.Publisher, schedule string) *time.Time {
	switch strings.ToLower(schedule) {
	case "", ScheduleNow:
		return nil
	case ScheduleOptimal:
		s, ok := pub.(social.Scheduler)
		if !ok {
			log.Debug().Str("platform", pub.Platform()).Msg("Platform has no scheduling, posting now")
			return nil
		}
		t := s.OptimalTime(ctx)
		return &t
	}
	t, err := time.Parse(time.RFC3339, schedule)
	if err != nil {
		return nil
	}
	return &t
}
