package workflow

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fpang/penguin-studio/internal/apperr"
	"github.com/fpang/penguin-studio/internal/enhancer"
	"github.com/fpang/penguin-studio/internal/events"
	"github.com/fpang/penguin-studio/internal/generator"
	"github.com/fpang/penguin-studio/internal/history"
	"github.com/fpang/penguin-studio/internal/metrics"
	"github.com/fpang/penguin-studio/internal/ratelimit"
	"github.com/fpang/penguin-studio/internal/social"
	"github.com/fpang/penguin-studio/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingService struct {
	calls atomic.Int32
}

func (c *countingService) Name() string { return "counting" }

func (c *countingService) Suggest(_ context.Context, concept string) (*enhancer.Suggestion, error) {
	c.calls.Add(1)
	return &enhancer.Suggestion{Prompt: "A fluffy " + concept + " riding a wave", Reasoning: "r"}, nil
}

type recordingNotifier struct {
	events []events.MediaReviewed
}

func (r *recordingNotifier) MediaReviewed(_ context.Context, e events.MediaReviewed) error {
	r.events = append(r.events, e)
	return nil
}

type recordingObserver struct {
	stages      []string
	rateLimited int
}

func (r *recordingObserver) ObserveStage(step, outcome string, _ time.Duration) {
	r.stages = append(r.stages, step+":"+outcome)
}
func (r *recordingObserver) ObserveProvider(string, string) {}
func (r *recordingObserver) ObserveRateLimited()            { r.rateLimited++ }

type stubPublisher struct {
	platform string
	post     social.Post
}

func (s *stubPublisher) Platform() string { return s.platform }
func (s *stubPublisher) Publish(_ context.Context, post social.Post) social.Result {
	s.post = post
	return social.Result{Platform: s.platform, Success: false, Message: "Failed to post", Error: "upstream 502"}
}

type stubScheduler struct {
	stubPublisher
	at time.Time
}

func (s *stubScheduler) OptimalTime(context.Context) time.Time { return s.at }

type fixture struct {
	wf       *Workflow
	svc      *countingService
	stores   map[store.MediaKind]store.RecordStore
	notifier *recordingNotifier
	observer *recordingObserver
	pub      *stubPublisher
	sched    *stubScheduler
}

func newFixture(t *testing.T, limit int, svc enhancer.PromptService) *fixture {
	t.Helper()
	dir := t.TempDir()

	opts := enhancer.Options{Selector: enhancer.FixedSelector(0), BreakerCooldown: time.Hour}
	var counting *countingService
	if svc != nil {
		opts.Service = svc
		counting, _ = svc.(*countingService)
	}
	enh, err := enhancer.New(opts)
	require.NoError(t, err)

	stores := map[store.MediaKind]store.RecordStore{}
	for _, k := range []store.MediaKind{store.KindImage, store.KindVideo} {
		s, err := store.NewJSONStore(dir, k, 0)
		require.NoError(t, err)
		stores[k] = s
	}

	f := &fixture{
		svc:      counting,
		stores:   stores,
		notifier: &recordingNotifier{},
		observer: &recordingObserver{},
		pub:      &stubPublisher{platform: "zapier"},
		sched:    &stubScheduler{stubPublisher: stubPublisher{platform: "buffer"}, at: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)},
	}
	f.wf, err = New(Deps{
		Enhancer: enh,
		Generators: map[store.MediaKind]generator.Generator{
			store.KindImage: generator.NewMock(store.KindImage, 0),
			store.KindVideo: generator.NewMock(store.KindVideo, 0),
		},
		Stores:     stores,
		Publishers: social.NewRegistry(f.pub, f.sched),
		Limiter:    ratelimit.New(limit, time.Minute),
		History:    history.NewCollector(),
		Notifier:   f.notifier,
		Observer:   f.observer,
	})
	require.NoError(t, err)
	return f
}

func TestHandle_MissingStepIsValidationBeforeRateLimit(t *testing.T) {
	f := newFixture(t, 1, nil)
	for range 3 {
		_, err := f.wf.Handle(context.Background(), Request{ClientID: "1.2.3.4"})
		require.Error(t, err)
		assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	}
	assert.Zero(t, f.observer.rateLimited)
}

func TestHandle_InvalidStep(t *testing.T) {
	f := newFixture(t, 10, nil)
	_, err := f.wf.Handle(context.Background(), Request{Step: "dance"})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, apperr.StatusOf(err))
	assert.Contains(t, err.Error(), "invalid step")
}

func TestHandle_RateLimitAppliesToEveryStep(t *testing.T) {
	f := newFixture(t, 2, nil)
	ctx := context.Background()

	_, err := f.wf.Handle(ctx, Request{Step: "enhance", Prompt: "a penguin surfing", ClientID: "c"})
	require.NoError(t, err)
	_, err = f.wf.Handle(ctx, Request{Step: "approve", ClientID: "c"})
	require.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = f.wf.Handle(ctx, Request{Step: "enhance", Prompt: "a penguin surfing", ClientID: "c"})
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, apperr.StatusOf(err))
	assert.Equal(t, 1, f.observer.rateLimited)

	_, err = f.wf.Handle(ctx, Request{Step: "enhance", Prompt: "a penguin surfing", ClientID: "other"})
	assert.NoError(t, err)
}

func TestEnhance_ShortPromptMakesNoCall(t *testing.T) {
	svc := &countingService{}
	f := newFixture(t, 10, svc)

	_, err := f.wf.Handle(context.Background(), Request{Step: "enhance", Prompt: "  ab "})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	assert.Contains(t, err.Error(), "Failed to enhance prompt: Prompt must be at least 3 characters")
	assert.Zero(t, svc.calls.Load())
}

func TestEnhance_LongPromptMakesNoCall(t *testing.T) {
	svc := &countingService{}
	f := newFixture(t, 10, svc)

	_, err := f.wf.Handle(context.Background(), Request{Step: "enhance", Prompt: strings.Repeat("p", 1001)})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	assert.Zero(t, svc.calls.Load())
}

func TestEnhance_CachedWithinTTL(t *testing.T) {
	svc := &countingService{}
	f := newFixture(t, 10, svc)
	ctx := context.Background()

	first, err := f.wf.Handle(ctx, Request{Step: "enhance", Prompt: "a penguin surfing"})
	require.NoError(t, err)
	second, err := f.wf.Handle(ctx, Request{Step: "enhance", Prompt: "a penguin surfing"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), svc.calls.Load())
	assert.Equal(t, first.Result.(*enhancer.Result).EnhancedPrompt, second.Result.(*enhancer.Result).EnhancedPrompt)
	assert.Equal(t, []string{"enhance:success", "enhance:cached"}, f.observer.stages)
}

func TestEndToEnd_EnhanceGenerateApprove(t *testing.T) {
	f := newFixture(t, 10, nil)
	ctx := context.Background()

	resp, err := f.wf.Handle(ctx, Request{Step: "enhance", Prompt: "a penguin surfing"})
	require.NoError(t, err)
	enh := resp.Result.(*enhancer.Result)
	assert.Equal(t, "a penguin surfing", enh.OriginalPrompt)
	assert.Contains(t, strings.ToLower(enh.EnhancedPrompt), "penguin")
	assert.True(t, enh.IsAppropriate)

	resp, err = f.wf.Handle(ctx, Request{
		Step:           "generate",
		EnhancedPrompt: enh.EnhancedPrompt,
		OriginalPrompt: enh.OriginalPrompt,
	})
	require.NoError(t, err)
	rec := resp.Result.(*store.MediaRecord)
	assert.Equal(t, store.StatusCompleted, rec.Status)
	assert.Equal(t, store.KindVideo, rec.Kind)
	assert.NotEmpty(t, rec.MediaURL)
	assert.Equal(t, "a penguin surfing", rec.Prompt)
	assert.Equal(t, enh.EnhancedPrompt, rec.EnhancedPrompt)

	loaded, err := f.stores[store.KindVideo].Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, rec.ID, loaded[0].ID)

	resp, err = f.wf.Handle(ctx, Request{Step: "approve", RecordID: rec.ID})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "Video approved successfully!", resp.Message)

	got, err := f.stores[store.KindVideo].Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusApproved, got.Status)
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, rec.ID, f.notifier.events[0].RecordID)

	records, err := f.wf.Records(ctx, "video")
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestGenerate_RequiresEnhancedPrompt(t *testing.T) {
	f := newFixture(t, 10, nil)
	_, err := f.wf.Handle(context.Background(), Request{Step: "generate", Kind: "image"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to generate image: Enhanced prompt is required")
}

func TestApprove_RejectAndUnknownID(t *testing.T) {
	f := newFixture(t, 10, nil)
	ctx := context.Background()

	resp, err := f.wf.Handle(ctx, Request{Step: "generate", Kind: "image", EnhancedPrompt: "cute penguin"})
	require.NoError(t, err)
	id := resp.Result.(*store.MediaRecord).ID

	resp, err = f.wf.Handle(ctx, Request{Step: "approve", Kind: "image", RecordID: id, Decision: "reject"})
	require.NoError(t, err)
	assert.Equal(t, "Image rejected successfully!", resp.Message)

	_, err = f.wf.Handle(ctx, Request{Step: "approve", Kind: "image", RecordID: "img_missing"})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, apperr.StatusOf(err))

	_, err = f.wf.Handle(ctx, Request{Step: "approve", Kind: "image", RecordID: id, Decision: "maybe"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestShare_ValidatesInput(t *testing.T) {
	f := newFixture(t, 10, nil)

	_, err := f.wf.Handle(context.Background(), Request{Step: "share", Platform: "zapier"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	assert.Contains(t, err.Error(), "mediaUrl")
	assert.Contains(t, err.Error(), "caption")

	_, err = f.wf.Handle(context.Background(), Request{Step: "share", Platform: "myspace", MediaURL: "https://x/v.mp4", Caption: "c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "myspace")
}

func TestShare_FailureIsResultNotError(t *testing.T) {
	f := newFixture(t, 10, nil)

	resp, err := f.wf.Handle(context.Background(), Request{
		Step: "share", Platform: "zapier", MediaURL: "https://x/v.mp4", Caption: "Waddle", Target: "instagram",
	})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	res := resp.Result.(social.Result)
	assert.Equal(t, "upstream 502", res.Error)
	assert.Equal(t, "instagram", f.pub.post.Target)
	assert.Nil(t, f.pub.post.ScheduledAt)
}

func TestShare_OptimalSchedule(t *testing.T) {
	f := newFixture(t, 10, nil)

	_, err := f.wf.Handle(context.Background(), Request{
		Step: "share", Platform: "buffer", MediaURL: "https://x/v.mp4", Caption: "c", Schedule: "optimal",
	})
	require.NoError(t, err)
	require.NotNil(t, f.sched.post.ScheduledAt)
	assert.Equal(t, f.sched.at, *f.sched.post.ScheduledAt)

	_, err = f.wf.Handle(context.Background(), Request{
		Step: "share", Platform: "buffer", MediaURL: "https://x/v.mp4", Caption: "c", Schedule: "2026-07-01T10:00:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC), f.sched.post.ScheduledAt.UTC())

	_, err = f.wf.Handle(context.Background(), Request{
		Step: "share", Platform: "buffer", MediaURL: "https://x/v.mp4", Caption: "c", Schedule: "tomorrow",
	})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestRecords_MergesHistory(t *testing.T) {
	f := newFixture(t, 10, nil)
	ctx := context.Background()
	_, err := f.wf.Handle(ctx, Request{Step: "generate", Kind: "image", EnhancedPrompt: "cute penguin"})
	require.NoError(t, err)

	f.wf.history = history.NewCollector(staticSource{records: []store.MediaRecord{{
		ID: "s3_old", Kind: store.KindImage, Prompt: "p", MediaURL: "https://b/old.png",
		CreatedAt: time.Now().Add(-time.Hour),
	}}})

	records, err := f.wf.Records(ctx, "image")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "s3_old", records[1].ID)

	_, err = f.wf.Records(ctx, "audio")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

type staticSource struct{ records []store.MediaRecord }

func (s staticSource) Name() string { return "static" }
func (s staticSource) Fetch(context.Context, store.MediaKind) ([]store.MediaRecord, error) {
	return s.records, nil
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

var _ metrics.Observer = (*recordingObserver)(nil)
