package enhancer

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fpang/penguin-studio/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	calls   atomic.Int32
	out     *Suggestion
	err     error
	concept string
}

func (f *fakeService) Name() string { return "fake" }

func (f *fakeService) Suggest(_ context.Context, concept string) (*Suggestion, error) {
	f.calls.Add(1)
	f.concept = concept
	return f.out, f.err
}

func newTestEnhancer(t *testing.T, svc PromptService) *Enhancer {
	t.Helper()
	opts := Options{Selector: FixedSelector(0), BreakerCooldown: time.Hour}
	if svc != nil {
		opts.Service = svc
	}
	e, err := New(opts)
	require.NoError(t, err)
	return e
}

func TestEnhance_RejectsInvalidInputWithoutCallingService(t *testing.T) {
	svc := &fakeService{out: &Suggestion{Prompt: "penguin"}}
	e := newTestEnhancer(t, svc)

	for _, raw := range []string{"", "   \n\t", strings.Repeat("a", DefaultMaxLength+1)} {
		_, err := e.Enhance(context.Background(), raw)
		require.Error(t, err)
		assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	}
	assert.Zero(t, svc.calls.Load())
}

func TestEnhance_ServiceOutputWithThemeIsVerbatim(t *testing.T) {
	svc := &fakeService{out: &Suggestion{Prompt: "  A Penguin surfs a glassy wave at dawn  ", Style: "cinematic"}}
	e := newTestEnhancer(t, svc)

	res, err := e.Enhance(context.Background(), "surfing at dawn")
	require.NoError(t, err)
	assert.Equal(t, "A Penguin surfs a glassy wave at dawn", res.EnhancedPrompt)
	assert.Equal(t, "cute adorable penguin surfing at dawn", svc.concept)
	assert.Equal(t, "fake", res.Provider)
	assert.Equal(t, "cinematic", res.SuggestedStyle)
	assert.Equal(t, "surfing at dawn", res.OriginalPrompt)
	assert.True(t, res.IsAppropriate)
}

func TestEnhance_ServiceOutputWithoutThemeIsWrapped(t *testing.T) {
	svc := &fakeService{out: &Suggestion{Prompt: "A surfer rides a wave"}}
	e := newTestEnhancer(t, svc)

	res, err := e.Enhance(context.Background(), "surfing")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.EnhancedPrompt, "A cute penguin in a scenario: A surfer rides a wave."))
	assert.Contains(t, res.EnhancedPrompt, "Antarctic landscape")
	assert.Equal(t, defaultStyle, res.SuggestedStyle)
}

func TestEnhance_FallsBackOnServiceFailure(t *testing.T) {
	tests := []struct {
		name string
		svc  *fakeService
	}{
		{"error", &fakeService{err: errors.New("connection refused")}},
		{"empty output", &fakeService{out: &Suggestion{Prompt: "   "}}},
		{"nil output", &fakeService{}},
		{"too long", &fakeService{out: &Suggestion{Prompt: "penguin " + strings.Repeat("x", DefaultEnhancedMaxLength)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fallbacks int
			e, err := New(Options{
				Service:    tt.svc,
				Selector:   FixedSelector(0),
				OnFallback: func(string, error) { fallbacks++ },
			})
			require.NoError(t, err)

			res, err := e.Enhance(context.Background(), "dancing")
			require.NoError(t, err)
			assert.Equal(t, ProviderFallback, res.Provider)
			assert.True(t, ContainsTheme(res.EnhancedPrompt))
			assert.Equal(t, 1, fallbacks)
		})
	}
}

func TestEnhance_OpenBreakerSkipsService(t *testing.T) {
	svc := &fakeService{err: errors.New("503")}
	e, err := New(Options{Service: svc, Selector: FixedSelector(0), BreakerFailures: 2, BreakerCooldown: time.Hour})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		res, err := e.Enhance(context.Background(), "sledding")
		require.NoError(t, err)
		assert.Equal(t, ProviderFallback, res.Provider)
	}
	assert.Equal(t, int32(2), svc.calls.Load(), "circuit opens after two consecutive failures")
}

func TestEnhance_NoServiceUsesComposer(t *testing.T) {
	e := newTestEnhancer(t, nil)
	assert.Equal(t, ProviderFallback, e.ServiceName())

	res, err := e.Enhance(context.Background(), "  baking cookies ")
	require.NoError(t, err)
	assert.Equal(t, "A colony of adorable penguins baking cookies in the pristine Antarctic landscape with sparkling white snow and crystal-clear ice formations. The penguins have fluffy black and white feathers, bright orange beaks and webbed feet, and adorable round dark eyes. Professional wildlife videography style, natural lighting, smooth movements, heartwarming and delightful composition with magical penguin charm.", res.EnhancedPrompt)
	assert.Equal(t, fallbackReasoning, res.Reasoning)
}
