package generator

import (
	"context"
	"fmt"
	"time"

	"github.com/fpang/penguin-studio/internal/store"
	"github.com/rs/zerolog/log"
)

// MockVideoURL is the sample clip returned by the mock video generator.
const MockVideoURL = "https://sample-videos.com/zip/10/mp4/SampleVideo_360x240_1mb.mp4"

// Mock fabricates completed records without any network call.
type Mock struct {
	kind      store.MediaKind
	maxPrompt int
	now       func() time.Time
}

var _ Generator = (*Mock)(nil)

// NewMock creates a mock generator for kind.
func NewMock(kind store.MediaKind, maxPrompt int) *Mock {
	return &Mock{kind: kind, maxPrompt: maxPrompt, now: time.Now}
}

func (m *Mock) Kind() store.MediaKind { return m.kind }
func (m *Mock) Name() string          { return "mock" }

func (m *Mock) Generate(_ context.Context, prompt string, c Constraints) (*store.MediaRecord, error) {
	if err := ValidatePrompt(prompt, m.maxPrompt); err != nil {
		return nil, err
	}
	now := m.now()
	rec := &store.MediaRecord{
		ID:        NewID("mock_"+idPrefix(m.kind), now),
		Kind:      m.kind,
		Status:    store.StatusCompleted,
		Prompt:    prompt,
		Provider:  m.Name(),
		CreatedAt: now.UTC(),
	}
	if m.kind == store.KindImage {
		rec.MediaURL = fmt.Sprintf("https://picsum.photos/1024/1024?random=%s", rec.ID)
		rec.RevisedPrompt = "Enhanced mock: " + prompt
	} else {
		rec.MediaURL = MockVideoURL
		rec.Duration = c.Duration
		if rec.Duration <= 0 {
			rec.Duration = DefaultVideoDuration
		}
	}
	log.Debug().Str("id", rec.ID).Str("kind", string(m.kind)).Msg("Mock media generated")
	return rec, nil
}
