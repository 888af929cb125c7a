// Package generator turns an enhanced prompt into a MediaRecord by calling an
// external image or video model. A mock implementation with the same record
// shape is used when no provider credential is configured.
package generator

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/fpang/penguin-studio/internal/apperr"
	"github.com/fpang/penguin-studio/internal/store"
)

// DefaultMaxPromptLength bounds the enhanced prompt accepted by every generator.
const DefaultMaxPromptLength = 4000

// Constraints are optional generation parameters. Generators ignore the
// fields that do not apply to their media kind.
type Constraints struct {
	Size        string // image: 1024x1024, 1792x1024, 1024x1792
	Quality     string // image: standard, hd
	Style       string // image: vivid, natural
	AspectRatio string // video/imagen: 9:16, 16:9, 1:1
	Duration    int    // video seconds
}

// Generator produces one media item per call.
type Generator interface {
	Kind() store.MediaKind
	Name() string
	Generate(ctx context.Context, prompt string, c Constraints) (*store.MediaRecord, error)
}

// ValidatePrompt enforces the non-empty and maximum-length rules.
func ValidatePrompt(prompt string, max int) error {
	if max <= 0 {
		max = DefaultMaxPromptLength
	}
	if strings.TrimSpace(prompt) == "" {
		return apperr.Validation("Prompt is required for generation")
	}
	if utf8.RuneCountInString(prompt) > max {
		return apperr.Validation("Prompt is too long (max %d characters)", max)
	}
	return nil
}

var lastID atomic.Int64

// NewID returns prefix_<unix ms>. Values are strictly increasing within the
// process even when two calls land in the same millisecond.
func NewID(prefix string, now time.Time) string {
	for {
		last := lastID.Load()
		ms := now.UnixMilli()
		if ms <= last {
			ms = last + 1
		}
		if lastID.CompareAndSwap(last, ms) {
			return fmt.Sprintf("%s_%d", prefix, ms)
		}
	}
}

func idPrefix(kind store.MediaKind) string {
	if kind == store.KindImage {
		return "img"
	}
	return "vid"
}
