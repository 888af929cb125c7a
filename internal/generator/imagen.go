package generator

import (
	"context"
	"fmt"
	"time"

	"github.com/fpang/penguin-studio/internal/apperr"
	"github.com/fpang/penguin-studio/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// DefaultImagenModel is used when no Imagen model is configured.
const DefaultImagenModel = "imagen-4.0-generate-001"

// ImageModel is the subset of genai.Models used for image generation.
type ImageModel interface {
	GenerateImages(ctx context.Context, model, prompt string, config *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error)
}

// ImagenImage generates still images with Google's Imagen models and stores
// the returned bytes in a Sink.
type ImagenImage struct {
	models    ImageModel
	model     string
	sink      Sink
	maxPrompt int
	now       func() time.Time
}

var _ Generator = (*ImagenImage)(nil)

// NewImagenImage creates an Imagen generator writing results to sink.
func NewImagenImage(models ImageModel, model string, sink Sink, maxPrompt int) *ImagenImage {
	if model == "" {
		model = DefaultImagenModel
	}
	return &ImagenImage{models: models, model: model, sink: sink, maxPrompt: maxPrompt, now: time.Now}
}

func (g *ImagenImage) Kind() store.MediaKind { return store.KindImage }
func (g *ImagenImage) Name() string          { return "imagen" }

// imagenAspect maps DALL-E style sizes onto Imagen aspect ratios.
func imagenAspect(c Constraints) string {
	if c.AspectRatio != "" {
		return c.AspectRatio
	}
	switch c.Size {
	case "1792x1024":
		return "16:9"
	case "1024x1792":
		return "9:16"
	default:
		return "1:1"
	}
}

func (g *ImagenImage) Generate(ctx context.Context, prompt string, c Constraints) (*store.MediaRecord, error) {
	if err := ValidatePrompt(prompt, g.maxPrompt); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := g.models.GenerateImages(ctx, g.model, prompt, &genai.GenerateImagesConfig{
		NumberOfImages:   1,
		AspectRatio:      imagenAspect(c),
		OutputMIMEType:   "image/png",
		IncludeRAIReason: true,
	})
	if err != nil {
		return nil, apperr.FromGenAI(g.Name(), err)
	}
	if resp == nil || len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0] == nil {
		return nil, apperr.API(g.Name(), 0, "no image data returned", nil)
	}
	img := resp.GeneratedImages[0]
	if img.Image == nil || len(img.Image.ImageBytes) == 0 {
		if img.RAIFilteredReason != "" {
			return nil, apperr.API(g.Name(), 400, "image filtered: "+img.RAIFilteredReason, nil)
		}
		return nil, apperr.API(g.Name(), 0, "no image data returned", nil)
	}

	mime := img.Image.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	now := g.now()
	key := fmt.Sprintf("images/%s/%s%s", now.UTC().Format("2006-01-02"), uuid.NewString(), extFor(mime))
	url, err := g.sink.Put(ctx, key, mime, img.Image.ImageBytes)
	if err != nil {
		return nil, fmt.Errorf("store generated image: %w", err)
	}

	rec := &store.MediaRecord{
		ID:            NewID("img", now),
		Kind:          store.KindImage,
		Status:        store.StatusCompleted,
		MediaURL:      url,
		Prompt:        prompt,
		RevisedPrompt: img.EnhancedPrompt,
		Provider:      g.Name(),
		CreatedAt:     now.UTC(),
	}
	log.Info().Str("id", rec.ID).Str("key", key).Int("bytes", len(img.Image.ImageBytes)).Dur("elapsed", time.Since(start)).Msg("Image generated")
	return rec, nil
}

func extFor(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
