package history

import (
	"context"
	"path"
	"strings"

	"github.com/fpang/penguin-studio/internal/s3util"
	"github.com/fpang/penguin-studio/internal/store"
)

// ObjectLister lists stored media objects; *s3util.Bucket satisfies it.
type ObjectLister interface {
	List(ctx context.Context, prefix string, limit int) ([]s3util.Object, error)
}

// S3Source reports objects under "<kind>s/" in the media bucket as completed records.
type S3Source struct {
	lister ObjectLister
	limit  int
}

// NewS3Source creates an S3Source returning at most limit objects per kind.
func NewS3Source(lister ObjectLister, limit int) *S3Source {
	if limit <= 0 {
		limit = store.DefaultMaxRecords
	}
	return &S3Source{lister: lister, limit: limit}
}

func (s *S3Source) Name() string { return "s3" }

func (s *S3Source) Fetch(ctx context.Context, kind store.MediaKind) ([]store.MediaRecord, error) {
	objects, err := s.lister.List(ctx, string(kind)+"s/", s.limit)
	if err != nil {
		return nil, err
	}
	records := make([]store.MediaRecord, 0, len(objects))
	for _, obj := range objects {
		name := strings.TrimSuffix(path.Base(obj.Key), path.Ext(obj.Key))
		records = append(records, store.MediaRecord{
			ID:        "s3_" + name,
			Kind:      kind,
			Status:    store.StatusCompleted,
			MediaURL:  obj.URL,
			Prompt:    "(from media library)",
			Provider:  "s3",
			CreatedAt: obj.LastModified,
		})
	}
	return records, nil
}
