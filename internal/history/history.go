// Package history gathers media that was generated outside the local record
// store (for example objects already sitting in the media bucket) and merges
// it with persisted records for the read endpoint.
package history

import (
	"context"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/fpang/penguin-studio/internal/store"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DuplicateWindow is the creation-time distance under which two records are
// considered the same generation.
const DuplicateWindow = 60 * time.Second

// Source lists externally known media of one kind.
type Source interface {
	Name() string
	Fetch(ctx context.Context, kind store.MediaKind) ([]store.MediaRecord, error)
}

// Collector fans out to every Source concurrently.
type Collector struct {
	sources []Source
}

// NewCollector creates a Collector over sources. Nil sources are ignored.
func NewCollector(sources ...Source) *Collector {
	c := &Collector{}
	for _, s := range sources {
		if s != nil {
			c.sources = append(c.sources, s)
		}
	}
	return c
}

// Len returns the number of configured sources.
func (c *Collector) Len() int { return len(c.sources) }

// Fetch returns the combined records of every source. A failing source is
// logged and skipped; Fetch itself never fails.
func (c *Collector) Fetch(ctx context.Context, kind store.MediaKind) []store.MediaRecord {
	if c == nil || len(c.sources) == 0 {
		return nil
	}

	var (
		mu  sync.Mutex
		all []store.MediaRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, src := range c.sources {
		g.Go(func() error {
			records, err := src.Fetch(gctx, kind)
			if err != nil {
				log.Warn().Err(err).Str("source", src.Name()).Str("kind", string(kind)).Msg("History source failed, skipping")
				return nil
			}
			mu.Lock()
			all = append(all, records...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return all
}

// Merge combines persisted records with external ones. Persisted records
// win: an external record is dropped when it shares a media URL with a
// persisted record or was created within DuplicateWindow of one. External
// records are never compared with each other. The result is newest first and
// capped at max (no cap when max <= 0).
func Merge(persisted, external []store.MediaRecord, max int) []store.MediaRecord {
	out := make([]store.MediaRecord, 0, len(persisted)+len(external))
	urls := make(map[string]bool, len(persisted))

	for _, r := range persisted {
		out = append(out, r)
		if key := urlKey(r.MediaURL); key != "" {
			urls[key] = true
		}
	}
	for _, r := range external {
		if key := urlKey(r.MediaURL); key != "" && urls[key] {
			continue
		}
		if nearAny(r.CreatedAt, persisted) {
			continue
		}
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

func nearAny(t time.Time, records []store.MediaRecord) bool {
	if t.IsZero() {
		return false
	}
	for _, r := range records {
		d := t.Sub(r.CreatedAt)
		if d < 0 {
			d = -d
		}
		if d < DuplicateWindow {
			return true
		}
	}
	return false
}

// urlKey drops the query string so presigned URLs for the same object compare equal.
func urlKey(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
