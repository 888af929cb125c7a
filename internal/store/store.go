// Package store persists generated media records. Each media kind has its
// own bounded, newest-first collection. The JSON file store suits a single
// long-running server; the DynamoDB store suits the Lambda deployment where
// the local filesystem does not survive container recycling.
package store

import (
	"context"
	"sort"
	"time"
)

// DefaultMaxRecords caps every collection; the oldest records are dropped first.
const DefaultMaxRecords = 50

// MediaKind distinguishes image and video collections.
type MediaKind string

const (
	KindImage MediaKind = "image"
	KindVideo MediaKind = "video"
)

// ParseKind maps a user-supplied kind to a MediaKind. ok is false for unknown values.
func ParseKind(s string) (MediaKind, bool) {
	switch MediaKind(s) {
	case KindImage:
		return KindImage, true
	case KindVideo:
		return KindVideo, true
	}
	return "", false
}

// Status is the lifecycle state of a MediaRecord.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
)

// MediaRecord is one generated image or video.
type MediaRecord struct {
	ID             string    `json:"id" dynamodbav:"id"`
	Kind           MediaKind `json:"kind" dynamodbav:"kind"`
	Status         Status    `json:"status" dynamodbav:"status"`
	MediaURL       string    `json:"mediaUrl,omitempty" dynamodbav:"mediaUrl,omitempty"`
	Prompt         string    `json:"prompt" dynamodbav:"prompt"`
	EnhancedPrompt string    `json:"enhancedPrompt,omitempty" dynamodbav:"enhancedPrompt,omitempty"`
	RevisedPrompt  string    `json:"revisedPrompt,omitempty" dynamodbav:"revisedPrompt,omitempty"`
	Duration       int       `json:"duration,omitempty" dynamodbav:"duration,omitempty"`
	Provider       string    `json:"provider,omitempty" dynamodbav:"provider,omitempty"`
	ErrorMessage   string    `json:"errorMessage,omitempty" dynamodbav:"errorMessage,omitempty"`
	CreatedAt      time.Time `json:"createdAt" dynamodbav:"createdAt"`
}

// valid reports whether r carries the fields every reader relies on.
func (r MediaRecord) valid() bool {
	return r.ID != "" && r.Prompt != "" && !r.CreatedAt.IsZero()
}

// RecordStore is the persistence interface for one media kind.
// Load returns records newest first. UpdateStatus, Delete and Get return an
// apperr NotFound error for unknown ids and leave the collection untouched.
type RecordStore interface {
	Append(ctx context.Context, rec MediaRecord) error
	Load(ctx context.Context) ([]MediaRecord, error)
	Get(ctx context.Context, id string) (*MediaRecord, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	Delete(ctx context.Context, id string) error
}

// normalize drops invalid and duplicate records, sorts newest first and caps
// the result at max entries. Duplicate ids keep their first occurrence.
func normalize(records []MediaRecord, max int) []MediaRecord {
	seen := make(map[string]bool, len(records))
	out := make([]MediaRecord, 0, len(records))
	for _, r := range records {
		if !r.valid() || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
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
