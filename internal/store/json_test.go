package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fpang/penguin-studio/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

func testRecord(i int) MediaRecord {
	return MediaRecord{
		ID:        fmt.Sprintf("vid_%d", i),
		Kind:      KindVideo,
		Status:    StatusCompleted,
		MediaURL:  fmt.Sprintf("https://cdn.example.com/%d.mp4", i),
		Prompt:    "penguin surfing",
		CreatedAt: baseTime.Add(time.Duration(i) * time.Minute),
	}
}

func newTestJSONStore(t *testing.T, max int) *JSONStore {
	t.Helper()
	s, err := NewJSONStore(t.TempDir(), KindVideo, max)
	require.NoError(t, err)
	return s
}

func TestJSONStore_LoadMissingFileIsEmpty(t *testing.T) {
	s := newTestJSONStore(t, 0)
	records, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, "generated-videos.json", filepath.Base(s.Path()))
}

func TestJSONStore_AppendNewestFirstAndCapped(t *testing.T) {
	ctx := context.Background()
	s := newTestJSONStore(t, 3)

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.Append(ctx, testRecord(i)))
	}

	records, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "vid_5", records[0].ID)
	assert.Equal(t, "vid_4", records[1].ID)
	assert.Equal(t, "vid_3", records[2].ID)
}

func TestJSONStore_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestJSONStore(t, 0)
	require.NoError(t, s.Append(ctx, testRecord(1)))

	require.NoError(t, s.UpdateStatus(ctx, "vid_1", StatusApproved))
	rec, err := s.Get(ctx, "vid_1")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, rec.Status)
}

func TestJSONStore_UpdateUnknownIDLeavesFileUntouched(t *testing.T) {
	ctx := context.Background()
	s := newTestJSONStore(t, 0)
	require.NoError(t, s.Append(ctx, testRecord(1)))
	before, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	err = s.UpdateStatus(ctx, "vid_missing", StatusApproved)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	after, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestJSONStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := newTestJSONStore(t, 0)
	require.NoError(t, s.Append(ctx, testRecord(1)))
	require.NoError(t, s.Append(ctx, testRecord(2)))

	require.NoError(t, s.Delete(ctx, "vid_1"))
	records, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "vid_2", records[0].ID)

	assert.True(t, apperr.IsKind(s.Delete(ctx, "vid_1"), apperr.KindNotFound))
}

func TestJSONStore_LoadDropsInvalidAndDuplicateEntries(t *testing.T) {
	s := newTestJSONStore(t, 0)
	raw := `[
		{"id":"vid_2","prompt":"p","createdAt":"2026-02-01T10:02:00Z","status":"completed"},
		{"id":"","prompt":"p","createdAt":"2026-02-01T10:03:00Z"},
		{"id":"vid_3","prompt":"","createdAt":"2026-02-01T10:03:00Z"},
		{"id":"vid_1","prompt":"p","createdAt":"2026-02-01T10:01:00Z"},
		{"id":"vid_2","prompt":"dup","createdAt":"2026-02-01T10:05:00Z"}
	]`
	require.NoError(t, os.WriteFile(s.Path(), []byte(raw), 0o644))

	records, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "vid_2", records[0].ID)
	assert.Equal(t, "p", records[0].Prompt)
	assert.Equal(t, "vid_1", records[1].ID)
}

func TestJSONStore_CorruptFileTreatedAsEmpty(t *testing.T) {
	ctx := context.Background()
	s := newTestJSONStore(t, 0)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o644))

	records, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	require.NoError(t, s.Append(ctx, testRecord(1)))
	records, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestJSONStore_AppendRejectsInvalidRecord(t *testing.T) {
	s := newTestJSONStore(t, 0)
	err := s.Append(context.Background(), MediaRecord{ID: "x"})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestParseKind(t *testing.T) {
	k, ok := ParseKind("image")
	assert.True(t, ok)
	assert.Equal(t, KindImage, k)
	_, ok = ParseKind("gif")
	assert.False(t, ok)
}
