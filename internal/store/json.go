package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fpang/penguin-studio/internal/apperr"
	"github.com/rs/zerolog/log"
)

// FileName returns the collection file name for kind.
func FileName(kind MediaKind) string {
	return "generated-" + string(kind) + "s.json"
}

// JSONStore keeps one media kind as a JSON array in a single file. Every
// write rewrites the whole collection through a temp file and rename. The
// mutex serializes read-modify-write cycles within this process only;
// separate processes sharing the file are not coordinated.
type JSONStore struct {
	mu   sync.Mutex
	path string
	max  int
}

var _ RecordStore = (*JSONStore)(nil)

// NewJSONStore creates a store for kind under dir, capped at max records
// (DefaultMaxRecords when zero). The directory is created if needed.
func NewJSONStore(dir string, kind MediaKind, max int) (*JSONStore, error) {
	if max <= 0 {
		max = DefaultMaxRecords
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}
	return &JSONStore{path: filepath.Join(dir, FileName(kind)), max: max}, nil
}

// Path returns the backing file path.
func (s *JSONStore) Path() string {
	return s.path
}

func (s *JSONStore) Append(_ context.Context, rec MediaRecord) error {
	if !rec.valid() {
		return apperr.Validation("record requires id, prompt and createdAt")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return err
	}
	records = append([]MediaRecord{rec}, records...)
	if len(records) > s.max {
		records = records[:s.max]
	}
	if err := s.write(records); err != nil {
		return err
	}

	log.Debug().Str("id", rec.ID).Str("path", s.path).Int("count", len(records)).Msg("Record appended")
	return nil
}

func (s *JSONStore) Load(_ context.Context) ([]MediaRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return nil, err
	}
	return normalize(records, s.max), nil
}

func (s *JSONStore) Get(_ context.Context, id string) (*MediaRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].ID == id {
			rec := records[i]
			return &rec, nil
		}
	}
	return nil, apperr.NotFound("record %s not found", id)
}

func (s *JSONStore) UpdateStatus(_ context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return err
	}
	idx := indexOf(records, id)
	if idx < 0 {
		return apperr.NotFound("record %s not found", id)
	}
	records[idx].Status = status
	if err := s.write(records); err != nil {
		return err
	}

	log.Debug().Str("id", id).Str("status", string(status)).Msg("Record status updated")
	return nil
}

func (s *JSONStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return err
	}
	idx := indexOf(records, id)
	if idx < 0 {
		return apperr.NotFound("record %s not found", id)
	}
	records = append(records[:idx], records[idx+1:]...)
	return s.write(records)
}

// read loads the raw collection. A missing file is an empty collection. An
// unparseable file is logged and treated as empty so the next write repairs it.
func (s *JSONStore) read() ([]MediaRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []MediaRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return []MediaRecord{}, nil
	}

	var records []MediaRecord
	if err := json.Unmarshal(data, &records); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("Unreadable record file, starting empty")
		return []MediaRecord{}, nil
	}
	return records, nil
}

func (s *JSONStore) write(records []MediaRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".records-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

func indexOf(records []MediaRecord, id string) int {
	for i := range records {
		if records[i].ID == id {
			return i
		}
	}
	return -1
}
