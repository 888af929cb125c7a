package generator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sink stores generated bytes and returns a URL the browser can load.
type Sink interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// DirSink writes media into a local directory served by the HTTP server.
type DirSink struct {
	dir     string
	baseURL string
}

var _ Sink = (*DirSink)(nil)

// NewDirSink creates a DirSink rooted at dir whose files are reachable under baseURL.
func NewDirSink(dir, baseURL string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir %s: %w", dir, err)
	}
	return &DirSink{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir returns the root directory.
func (s *DirSink) Dir() string { return s.dir }

func (s *DirSink) Put(_ context.Context, key, _ string, data []byte) (string, error) {
	clean := filepath.Clean("/" + key)[1:]
	if clean == "" {
		return "", fmt.Errorf("invalid media key %q", key)
	}
	path := filepath.Join(s.dir, clean)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write media %s: %w", path, err)
	}
	return s.baseURL + "/" + filepath.ToSlash(clean), nil
}
