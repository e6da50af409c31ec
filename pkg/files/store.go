// Package files stores attachments produced by backends (generated images,
// downloaded files) so clients can fetch them from the relay.
//
// Files are content addressed: the stored name is the SHA-256 of the bytes
// plus an extension derived from the mime type, so saving the same output
// twice yields one file and one URL.
package files

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ErrInvalidName is returned for names that are not plain file names.
var ErrInvalidName = errors.New("invalid file name")

// Store writes files under a directory.
type Store struct {
	dir     string
	baseURL string
	logger  *slog.Logger
	now     func() time.Time
}

// NewStore creates dir if needed. baseURL prefixes returned references;
// empty yields server-relative "/files/<name>" references.
func NewStore(dir, baseURL string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("files directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create files directory: %w", err)
	}
	return &Store{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  slog.Default().With("component", "files"),
		now:     time.Now,
	}, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes data and returns the URL clients fetch it from. name only
// contributes its extension when mimeType has none.
func (s *Store) Save(_ context.Context, name, mimeType string, data []byte) (string, error) {
	stored := storedName(name, mimeType, data)
	target := filepath.Join(s.dir, stored)

	if _, err := os.Stat(target); err == nil {
		// Same content already stored; refresh its age for retention.
		now := s.now()
		_ = os.Chtimes(target, now, now)
		return s.URL(stored), nil
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to store file: %w", err)
	}

	s.logger.Debug("file stored", "name", stored, "size", len(data), "mime", mimeType)
	return s.URL(stored), nil
}

// URL returns the client-facing reference for a stored name.
func (s *Store) URL(name string) string {
	return s.baseURL + "/files/" + name
}

// Open returns the named file. Names containing path separators or dot
// segments are rejected.
func (s *Store) Open(name string) (*os.File, fs.FileInfo, error) {
	if !validName(name) {
		return nil, nil, ErrInvalidName
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, info, nil
}

// Prune deletes stored files last modified before olderThan. Temporary
// files of in-flight saves are left alone.
func (s *Store) Prune(_ context.Context, olderThan time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read files directory: %w", err)
	}

	deleted := 0
	for _, e := range entries {
		if e.IsDir() || !validName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(olderThan) {
			if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
				s.logger.Warn("failed to delete file", "name", e.Name(), "error", err)
				continue
			}
			deleted++
		}
	}
	return deleted, nil
}

// ContentType guesses a content type from a stored name.
func ContentType(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func storedName(name, mimeType string, data []byte) string {
	sum := sha256.Sum256(data)
	base := hex.EncodeToString(sum[:])

	if mimeType != "" {
		if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
			return base + exts[0]
		}
	}
	if ext := path.Ext(name); ext != "" && validName("x"+ext) {
		return base + strings.ToLower(ext)
	}
	return base
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}
