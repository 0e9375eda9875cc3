package token

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// FileStore reads and replaces a plain-text token file, one token per line.
type FileStore struct {
	path string
	name string
}

// NewFileStore constructs a file-backed store for the given path.
func NewFileStore(path string) *FileStore {
	clean := filepath.Clean(path)
	return &FileStore{
		path: clean,
		name: "file:" + clean,
	}
}

// Path returns the live file path.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Name() string { return s.name }

// Load reads the live file wholesale.
func (s *FileStore) Load(_ context.Context) ([]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read tokens file: %w", err)
	}
	return ParseLines(data), nil
}

// Replace swaps in a new token list atomically: write to a temp file in the
// same directory, verify, back up the current file by copy, then rename the
// temp file into place. The backup is a copy, not a move, so a reader holding
// the old file open is not disturbed. On any failure the live file is left
// untouched.
func (s *FileStore) Replace(_ context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return fmt.Errorf("refusing to replace %s with an empty token list", s.path)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, joinLines(tokens), 0o600); err != nil {
		return fmt.Errorf("write temp tokens file: %w", err)
	}

	if info, err := os.Stat(tmp); err != nil || info.Size() == 0 {
		_ = os.Remove(tmp)
		return fmt.Errorf("temp tokens file missing or empty")
	}

	if _, err := os.Stat(s.path); err == nil {
		if err := copyFile(s.path, s.path+".backup"); err != nil {
			log.WithError(err).Warn("failed to back up tokens file before replace")
		}
	}

	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename tokens file into place: %w", err)
	}
	return nil
}

// CleanupArtifacts removes leftover temp and backup files from an earlier
// interrupted replace. Returns the number of files removed.
func (s *FileStore) CleanupArtifacts() int {
	removed := 0
	for _, suffix := range []string{".tmp", ".backup"} {
		path := s.path + suffix
		if err := os.Remove(path); err == nil {
			log.WithField("path", path).Info("removed stale token store artifact")
			removed++
		}
	}
	return removed
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
