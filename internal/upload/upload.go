// Package upload stores the photos attached to issue reports.
package upload

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/sakif/civic-issues/internal/apperror"
)

// MaxBytes caps a report request, image included.
const MaxBytes = 16 << 20

var allowedExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"gif":  true,
}

// Extension returns the lower-cased extension of filename and whether it
// is an accepted image type.
func Extension(filename string) (string, bool) {
	i := strings.LastIndex(filename, ".")
	if i < 0 || i == len(filename)-1 {
		return "", false
	}
	ext := strings.ToLower(filename[i+1:])
	return ext, allowedExtensions[ext]
}

// Store writes uploads to a single flat directory under random names.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates dir if needed.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("upload: creating %s: %w", dir, err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Save copies r to a new file named <uuid>.<ext> and returns that name.
// The client's filename only contributes its extension.
func (s *Store) Save(original string, r io.Reader) (string, error) {
	ext, ok := Extension(original)
	if !ok {
		return "", apperror.ValidationFailed("image", "Only PNG, JPG, JPEG and GIF images are allowed")
	}

	name := uuid.NewString() + "." + ext
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("upload: creating %s: %w", name, err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("upload: writing %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("upload: closing %s: %w", name, err)
	}

	s.logger.Debug("image stored", slog.String("file", name))
	return name, nil
}

// Remove deletes a stored file. Used to undo a save when the report that
// referenced it could not be created.
func (s *Store) Remove(name string) {
	path, err := s.Path(name)
	if err != nil {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("removing orphaned upload", slog.String("file", name), slog.String("error", err.Error()))
	}
}

// Path maps a requested name to a file inside the store. Any directory
// component is stripped, so a name can never escape the upload dir.
func (s *Store) Path(name string) (string, error) {
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." || base == ".." || base != name {
		return "", apperror.NotFound("upload", name)
	}
	return filepath.Join(s.dir, base), nil
}
