package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

var (
	// ErrMissing is returned when an artifact does not appear in time.
	ErrMissing = errors.New("artifact missing")

	// ErrInvalid is returned when an artifact fails to parse or validate.
	ErrInvalid = errors.New("artifact invalid")

	// ErrUnsafePath is returned for relative paths that escape the store.
	ErrUnsafePath = errors.New("artifact path escapes store root")
)

// Store reads and writes artifacts under a root directory. Paths are
// relative to the root and use forward slashes.
type Store struct {
	fs     billy.Filesystem
	root   string // OS path of the root, empty for in-memory stores
	logger *slog.Logger
}

// NewStore opens a store rooted at an OS directory.
func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{fs: osfs.New(dir), root: dir, logger: logger}
}

// NewMemStore returns an in-memory store.
func NewMemStore() *Store {
	return &Store{fs: memfs.New(), logger: slog.Default()}
}

// Root returns the OS directory of the store, or "" when in memory.
func (s *Store) Root() string {
	return s.root
}

// Clean validates rel and returns its normalized form.
func Clean(rel string) (string, error) {
	rel = strings.ReplaceAll(rel, "\\", "/")
	if rel == "" || path.IsAbs(rel) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, rel)
	}
	cleaned := path.Clean(rel)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, rel)
	}
	return cleaned, nil
}

// WriteJSON publishes v at rel. The document is written to a temp file in
// the same directory and renamed into place, so readers never observe a
// partial file.
func (s *Store) WriteJSON(rel string, v any) error {
	rel, err := Clean(rel)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", rel, err)
	}

	dir := path.Dir(rel)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := s.fs.TempFile(dir, ".tmp-"+path.Base(rel))
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", rel, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return fmt.Errorf("write %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("close %s: %w", rel, err)
	}
	if err := s.fs.Rename(tmpName, rel); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("publish %s: %w", rel, err)
	}

	s.logger.Debug("artifact written", "path", rel, "bytes", len(data))
	return nil
}

// Remove deletes rel. A missing file is not an error.
func (s *Store) Remove(rel string) error {
	rel, err := Clean(rel)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(rel); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", rel, err)
	}
	return nil
}

// Ready reports whether rel exists with a non-zero size.
func (s *Store) Ready(rel string) bool {
	rel, err := Clean(rel)
	if err != nil {
		return false
	}
	info, err := s.fs.Stat(rel)
	return err == nil && !info.IsDir() && info.Size() > 0
}

// ReadExtract loads and validates an extraction artifact.
func (s *Store) ReadExtract(rel string) (*ExtractDump, error) {
	var dump ExtractDump
	if err := s.read(rel, KindExtract, &dump); err != nil {
		return nil, err
	}
	return &dump, nil
}

// ReadDiscover loads and validates a discovery artifact.
func (s *Store) ReadDiscover(rel string) (*DiscoverDump, error) {
	var dump DiscoverDump
	if err := s.read(rel, KindDiscover, &dump); err != nil {
		return nil, err
	}
	return &dump, nil
}

func (s *Store) read(rel string, kind Kind, v any) error {
	rel, err := Clean(rel)
	if err != nil {
		return err
	}
	raw, err := util.ReadFile(s.fs, rel)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrMissing, rel)
		}
		return fmt.Errorf("read %s: %w", rel, err)
	}
	if err := Validate(kind, raw); err != nil {
		return fmt.Errorf("%s: %w", rel, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, rel, err)
	}
	return nil
}

func (s *Store) osPath(rel string) string {
	if s.root == "" {
		return ""
	}
	return filepath.Join(s.root, filepath.FromSlash(rel))
}
