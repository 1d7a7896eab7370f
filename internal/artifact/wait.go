package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// PollInterval is the fallback poll period while waiting for an artifact.
const PollInterval = 100 * time.Millisecond

// Wait blocks until rel exists with a non-zero size or timeout elapses.
// On an OS-backed store the parent directory is watched with fsnotify and
// polling covers filesystems where events are not delivered.
func (s *Store) Wait(ctx context.Context, rel string, timeout time.Duration) error {
	rel, err := Clean(rel)
	if err != nil {
		return err
	}
	if s.Ready(rel) {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var events <-chan fsnotify.Event
	if p := s.osPath(rel); p != "" {
		if w, err := s.watchDir(filepath.Dir(p)); err == nil {
			defer w.Close()
			events = w.Events
		} else {
			s.logger.Debug("artifact watch unavailable, polling", "path", rel, "error", err)
		}
	}

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		if s.Ready(rel) {
			return nil
		}
		select {
		case <-waitCtx.Done():
			if s.Ready(rel) {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			return fmt.Errorf("%w: %s after %s", ErrMissing, rel, timeout)
		case <-ticker.C:
		case _, ok := <-events:
			if !ok {
				events = nil
			}
		}
	}
}

func (s *Store) watchDir(dir string) (*fsnotify.Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	// drain errors so the watcher never blocks
	go func() {
		for range w.Errors {
		}
	}()
	return w, nil
}
