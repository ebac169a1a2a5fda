package intake

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig controls the submission drop directory watcher.
type WatchConfig struct {
	Root        string        // directory to watch for submission files
	InitialScan bool          // if true, emit files already present at start
	Debounce    time.Duration // coalesce rapid write/rename bursts
}

// StartWatcher emits paths of submission files (*.json) dropped under the
// root. Partially written files are coalesced by the debounce window; the
// channels close when ctx is done.
func StartWatcher(ctx context.Context, cfg WatchConfig, logger *slog.Logger) (<-chan string, <-chan error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Root == "" {
		return nil, nil, errors.New("no submission root provided")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	evCh := make(chan string, 64)
	errCh := make(chan error, 1)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create fsnotify watcher", "error", err)
		return nil, nil, err
	}

	addDir := func(root string) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				return w.Add(path)
			}
			if cfg.InitialScan && isSubmission(path) {
				select {
				case evCh <- path:
				default:
				}
			}
			return nil
		})
	}
	if err := addDir(cfg.Root); err != nil {
		logger.Error("failed to add submission root", "root", cfg.Root, "error", err)
		_ = w.Close()
		return nil, nil, err
	}

	go func() {
		defer close(evCh)
		defer close(errCh)
		defer w.Close()

		var timer *time.Timer
		pending := map[string]struct{}{}

		sendPending := func() {
			for p := range pending {
				select {
				case evCh <- p:
				default:
					logger.Warn("submission channel full, dropping event", "path", p)
				}
				delete(pending, p)
			}
		}

		for {
			var timerC <-chan time.Time
			if timer != nil {
				timerC = timer.C
			}
			select {
			case <-ctx.Done():
				return
			case <-timerC:
				timer = nil
				sendPending()
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&fsnotify.Create != 0 {
					// New subdirectories get watched too.
					if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
						_ = w.Add(ev.Name)
						continue
					}
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				if !isSubmission(ev.Name) {
					continue
				}
				pending[ev.Name] = struct{}{}
				if timer == nil {
					timer = time.NewTimer(cfg.Debounce)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return evCh, errCh, nil
}

func isSubmission(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}
