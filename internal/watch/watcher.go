// Package watch triggers synchronization when new photos land in the intake folder.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/guildsync/internal/apperr"
)

// DefaultDebounce is the quiet period after the last intake change before a
// sync starts.
const DefaultDebounce = 2 * time.Second

// RunFunc is called once per quiet period with the names that changed.
type RunFunc func(ctx context.Context, changed []string) error

// Options configures Watch.
type Options struct {
	Dir      string
	Exts     []string
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watch watches the intake dir and calls run after each burst of created or
// written image files has been quiet for the debounce period. Runs happen on
// the watch goroutine, one at a time; a failing run is logged and watching
// continues. A run that fails with apperr.ErrLocked is retried after another
// debounce period. Watch returns nil when ctx is cancelled.
func Watch(ctx context.Context, opts Options, run RunFunc) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return fmt.Errorf("watch: create intake dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Close()
	if err := w.Add(opts.Dir); err != nil {
		return fmt.Errorf("watch: add %s: %w", opts.Dir, err)
	}

	logger.Info("watch: started", slog.String("dir", opts.Dir), slog.Duration("debounce", debounce))

	var timer *time.Timer
	var fire <-chan time.Time
	pending := make(map[string]bool)

	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			fire = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watch: stopped")
			return nil

		case <-fire:
			changed := make([]string, 0, len(pending))
			for name := range pending {
				changed = append(changed, name)
			}
			clear(pending)
			logger.Info("watch: intake changed", slog.Int("files", len(changed)))
			err := run(ctx, changed)
			switch {
			case err == nil:
			case errors.Is(err, apperr.ErrLocked):
				// another writer holds a target; try the same names again later
				logger.Warn("watch: target locked, retrying", slog.String("error", err.Error()))
				for _, name := range changed {
					pending[name] = true
				}
				schedule()
			default:
				logger.Error("watch: sync failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if !accepted(name, opts.Exts) {
				continue
			}
			logger.Debug("watch: event", slog.String("file", name), slog.String("op", ev.Op.String()))
			pending[name] = true
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watch: error", slog.String("error", watchErr.Error()))
		}
	}
}

// accepted reports whether name is a visible file with one of exts.
func accepted(name string, exts []string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := filepath.Ext(name)
	for _, e := range exts {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}
