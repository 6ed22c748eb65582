package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/starford/guildsync/internal/apperr"
)

const (
	stagePrefix = ".guildsync-stage-"
	lockName    = ".guildsync.lock"
)

// Stage is a scratch directory inside a provider root. Files written here
// are moved into place with Provider.Move, which stays on one file system.
type Stage struct {
	fs  *FS
	dir string // relative to fs.root
}

// Stage creates a fresh staging directory.
func (f *FS) Stage() (*Stage, error) {
	dir := stagePrefix + uuid.NewString()
	if err := os.Mkdir(filepath.Join(f.root, dir), 0o755); err != nil {
		return nil, fmt.Errorf("storage: create stage: %w", err)
	}
	return &Stage{fs: f, dir: dir}, nil
}

// Path returns the root-relative path of name inside the stage.
func (s *Stage) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Write stores content under name inside the stage.
func (s *Stage) Write(name string, content []byte) error {
	if name != filepath.Base(name) {
		return fmt.Errorf("storage: stage write %q: %w", name, apperr.ErrInvalidName)
	}
	return s.fs.Write(s.Path(name), content)
}

// Remove deletes the stage and anything still inside it.
func (s *Stage) Remove() error {
	if err := os.RemoveAll(filepath.Join(s.fs.root, s.dir)); err != nil {
		return fmt.Errorf("storage: remove stage: %w", err)
	}
	return nil
}

// SweepStages removes every staging directory under the root and returns
// how many it removed. Callers hold the lock.
func (f *FS) SweepStages() (int, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return 0, fmt.Errorf("storage: read %s: %w", f.root, err)
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), stagePrefix) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(f.root, e.Name())); err != nil {
			return n, fmt.Errorf("storage: remove stage %s: %w", e.Name(), err)
		}
		n++
	}
	return n, nil
}

// Lock creates the root's lock file exclusively. A second Lock on the same
// root fails with apperr.ErrLocked until the returned unlock func runs.
// A lock left behind by a killed process must be removed by hand.
func (f *FS) Lock() (func() error, error) {
	p := filepath.Join(f.root, lockName)
	fh, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("storage: %s: %w", p, apperr.ErrLocked)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: create lock: %w", err)
	}
	_, _ = fh.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	if err := fh.Close(); err != nil {
		_ = os.Remove(p)
		return nil, fmt.Errorf("storage: close lock: %w", err)
	}
	return func() error {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("storage: release lock: %w", err)
		}
		return nil
	}, nil
}
