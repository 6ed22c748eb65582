package watch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/starford/guildsync/internal/apperr"
)

var exts = []string{".jpg", ".png"}

type recorder struct {
	mu     sync.Mutex
	runs   [][]string
	locked int // number of leading runs that fail with ErrLocked
}

func (r *recorder) run(_ context.Context, changed []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, changed)
	if len(r.runs) <= r.locked {
		return fmt.Errorf("sync guild/damao: %w", apperr.ErrLocked)
	}
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func startWatch(t *testing.T, dir string, rec *recorder) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, Options{
			Dir:      dir,
			Exts:     exts,
			Debounce: 50 * time.Millisecond,
			Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		}, rec.run)
	}()
	time.Sleep(100 * time.Millisecond)
	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Watch returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Watch did not stop")
		}
	}
}

func TestWatchTriggersOnImage(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := t.TempDir()
	rec := &recorder{}
	stop := startWatch(t, dir, rec)
	defer stop()

	if err := os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}

	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool { return rec.count() > 0 }, "no run after image write")
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.runs[0]) != 1 || rec.runs[0][0] != "a.jpg" {
		t.Errorf("changed = %v", rec.runs[0])
	}
}

func TestWatchRetriesWhenLocked(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := t.TempDir()
	rec := &recorder{locked: 1}
	stop := startWatch(t, dir, rec)
	defer stop()

	if err := os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}

	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool { return rec.count() >= 2 }, "locked run was not retried")
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.runs[1]) != 1 || rec.runs[1][0] != "a.jpg" {
		t.Errorf("retried changed = %v", rec.runs[1])
	}
}

func TestWatchIgnoresOtherFiles(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := t.TempDir()
	rec := &recorder{}
	stop := startWatch(t, dir, rec)
	defer stop()

	for _, name := range []string{"notes.txt", ".hidden.jpg"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	time.Sleep(300 * time.Millisecond)
	if n := rec.count(); n != 0 {
		t.Errorf("runs = %d, want 0", n)
	}
}

func TestWatchCreatesMissingDir(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := filepath.Join(t.TempDir(), "intake")
	rec := &recorder{}
	stop := startWatch(t, dir, rec)
	stop()

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("intake dir not created: %v", err)
	}
}

func TestAccepted(t *testing.T) {
	tests := map[string]bool{
		"a.jpg":       true,
		"B.PNG":       true,
		"notes.txt":   false,
		".hidden.jpg": false,
		"noext":       false,
	}
	for name, want := range tests {
		if got := accepted(name, exts); got != want {
			t.Errorf("accepted(%q) = %v, want %v", name, got, want)
		}
	}
}
