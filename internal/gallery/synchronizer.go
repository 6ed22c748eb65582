package gallery

import (
	"log/slog"
	"runtime"

	"github.com/starford/guildsync/internal/codec"
	"github.com/starford/guildsync/internal/manifest"
)

// Synchronizer runs sync and renumber jobs. It is safe to reuse across jobs;
// concurrent jobs on the same target are rejected by the target's lock.
type Synchronizer struct {
	codec    codec.Codec
	manifest manifest.Store
	logger   *slog.Logger
	workers  int
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithManifest records provenance and run history in store.
func WithManifest(store manifest.Store) Option {
	return func(s *Synchronizer) {
		s.manifest = store
	}
}

// WithLogger sets the logger for progress and warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) {
		s.logger = l
	}
}

// WithWorkers bounds the number of files hashed concurrently.
func WithWorkers(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.workers = n
		}
	}
}

// New creates a Synchronizer that encodes output with c.
func New(c codec.Codec, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		codec:   c,
		logger:  slog.Default(),
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ext returns the extension of files the synchronizer writes.
func (s *Synchronizer) Ext() string { return s.codec.Ext() }
