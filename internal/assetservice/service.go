// Package assetservice ties configured characters to their asset directories,
// the synchronizer and the manifest. The CLI, the HTTP API, the MCP server and
// the intake watcher all go through it.
package assetservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/guildsync/internal/apperr"
	"github.com/starford/guildsync/internal/gallery"
	"github.com/starford/guildsync/internal/manifest"
	"github.com/starford/guildsync/internal/models"
	"github.com/starford/guildsync/internal/storage"
)

// Event kinds passed to the event callback.
const (
	EventAssetAdded    = "asset.added"
	EventAssetUpdated  = "asset.updated"
	EventAssetRemoved  = "asset.removed"
	EventAssetRenamed  = "asset.renamed"
	EventSyncCompleted = "sync.completed"
	EventIntakeAdded   = "intake.added"
)

// Character is one configured asset directory.
type Character struct {
	Key        models.CharacterKey
	Prefix     string
	Preserved  []string
	Promotions []gallery.Promotion
	MaxHeight  int
}

// Event describes one change made by the service.
type Event struct {
	Kind      string `json:"kind"`
	Character string `json:"character,omitempty"`
	Name      string `json:"name,omitempty"`
	From      string `json:"from,omitempty"`
}

// SyncOptions tunes a sync run.
type SyncOptions struct {
	Rebuild bool
}

// Config holds the directories the service works on.
type Config struct {
	IntakePath string
	IntakeExts []string
	TargetRoot string
}

// Service coordinates storage, synchronizer and manifest operations.
type Service struct {
	cfg        Config
	characters []Character
	byKey      map[models.CharacterKey]int
	sync       *gallery.Synchronizer
	manifest   manifest.Store
	onEvent    func(Event)
	logger     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithEvents registers fn to be called after every change.
func WithEvents(fn func(Event)) Option {
	return func(s *Service) {
		s.onEvent = fn
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// New creates a service for the given characters. store may be nil, in which
// case provenance and run history are not available.
func New(cfg Config, characters []Character, sync *gallery.Synchronizer, store manifest.Store, opts ...Option) *Service {
	s := &Service{
		cfg:        cfg,
		characters: characters,
		byKey:      make(map[models.CharacterKey]int, len(characters)),
		sync:       sync,
		manifest:   store,
		logger:     slog.Default(),
	}
	if len(s.cfg.IntakeExts) == 0 {
		s.cfg.IntakeExts = gallery.DefaultIntakeExts
	}
	for i, c := range characters {
		s.byKey[c.Key] = i
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IntakePath returns the intake directory.
func (s *Service) IntakePath() string { return s.cfg.IntakePath }

// IntakeExts returns the accepted intake extensions.
func (s *Service) IntakeExts() []string { return s.cfg.IntakeExts }

// Characters returns the configured character keys in configuration order.
func (s *Service) Characters() []models.CharacterKey {
	out := make([]models.CharacterKey, len(s.characters))
	for i, c := range s.characters {
		out[i] = c.Key
	}
	return out
}

// Character returns the configuration of key or apperr.ErrUnknownCharacter.
func (s *Service) Character(key models.CharacterKey) (Character, error) {
	i, ok := s.byKey[key]
	if !ok {
		return Character{}, fmt.Errorf("%s: %w", key, apperr.ErrUnknownCharacter)
	}
	return s.characters[i], nil
}

// TargetDir returns <target root>/<namespace>/<name>.
func (s *Service) TargetDir(key models.CharacterKey) string {
	return filepath.Join(s.cfg.TargetRoot, key.Namespace, key.Name)
}

func (s *Service) target(key models.CharacterKey) (storage.Provider, error) {
	return storage.OpenOrCreate(s.TargetDir(key))
}

// intake opens the intake dir. A missing dir yields nil: nothing to import.
func (s *Service) intake() (storage.Provider, error) {
	p, err := storage.NewFS(s.cfg.IntakePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return p, err
}

func (s *Service) job(c Character) (gallery.Job, error) {
	target, err := s.target(c.Key)
	if err != nil {
		return gallery.Job{}, err
	}
	intake, err := s.intake()
	if err != nil {
		return gallery.Job{}, err
	}
	return gallery.Job{
		Character:  c.Key.String(),
		Intake:     intake,
		Target:     target,
		Preserved:  c.Preserved,
		Promotions: c.Promotions,
		Prefix:     c.Prefix,
		IntakeExts: s.cfg.IntakeExts,
		MaxHeight:  c.MaxHeight,
	}, nil
}

// Sync runs the synchronizer for one character.
func (s *Service) Sync(ctx context.Context, key models.CharacterKey, opts SyncOptions) (*gallery.Report, error) {
	c, err := s.Character(key)
	if err != nil {
		return nil, err
	}
	job, err := s.job(c)
	if err != nil {
		return nil, err
	}
	job.Rebuild = opts.Rebuild
	rep, err := s.sync.Sync(ctx, job)
	if rep != nil {
		s.publishReport(rep)
	}
	return rep, err
}

// SyncAll syncs every configured character in order. A failure on one
// character does not stop the others; all errors are joined.
func (s *Service) SyncAll(ctx context.Context, opts SyncOptions) ([]*gallery.Report, error) {
	var (
		reports []*gallery.Report
		errs    []error
	)
	for _, c := range s.characters {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		rep, err := s.Sync(ctx, c.Key, opts)
		if err != nil {
			s.logger.Error("sync failed", slog.String("character", c.Key.String()), slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", c.Key, err))
		}
		if rep != nil {
			reports = append(reports, rep)
		}
	}
	return reports, errors.Join(errs...)
}

// Renumber closes gaps in one character's gallery.
func (s *Service) Renumber(ctx context.Context, key models.CharacterKey) (*gallery.Report, error) {
	c, err := s.Character(key)
	if err != nil {
		return nil, err
	}
	target, err := s.target(c.Key)
	if err != nil {
		return nil, err
	}
	rep, err := s.sync.Renumber(ctx, gallery.Job{Character: key.String(), Target: target, Prefix: c.Prefix})
	if rep != nil {
		s.publishReport(rep)
	}
	return rep, err
}

// Runs returns the newest run records of one character.
func (s *Service) Runs(ctx context.Context, key models.CharacterKey, limit int) ([]manifest.RunRow, error) {
	if _, err := s.Character(key); err != nil {
		return nil, err
	}
	if s.manifest == nil {
		return []manifest.RunRow{}, nil
	}
	return s.manifest.Runs(ctx, key.String(), limit)
}

// ImportIntake writes data into the intake dir under name. The name must be a
// plain file name with an accepted extension and must not exist yet.
func (s *Service) ImportIntake(_ context.Context, name string, data []byte) (string, error) {
	if err := s.validIntakeName(name); err != nil {
		return "", err
	}
	intake, err := storage.OpenOrCreate(s.cfg.IntakePath)
	if err != nil {
		return "", err
	}
	exists, err := intake.Exists(name)
	if err != nil {
		return "", err
	}
	if exists {
		return "", fmt.Errorf("%s: %w", name, apperr.ErrAlreadyExists)
	}
	if err := intake.Write(name, data); err != nil {
		return "", err
	}
	s.emit(Event{Kind: EventIntakeAdded, Name: name})
	return name, nil
}

func (s *Service) validIntakeName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%q: %w", name, apperr.ErrInvalidName)
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range s.cfg.IntakeExts {
		if strings.EqualFold(e, ext) {
			return nil
		}
	}
	return fmt.Errorf("%q: extension not accepted: %w", name, apperr.ErrInvalidName)
}

// ReadAsset returns the bytes of one file in a character's directory.
func (s *Service) ReadAsset(key models.CharacterKey, name string) ([]byte, error) {
	if _, err := s.Character(key); err != nil {
		return nil, err
	}
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("%q: %w", name, apperr.ErrInvalidName)
	}
	target, err := s.target(key)
	if err != nil {
		return nil, err
	}
	data, err := target.Read(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperr.ErrNotFound
	}
	return data, err
}

func (s *Service) publishReport(rep *gallery.Report) {
	for _, name := range rep.Promoted {
		s.emit(Event{Kind: EventAssetUpdated, Character: rep.Character, Name: name})
	}
	for _, name := range rep.Removed {
		s.emit(Event{Kind: EventAssetRemoved, Character: rep.Character, Name: name})
	}
	for from, to := range rep.Renamed {
		s.emit(Event{Kind: EventAssetRenamed, Character: rep.Character, Name: to, From: from})
	}
	for _, name := range rep.Added {
		s.emit(Event{Kind: EventAssetAdded, Character: rep.Character, Name: name})
	}
	s.emit(Event{Kind: EventSyncCompleted, Character: rep.Character})
}

func (s *Service) emit(e Event) {
	if s.onEvent != nil {
		s.onEvent(e)
	}
}
