package internal

import (
	"fmt"
	"log/slog"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/guildsync/internal/codec"
	"github.com/starford/guildsync/internal/gallery"
	"github.com/starford/guildsync/internal/models"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

var slugRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Config represents the application configuration.
type Config struct {
	App        ApplicationConfig `yaml:"app"`
	Intake     IntakeConfig      `yaml:"intake"`
	Target     TargetConfig      `yaml:"target"`
	Codec      CodecConfig       `yaml:"codec"`
	Manifest   ManifestConfig    `yaml:"manifest"`
	Sync       SyncConfig        `yaml:"sync"`
	Watch      WatchConfig       `yaml:"watch"`
	Auth       AuthConfig        `yaml:"auth"`
	Refs       RefsConfig        `yaml:"refs"`
	Characters []CharacterConfig `yaml:"characters"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Intake.Validate(); err != nil {
		return err
	}
	if err := c.Target.Validate(); err != nil {
		return err
	}
	if err := c.Codec.Validate(); err != nil {
		return err
	}
	if err := c.Manifest.Validate(); err != nil {
		return err
	}
	if err := c.Sync.Validate(); err != nil {
		return err
	}
	if err := c.Watch.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	seen := make(map[models.CharacterKey]bool, len(c.Characters))
	for i := range c.Characters {
		ch := &c.Characters[i]
		if err := ch.Validate(); err != nil {
			return fmt.Errorf("characters[%d]: %w", i, err)
		}
		if seen[ch.Key()] {
			return fmt.Errorf("characters[%d]: duplicate character %s", i, ch.Key())
		}
		seen[ch.Key()] = true
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	// LogFile, when set, receives the JSON log in addition to stderr and is
	// rotated by size.
	LogFile string     `yaml:"log_file"`
	HTTP    HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// IntakeConfig holds the folder new photos are dropped into.
type IntakeConfig struct {
	Path       string   `yaml:"path"`
	Extensions []string `yaml:"extensions"`
}

// Validate validates the intake configuration.
func (c *IntakeConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.Extensions, validation.Each(validation.Match(regexp.MustCompile(`^\.[a-zA-Z0-9]+$`)))),
	)
}

// TargetConfig holds the root of the per-character asset directories.
type TargetConfig struct {
	Root string `yaml:"root"`
}

// Validate validates the target configuration.
func (c *TargetConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
	)
}

// CodecConfig holds WebP encoder settings.
type CodecConfig struct {
	Quality  int  `yaml:"quality"`
	Lossless bool `yaml:"lossless"`
}

// Validate validates the codec configuration.
func (c *CodecConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Quality, validation.Min(0), validation.Max(100)),
	)
}

// ManifestConfig holds the SQLite manifest location.
type ManifestConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the manifest configuration.
func (c *ManifestConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SyncConfig holds synchronizer tuning.
type SyncConfig struct {
	Workers int `yaml:"workers"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Workers, validation.Min(0), validation.Max(64)),
	)
}

// WatchConfig holds intake watcher settings.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// Validate validates the watch configuration.
func (c *WatchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Min(100*time.Millisecond)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// RefsConfig lists the page-source roots scanned for asset references.
type RefsConfig struct {
	Roots []string `yaml:"roots"`
}

// CharacterConfig describes one character asset directory,
// <target.root>/<namespace>/<name>.
type CharacterConfig struct {
	Namespace     string            `yaml:"namespace"`
	Name          string            `yaml:"name"`
	GalleryPrefix string            `yaml:"gallery_prefix"`
	Preserved     []string          `yaml:"preserved"`
	Promotions    []PromotionConfig `yaml:"promotions"`
	MaxHeight     int               `yaml:"max_height"`
}

// Key returns the character's namespace/name key.
func (c *CharacterConfig) Key() models.CharacterKey {
	return models.CharacterKey{Namespace: c.Namespace, Name: c.Name}
}

// Validate validates the character configuration.
func (c *CharacterConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Namespace, validation.Required, validation.Match(slugRe)),
		validation.Field(&c.Name, validation.Required, validation.Match(slugRe)),
		validation.Field(&c.GalleryPrefix, validation.Match(slugRe)),
		validation.Field(&c.Preserved, validation.Each(validation.Required)),
		validation.Field(&c.MaxHeight, validation.Min(0)),
	); err != nil {
		return err
	}
	for i := range c.Promotions {
		if err := c.Promotions[i].Validate(); err != nil {
			return fmt.Errorf("promotions[%d]: %w", i, err)
		}
	}
	return nil
}

// GalleryPromotions converts the configured promotions for the synchronizer.
func (c *CharacterConfig) GalleryPromotions() []gallery.Promotion {
	out := make([]gallery.Promotion, 0, len(c.Promotions))
	for _, p := range c.Promotions {
		out = append(out, gallery.Promotion{Source: p.Source, Targets: p.Targets, MaxHeight: p.MaxHeight})
	}
	return out
}

// PromotionConfig maps one intake photo to fixed output names.
type PromotionConfig struct {
	Source    string   `yaml:"source"`
	Targets   []string `yaml:"targets"`
	MaxHeight int      `yaml:"max_height"`
}

// Validate validates the promotion configuration.
func (c *PromotionConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Source, validation.Required),
		validation.Field(&c.Targets, validation.Required, validation.Each(validation.Required)),
		validation.Field(&c.MaxHeight, validation.Min(0)),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Intake: IntakeConfig{
			Path:       "/tmp/file_attachments",
			Extensions: gallery.DefaultIntakeExts,
		},
		Target: TargetConfig{
			Root: "assets/img",
		},
		Codec: CodecConfig{
			Quality: codec.DefaultQuality,
		},
		Manifest: ManifestConfig{
			Path: "./guildsync.db",
		},
		Watch: WatchConfig{
			Debounce: 2 * time.Second,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
