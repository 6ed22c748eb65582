// Package gallery reconciles an intake folder of photos against a character's
// asset directory: it promotes chosen photos to fixed-name roles, drops
// duplicates by content hash and keeps a dense <prefix>_1..N sequence.
package gallery

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/guildsync/internal/storage"
)

// DefaultIntakeExts are the intake extensions considered when a job sets none.
var DefaultIntakeExts = []string{".jpg", ".jpeg", ".png"}

// Promotion maps one intake photo to one or more fixed output names.
type Promotion struct {
	// Source is an exact intake file name or a glob pattern ("621665114*").
	// With several glob matches the lexicographically first one wins.
	Source string
	// Targets are the output names written from Source, e.g. avatar_v2.webp.
	Targets []string
	// MaxHeight scales the promoted image down to this height. 0 keeps it.
	MaxHeight int
}

// Job describes one synchronization of a character directory.
type Job struct {
	// Character is the manifest key, usually "namespace/name".
	Character string
	// Intake holds new photos. Nil means there is nothing to import.
	Intake storage.Provider
	// Target is the character's asset directory.
	Target storage.Provider
	// Preserved lists fixed-name files sync never renames or deletes.
	// Promotion targets are preserved implicitly.
	Preserved  []string
	Promotions []Promotion
	// Prefix of gallery names; DefaultPrefix when empty.
	Prefix string
	// IntakeExts filters intake files; DefaultIntakeExts when empty.
	IntakeExts []string
	// MaxHeight scales newly encoded gallery images down to this height.
	MaxHeight int
	// Rebuild re-encodes existing gallery files instead of moving them.
	Rebuild bool
}

func (j Job) withDefaults() Job {
	if j.Prefix == "" {
		j.Prefix = DefaultPrefix
	}
	if len(j.IntakeExts) == 0 {
		j.IntakeExts = DefaultIntakeExts
	}
	return j
}

// preservedSet returns configured preserved names plus every promotion target.
func (j Job) preservedSet() map[string]bool {
	out := make(map[string]bool, len(j.Preserved))
	for _, n := range j.Preserved {
		out[n] = true
	}
	for _, p := range j.Promotions {
		for _, t := range p.Targets {
			out[t] = true
		}
	}
	return out
}

func (j Job) validate(ext string) error {
	if err := validation.ValidateStruct(&j,
		validation.Field(&j.Character, validation.Required),
		validation.Field(&j.Target, validation.Required),
	); err != nil {
		return fmt.Errorf("gallery: invalid job: %w", err)
	}
	for name := range j.preservedSet() {
		if _, ok := ParseIndex(name, j.Prefix, ext); ok {
			return fmt.Errorf("gallery: preserved name %q collides with the %s_N sequence", name, j.Prefix)
		}
	}
	for _, p := range j.Promotions {
		if p.Source == "" || len(p.Targets) == 0 {
			return fmt.Errorf("gallery: promotion needs a source and at least one target")
		}
	}
	return nil
}

// Skip records a file that was left out of a run and why.
type Skip struct {
	Name   string `json:"name"`
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// Report summarizes a sync or renumber run.
type Report struct {
	Character  string            `json:"character"`
	Mode       string            `json:"mode"`
	Promoted   []string          `json:"promoted"`
	Kept       []string          `json:"kept"`
	Added      []string          `json:"added"`
	Removed    []string          `json:"removed"`
	Renamed    map[string]string `json:"renamed"`
	Skipped    []Skip            `json:"skipped"`
	Gallery    []string          `json:"gallery"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

func newReport(character, mode string) *Report {
	return &Report{
		Character: character,
		Mode:      mode,
		Promoted:  []string{},
		Kept:      []string{},
		Added:     []string{},
		Removed:   []string{},
		Renamed:   map[string]string{},
		Skipped:   []Skip{},
		Gallery:   []string{},
		StartedAt: time.Now().UTC(),
	}
}

func (r *Report) skip(name, stage string, err error) {
	r.Skipped = append(r.Skipped, Skip{Name: name, Stage: stage, Reason: err.Error()})
}
