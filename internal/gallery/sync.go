package gallery

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/starford/guildsync/internal/apperr"
	"github.com/starford/guildsync/internal/checksum"
	"github.com/starford/guildsync/internal/codec"
	"github.com/starford/guildsync/internal/manifest"
	"github.com/starford/guildsync/internal/models"
)

// Sync runs the full pipeline for one character directory:
//
//  1. promote configured intake photos to their fixed names
//  2. hash preserved files and seed the seen set with them
//  3. gather the other target images and new intake photos in a fixed order
//  4. drop every candidate whose content is already seen
//  5. encode new images into a staging dir, then delete duplicates and
//     move everything into a dense <prefix>_1..N sequence
//
// Target files that are neither preserved nor images are never touched.
// Missing promotion sources and unreadable or undecodable candidates are
// recorded in Report.Skipped and do not fail the run. File-system errors
// while writing, deleting or renaming do.
func (s *Synchronizer) Sync(ctx context.Context, job Job) (*Report, error) {
	job = job.withDefaults()
	ext := s.codec.Ext()
	if err := job.validate(ext); err != nil {
		return nil, err
	}

	unlock, err := job.Target.Lock()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := unlock(); err != nil {
			s.logger.Warn("sync: unlock failed", slog.String("error", err.Error()))
		}
	}()

	log := s.logger.With(slog.String("character", job.Character))
	rep := newReport(job.Character, "sync")

	if n, err := job.Target.SweepStages(); err != nil {
		return nil, fmt.Errorf("gallery: sweep stages: %w", err)
	} else if n > 0 {
		log.Warn("sync: removed stale stages", slog.Int("stages", n))
	}

	rows, err := s.manifestRows(ctx, job.Character)
	if err != nil {
		return nil, err
	}

	var intake []models.AssetMetadata
	if job.Intake != nil {
		if intake, err = job.Intake.List(""); err != nil {
			return nil, fmt.Errorf("gallery: list intake: %w", err)
		}
	}

	consumed, err := s.promote(ctx, job, intake, rows, rep, log)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	listed, err := job.Target.List("")
	if err != nil {
		return nil, fmt.Errorf("gallery: list target: %w", err)
	}
	preserved := job.preservedSet()
	// Only images take part; anything else in the directory is left alone.
	imageExts := append([]string{ext}, job.IntakeExts...)
	var targetFiles []models.AssetMetadata
	for _, f := range listed {
		if preserved[f.Name] || hasExt(f.Name, imageExts...) {
			targetFiles = append(targetFiles, f)
		}
	}

	targetHashes, err := hashAll(ctx, job.Target, targetFiles, s.workers)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]string)
	var keptPreserved []models.AssetMetadata
	var pool []candidate
	for i, f := range targetFiles {
		h := targetHashes[i]
		if preserved[f.Name] {
			if h.err != nil {
				return nil, fmt.Errorf("gallery: hash preserved %s: %w", f.Name, h.err)
			}
			seen[h.sum] = f.Name
			if r, ok := rows[f.Name]; ok && r.Hash == h.sum && r.SourceHash != "" {
				seen[r.SourceHash] = f.Name
			}
			keptPreserved = append(keptPreserved, models.AssetMetadata{Name: f.Name, Checksum: h.sum})
			continue
		}
		c := candidate{name: f.Name, origin: fromTarget, hash: h.sum, err: h.err, convert: !hasExt(f.Name, ext)}
		c.index, _ = ParseIndex(f.Name, job.Prefix, ext)
		if r, ok := rows[f.Name]; ok && h.err == nil && r.Hash == h.sum {
			c.sourceHash = r.SourceHash
			c.sourceName = r.SourceName
		}
		pool = append(pool, c)
	}
	log.Debug("sync: preserved hashes collected", slog.Int("preserved", len(keptPreserved)))

	var newFiles []models.AssetMetadata
	for _, f := range intake {
		if !consumed[f.Name] && hasExt(f.Name, job.IntakeExts...) {
			newFiles = append(newFiles, f)
		}
	}
	intakeHashes, err := hashAll(ctx, job.Intake, newFiles, s.workers)
	if err != nil {
		return nil, err
	}
	for i, f := range newFiles {
		pool = append(pool, candidate{name: f.Name, origin: fromIntake, hash: intakeHashes[i].sum, err: intakeHashes[i].err})
	}

	orderCandidates(pool)
	log.Info("sync: scanning candidates", slog.Int("candidates", len(pool)))

	survivors, duplicates, unreadable := dedup(pool, seen)

	var toDelete []string
	for _, c := range unreadable {
		log.Warn("sync: read failed", slog.String("file", c.name), slog.String("error", c.err.Error()))
		rep.skip(c.name, "hash", c.err)
		if c.origin == fromTarget {
			toDelete = append(toDelete, c.name)
		}
	}
	for _, c := range duplicates {
		log.Debug("sync: duplicate", slog.String("file", c.name), slog.String("of", c.dupOf))
		if c.origin == fromTarget {
			toDelete = append(toDelete, c.name)
		} else {
			rep.skip(c.name, "dedup", fmt.Errorf("duplicate of %s", c.dupOf))
		}
	}

	entries, discard, st, err := s.encode(ctx, job, survivors, seen, rep, log)
	if err != nil {
		return nil, err
	}
	toDelete = append(toDelete, discard...)

	log.Info("sync: writing gallery", slog.Int("images", len(entries)), slog.Int("removed", len(toDelete)))
	if err := s.apply(job, ext, entries, toDelete, st, rep); err != nil {
		return rep, err
	}
	rep.FinishedAt = time.Now().UTC()

	if err := s.recordSync(context.WithoutCancel(ctx), job, entries, keptPreserved, rep); err != nil {
		return rep, err
	}

	log.Info("sync: done",
		slog.Int("promoted", len(rep.Promoted)),
		slog.Int("kept", len(rep.Kept)),
		slog.Int("added", len(rep.Added)),
		slog.Int("removed", len(rep.Removed)),
		slog.Int("skipped", len(rep.Skipped)))
	return rep, nil
}

// manifestRows loads the character's manifest rows keyed by file name.
func (s *Synchronizer) manifestRows(ctx context.Context, character string) (map[string]manifest.AssetRow, error) {
	out := make(map[string]manifest.AssetRow)
	if s.manifest == nil {
		return out, nil
	}
	rows, err := s.manifest.Assets(ctx, character)
	if err != nil {
		return nil, fmt.Errorf("gallery: load manifest: %w", err)
	}
	for _, r := range rows {
		out[r.Name] = r
	}
	return out, nil
}

// promote writes each promotion's outputs and returns the intake names it used.
func (s *Synchronizer) promote(ctx context.Context, job Job, intake []models.AssetMetadata, rows map[string]manifest.AssetRow, rep *Report, log *slog.Logger) (map[string]bool, error) {
	consumed := make(map[string]bool)
	for _, p := range job.Promotions {
		name, err := resolveSource(p.Source, intake)
		if err != nil {
			log.Warn("sync: promotion source not found", slog.String("source", p.Source))
			rep.skip(p.Source, "promote", err)
			continue
		}
		consumed[name] = true

		data, err := job.Intake.Read(name)
		if err != nil {
			log.Warn("sync: promotion read failed", slog.String("source", name), slog.String("error", err.Error()))
			rep.skip(name, "promote", err)
			continue
		}
		srcHash := checksum.Sum(data)
		if s.promotionCurrent(job, p, srcHash, rows) {
			log.Debug("sync: promotion unchanged", slog.String("source", name))
			continue
		}

		out, err := codec.Transcode(s.codec, data, codec.Options{MaxHeight: p.MaxHeight})
		if err != nil {
			log.Warn("sync: promotion convert failed", slog.String("source", name), slog.String("error", err.Error()))
			rep.skip(name, "promote", err)
			continue
		}
		row := manifest.AssetRow{
			Character:  job.Character,
			Role:       models.RolePreserved,
			Hash:       checksum.Sum(out),
			SourceName: name,
			SourceHash: srcHash,
		}
		for _, target := range p.Targets {
			if err := job.Target.Write(target, out); err != nil {
				return nil, fmt.Errorf("gallery: promote %s: %w", target, err)
			}
			row.Name = target
			rows[target] = row
			if s.manifest != nil {
				if err := s.manifest.UpsertAsset(ctx, row); err != nil {
					return nil, fmt.Errorf("gallery: record promotion: %w", err)
				}
			}
			rep.Promoted = append(rep.Promoted, target)
			log.Info("sync: promoted", slog.String("source", name), slog.String("target", target))
		}
	}
	return consumed, nil
}

// promotionCurrent reports whether every target of p already holds the
// output of the intake file with hash srcHash.
func (s *Synchronizer) promotionCurrent(job Job, p Promotion, srcHash string, rows map[string]manifest.AssetRow) bool {
	for _, target := range p.Targets {
		r, ok := rows[target]
		if !ok || r.SourceHash != srcHash {
			return false
		}
		sum, err := job.Target.Hash(target)
		if err != nil || sum != r.Hash {
			return false
		}
	}
	return true
}

// resolveSource finds the intake file for a promotion: an exact name first,
// then the first glob match in name order.
func resolveSource(pattern string, intake []models.AssetMetadata) (string, error) {
	for _, f := range intake {
		if f.Name == pattern {
			return f.Name, nil
		}
	}
	for _, f := range intake {
		ok, err := filepath.Match(pattern, f.Name)
		if err != nil {
			return "", fmt.Errorf("gallery: bad promotion pattern %q: %w", pattern, err)
		}
		if ok {
			return f.Name, nil
		}
	}
	return "", fmt.Errorf("%s: %w", pattern, apperr.ErrSourceNotFound)
}

// recordSync stores gallery provenance and the run in the manifest.
func (s *Synchronizer) recordSync(ctx context.Context, job Job, entries []entry, preserved []models.AssetMetadata, rep *Report) error {
	if s.manifest == nil {
		return nil
	}
	rows := make([]manifest.AssetRow, 0, len(entries))
	onDisk := append([]models.AssetMetadata(nil), preserved...)
	for _, e := range entries {
		rows = append(rows, manifest.AssetRow{
			Name:       e.name,
			Hash:       e.hash,
			SourceName: e.sourceName,
			SourceHash: e.sourceHash,
		})
		onDisk = append(onDisk, models.AssetMetadata{Name: e.name, Checksum: e.hash})
	}
	if err := s.manifest.ReplaceRole(ctx, job.Character, models.RoleGallery, rows); err != nil {
		return fmt.Errorf("gallery: record gallery: %w", err)
	}
	if _, err := s.manifest.Reconcile(ctx, job.Character, onDisk); err != nil {
		return fmt.Errorf("gallery: reconcile manifest: %w", err)
	}
	return s.recordRun(ctx, rep)
}

func (s *Synchronizer) recordRun(ctx context.Context, rep *Report) error {
	if s.manifest == nil {
		return nil
	}
	_, err := s.manifest.RecordRun(ctx, manifest.RunRow{
		Character:  rep.Character,
		Mode:       rep.Mode,
		StartedAt:  rep.StartedAt,
		FinishedAt: rep.FinishedAt,
		Promoted:   len(rep.Promoted),
		Kept:       len(rep.Kept),
		Added:      len(rep.Added),
		Removed:    len(rep.Removed),
		Skipped:    len(rep.Skipped),
	})
	if err != nil {
		return fmt.Errorf("gallery: record run: %w", err)
	}
	return nil
}
