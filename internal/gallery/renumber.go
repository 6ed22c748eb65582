package gallery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

// Renumber closes gaps in the gallery sequence without deduplicating or
// importing anything. Files keep their relative order by numeric index and
// only files whose index changes are renamed.
func (s *Synchronizer) Renumber(ctx context.Context, job Job) (*Report, error) {
	job = job.withDefaults()
	ext := s.codec.Ext()
	if err := validation.ValidateStruct(&job,
		validation.Field(&job.Character, validation.Required),
		validation.Field(&job.Target, validation.Required),
	); err != nil {
		return nil, fmt.Errorf("gallery: invalid job: %w", err)
	}

	unlock, err := job.Target.Lock()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := unlock(); err != nil {
			s.logger.Warn("renumber: unlock failed", slog.String("error", err.Error()))
		}
	}()

	log := s.logger.With(slog.String("character", job.Character))
	rep := newReport(job.Character, "renumber")

	files, err := job.Target.List("")
	if err != nil {
		return nil, fmt.Errorf("gallery: list target: %w", err)
	}
	type numbered struct {
		name  string
		index int
	}
	var items []numbered
	for _, f := range files {
		if n, ok := ParseIndex(f.Name, job.Prefix, ext); ok {
			items = append(items, numbered{name: f.Name, index: n})
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].index != items[j].index {
			return items[i].index < items[j].index
		}
		return items[i].name < items[j].name
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type move struct{ from, tmp, to string }
	var moves []move
	for i, it := range items {
		to := Name(job.Prefix, i+1, ext)
		rep.Gallery = append(rep.Gallery, to)
		if it.name == to {
			rep.Kept = append(rep.Kept, to)
			continue
		}
		moves = append(moves, move{from: it.name, to: to})
	}

	for i, m := range moves {
		tmp := fmt.Sprintf("%s_tmp_%s%s", job.Prefix, uuid.NewString(), ext)
		if err := job.Target.Move(m.from, tmp); err != nil {
			return rep, fmt.Errorf("gallery: park %s: %w", m.from, err)
		}
		moves[i].tmp = tmp
	}
	for _, m := range moves {
		if err := job.Target.Move(m.tmp, m.to); err != nil {
			return rep, fmt.Errorf("gallery: place %s: %w", m.to, err)
		}
		rep.Renamed[m.from] = m.to
		log.Debug("renumber: renamed", slog.String("from", m.from), slog.String("to", m.to))
	}
	rep.FinishedAt = time.Now().UTC()

	if s.manifest != nil {
		mctx := context.WithoutCancel(ctx)
		if err := s.manifest.RenameAssets(mctx, job.Character, rep.Renamed); err != nil {
			return rep, fmt.Errorf("gallery: record renames: %w", err)
		}
		if err := s.recordRun(mctx, rep); err != nil {
			return rep, err
		}
	}
	log.Info("renumber: done", slog.Int("images", len(rep.Gallery)), slog.Int("renamed", len(rep.Renamed)))
	return rep, nil
}
