package gallery

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/starford/guildsync/internal/checksum"
	"github.com/starford/guildsync/internal/codec"
	"github.com/starford/guildsync/internal/storage"
)

// entry is one image of the final gallery, in gallery order.
type entry struct {
	from       string // current location: a target file or a staged file
	orig       string // candidate name it came from
	name       string // final gallery name, set by apply
	staged     bool
	replaces   string // target file superseded by a rebuilt copy
	hash       string
	sourceName string
	sourceHash string
}

// encode turns survivors into gallery entries. Target files in the output
// format are kept as they are unless the job rebuilds; intake files and
// target files in another format are encoded into a staging dir. An intake
// file that fails to encode is skipped; a target file in another format that
// fails or encodes to a copy is returned in discard for deletion. The
// returned stage is nil when nothing had to be encoded.
func (s *Synchronizer) encode(ctx context.Context, job Job, survivors []candidate, seen map[string]string, rep *Report, log *slog.Logger) (entries []entry, discard []string, st *storage.Stage, err error) {
	fail := func(err error) ([]entry, []string, *storage.Stage, error) {
		if st != nil {
			if rmErr := st.Remove(); rmErr != nil {
				log.Warn("sync: stage cleanup failed", slog.String("error", rmErr.Error()))
			}
		}
		return nil, nil, nil, err
	}
	keep := func(c candidate) entry {
		return entry{from: c.name, orig: c.name, hash: c.hash, sourceName: c.sourceName, sourceHash: c.sourceHash}
	}
	// drop handles a candidate that cannot become a new gallery file.
	drop := func(c candidate, stage string, reason error) {
		switch {
		case c.origin == fromTarget && !c.convert:
			entries = append(entries, keep(c))
		case c.origin == fromTarget:
			rep.skip(c.name, stage, reason)
			discard = append(discard, c.name)
		default:
			rep.skip(c.name, stage, reason)
		}
	}

	for _, c := range survivors {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if c.origin == fromTarget && !c.convert && !job.Rebuild {
			entries = append(entries, keep(c))
			continue
		}

		src := job.Intake
		if c.origin == fromTarget {
			src = job.Target
		}
		data, err := src.Read(c.name)
		var out []byte
		if err == nil {
			out, err = codec.Transcode(s.codec, data, codec.Options{MaxHeight: job.MaxHeight})
		}
		if err != nil {
			log.Warn("sync: convert failed", slog.String("file", c.name), slog.String("error", err.Error()))
			drop(c, "encode", err)
			continue
		}

		sum := checksum.Sum(out)
		if c.origin == fromTarget && !c.convert && sum == c.hash {
			entries = append(entries, keep(c))
			continue
		}
		if owner, ok := seen[sum]; ok && owner != c.name {
			drop(c, "dedup", fmt.Errorf("encodes to a copy of %s", owner))
			continue
		}
		seen[sum] = c.name

		if st == nil {
			if st, err = job.Target.Stage(); err != nil {
				return fail(fmt.Errorf("gallery: create stage: %w", err))
			}
		}
		tmp := uuid.NewString() + s.codec.Ext()
		if err := st.Write(tmp, out); err != nil {
			return fail(fmt.Errorf("gallery: stage %s: %w", c.name, err))
		}

		e := entry{from: st.Path(tmp), orig: c.name, staged: true, hash: sum}
		if c.origin == fromIntake {
			e.sourceName = c.name
			e.sourceHash = c.hash
		} else {
			e.sourceName = c.sourceName
			e.sourceHash = c.sourceHash
			e.replaces = c.name
		}
		entries = append(entries, e)
	}
	return entries, discard, st, nil
}

// apply brings the target directory to its final state with the fewest
// mutations: delete discarded files, park files that change name under
// temporary names, then move temporaries and staged files into place.
// A target file replaced by a staged copy stays on disk until the copy is
// in place: at its own final name it is overwritten by the move, elsewhere
// it is parked and deleted last. Entries already at their final name are
// not touched.
func (s *Synchronizer) apply(job Job, ext string, entries []entry, toDelete []string, st *storage.Stage, rep *Report) error {
	if st != nil {
		defer func() {
			if err := st.Remove(); err != nil {
				s.logger.Warn("sync: stage cleanup failed", slog.String("error", err.Error()))
			}
		}()
	}

	for i := range entries {
		entries[i].name = Name(job.Prefix, i+1, ext)
	}

	for _, name := range toDelete {
		if err := job.Target.Delete(name); err != nil {
			return fmt.Errorf("gallery: delete %s: %w", name, err)
		}
		rep.Removed = append(rep.Removed, name)
	}

	// Parked names stay visible and keep an image extension, so a crash
	// here leaves files the next sync picks up again.
	park := func(name, suffix string) (string, error) {
		tmp := fmt.Sprintf("%s_tmp_%s%s", job.Prefix, uuid.NewString(), suffix)
		if err := job.Target.Move(name, tmp); err != nil {
			return "", fmt.Errorf("gallery: park %s: %w", name, err)
		}
		return tmp, nil
	}

	var superseded []string
	for i, e := range entries {
		switch {
		case e.replaces != "":
			if e.replaces == e.name {
				continue
			}
			tmp, err := park(e.replaces, filepath.Ext(e.replaces))
			if err != nil {
				return err
			}
			superseded = append(superseded, tmp)
			rep.Renamed[e.replaces] = e.name
		case !e.staged && e.from != e.name:
			tmp, err := park(e.from, ext)
			if err != nil {
				return err
			}
			entries[i].from = tmp
			rep.Renamed[e.orig] = e.name
		}
	}

	for _, e := range entries {
		if e.from != e.name {
			if err := job.Target.Move(e.from, e.name); err != nil {
				return fmt.Errorf("gallery: place %s: %w", e.name, err)
			}
		}
		if e.staged && e.replaces == "" {
			rep.Added = append(rep.Added, e.name)
		} else {
			rep.Kept = append(rep.Kept, e.name)
		}
		rep.Gallery = append(rep.Gallery, e.name)
	}

	for _, name := range superseded {
		if err := job.Target.Delete(name); err != nil {
			return fmt.Errorf("gallery: delete %s: %w", name, err)
		}
	}
	return nil
}
