package gallery

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/starford/guildsync/internal/models"
	"github.com/starford/guildsync/internal/storage"
)

type origin int

const (
	fromTarget origin = iota
	fromIntake
)

// candidate is one image competing for a place in the gallery.
type candidate struct {
	name       string
	origin     origin
	index      int    // gallery index for target files, 0 otherwise
	hash       string // content hash of the file as it is on disk
	sourceHash string // intake hash this target file was produced from, if known
	sourceName string
	convert    bool   // target file not in the output format
	err        error  // read failure while hashing
	dupOf      string // set by dedup: the file that already holds this content
}

// keys are the hashes that identify a candidate for deduplication.
func (c candidate) keys() []string {
	if c.sourceHash != "" && c.sourceHash != c.hash {
		return []string{c.hash, c.sourceHash}
	}
	return []string{c.hash}
}

// orderCandidates fixes the pool order: target gallery files by index, other
// target files by name, then intake files by name. Gallery numbering depends
// only on this order, never on directory listing order.
func orderCandidates(pool []candidate) {
	rank := func(c candidate) int {
		switch {
		case c.origin == fromTarget && c.index > 0:
			return 0
		case c.origin == fromTarget:
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(pool, func(i, j int) bool {
		a, b := pool[i], pool[j]
		if ra, rb := rank(a), rank(b); ra != rb {
			return ra < rb
		}
		if a.index != b.index {
			return a.index < b.index
		}
		return a.name < b.name
	})
}

type hashResult struct {
	sum string
	err error
}

// hashAll hashes files on p with at most workers concurrent reads. A failure
// on one file is returned in its slot; only cancellation fails the call.
func hashAll(ctx context.Context, p storage.Provider, files []models.AssetMetadata, workers int) ([]hashResult, error) {
	out := make([]hashResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sum, err := p.Hash(f.Name)
			out[i] = hashResult{sum: sum, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// dedup walks pool once in order. A candidate whose keys meet seen is a
// duplicate; otherwise its keys join seen and it survives. seen maps a hash
// to the name of the file that claimed it.
func dedup(pool []candidate, seen map[string]string) (survivors, duplicates, unreadable []candidate) {
	for _, c := range pool {
		if c.err != nil {
			unreadable = append(unreadable, c)
			continue
		}
		for _, k := range c.keys() {
			if owner, ok := seen[k]; ok {
				c.dupOf = owner
				break
			}
		}
		if c.dupOf != "" {
			duplicates = append(duplicates, c)
			continue
		}
		for _, k := range c.keys() {
			seen[k] = c.name
		}
		survivors = append(survivors, c)
	}
	return survivors, duplicates, unreadable
}
