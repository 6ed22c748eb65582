// Package refscan finds asset references in site page sources and reports
// those whose file no longer exists, e.g. a page still pointing at
// gallery_7.webp after a sync shrank the gallery to six images.
package refscan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultExts are the page-source extensions scanned when none are given.
var DefaultExts = []string{".md", ".mdx", ".html", ".astro"}

// Options configures Scan.
type Options struct {
	Roots     []string
	Exts      []string
	URLPrefix string
}

// Scan walks every root and returns the asset references found, in walk
// order. Missing roots are skipped. Hidden directories and node_modules are
// not descended into.
func Scan(ctx context.Context, opts Options) ([]Ref, error) {
	exts := opts.Exts
	if len(exts) == 0 {
		exts = DefaultExts
	}
	prefix := opts.URLPrefix
	if prefix == "" {
		prefix = DefaultURLPrefix
	}
	re := refPattern(prefix)

	var out []Ref
	for _, root := range opts.Roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && (strings.HasPrefix(d.Name(), ".") || d.Name() == "node_modules") {
					return filepath.SkipDir
				}
				return nil
			}
			if !hasExt(d.Name(), exts) {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("refscan: read %s: %w", path, err)
			}
			out = append(out, parsePage(re, path, data)...)
			return nil
		})
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Missing returns the refs whose file does not exist under
// targetRoot/<namespace>/<character>/.
func Missing(refs []Ref, targetRoot string) []Ref {
	exists := make(map[string]bool)
	var out []Ref
	for _, r := range refs {
		p := filepath.Join(targetRoot, r.Character.Namespace, r.Character.Name, r.File)
		ok, seen := exists[p]
		if !seen {
			info, err := os.Stat(p)
			ok = err == nil && info.Mode().IsRegular()
			exists[p] = ok
		}
		if !ok {
			out = append(out, r)
		}
	}
	return out
}

func hasExt(name string, exts []string) bool {
	ext := filepath.Ext(name)
	for _, e := range exts {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}
