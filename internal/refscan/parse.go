package refscan

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/guildsync/internal/models"
)

// DefaultURLPrefix is the public URL path character directories are served under.
const DefaultURLPrefix = "/assets/img"

// Ref is one asset reference found in a page source.
type Ref struct {
	Page      string              `json:"page"`
	Line      int                 `json:"line,omitempty"`
	Field     string              `json:"field,omitempty"` // frontmatter key path, empty for body refs
	Character models.CharacterKey `json:"character"`
	File      string              `json:"file"`
	URL       string              `json:"url"`
}

// refPattern matches <prefix>/<namespace>/<character>/<file>.
func refPattern(prefix string) *regexp.Regexp {
	p := "/" + regexp.QuoteMeta(strings.Trim(prefix, "/"))
	return regexp.MustCompile(p + `/([a-z0-9][a-z0-9_-]*)/([a-z0-9][a-z0-9_-]*)/([A-Za-z0-9][A-Za-z0-9._-]*\.[A-Za-z0-9]+)`)
}

// parsePage extracts every reference from one page: frontmatter values first
// (walked in key order), then the body line by line.
func parsePage(re *regexp.Regexp, page string, data []byte) []Ref {
	fm, body, bodyLine := splitFrontmatter(data)

	var out []Ref
	if fm != nil {
		walkValues("", fm, func(field, value string) {
			for _, m := range re.FindAllStringSubmatch(value, -1) {
				out = append(out, newRef(page, 0, field, m))
			}
		})
	}
	for i, line := range strings.Split(body, "\n") {
		for _, m := range re.FindAllStringSubmatch(line, -1) {
			out = append(out, newRef(page, bodyLine+i, "", m))
		}
	}
	return out
}

func newRef(page string, line int, field string, m []string) Ref {
	return Ref{
		Page:      page,
		Line:      line,
		Field:     field,
		Character: models.CharacterKey{Namespace: m[1], Name: m[2]},
		File:      m[3],
		URL:       m[0],
	}
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the body and returns the 1-based line the body starts on. Invalid YAML
// is treated as body.
func splitFrontmatter(data []byte) (map[string]any, string, int) {
	const delim = "---"
	if !bytes.HasPrefix(data, []byte(delim)) {
		return nil, string(data), 1
	}
	rest := data[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data), 1
	}

	yamlBlock := rest[:idx]
	after := rest[idx+1+len(delim):]
	var fm map[string]any
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return nil, string(data), 1
	}
	// line of the closing delimiter; the body starts after it
	consumed := bytes.Count(data[:len(data)-len(after)], []byte("\n")) + 1
	if nl := bytes.IndexByte(after, '\n'); nl >= 0 {
		after = after[nl+1:]
		consumed++
	} else {
		after = nil
	}
	return fm, string(after), consumed
}

// walkValues calls fn for every string value in v with its key path
// ("hero.image", "gallery[2]").
func walkValues(path string, v any, fn func(field, value string)) {
	switch t := v.(type) {
	case string:
		fn(path, t)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walkValues(joinPath(path, k), t[k], fn)
		}
	case []any:
		for i, item := range t {
			walkValues(fmt.Sprintf("%s[%d]", path, i), item, fn)
		}
	}
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}
