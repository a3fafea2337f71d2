// Package normalize maps human-readable channel names to dedup keys.
//
// The key is built by lower-casing, dropping "(...)" and "[...]" segments,
// dropping whole-word quality tags (and optionally region tags), and collapsing
// separator runs (space, '-', '_', '|') into one separator. Two channel names
// that produce the same key are treated as the same logical channel.
package normalize

import (
	"regexp"
	"strings"
)

// DefaultTags are the quality tokens removed as whole words.
var DefaultTags = []string{"hd", "fhd", "uhd", "4k", "8k", "sd"}

// maxPasses bounds the fixed-point loop in Key. Collapsing separators can glue
// tokens into a new tag ("h d" -> "hd"), so one pass is not always stable.
const maxPasses = 8

var (
	reParens    = regexp.MustCompile(`\s*\(.*?\)\s*`)
	reBrackets  = regexp.MustCompile(`\s*\[.*?\]\s*`)
	reSeparator = regexp.MustCompile(`[\s\-_|]+`)
)

// Options configures a Normalizer. The zero value means DefaultTags and an
// empty separator.
type Options struct {
	// Tags replaces DefaultTags when non-empty.
	Tags []string
	// RegionTags are appended to Tags (e.g. "cz", "sk").
	RegionTags []string
	// Separator replaces separator runs: "" (default) or " ".
	Separator string
}

// Normalizer computes dedup keys. Safe for concurrent use.
type Normalizer struct {
	tags *regexp.Regexp
	sep  string
}

// Default uses DefaultTags and the empty separator.
var Default = New(Options{})

// New builds a Normalizer from opts.
func New(opts Options) *Normalizer {
	tags := opts.Tags
	if len(tags) == 0 {
		tags = DefaultTags
	}
	all := make([]string, 0, len(tags)+len(opts.RegionTags))
	for _, t := range append(append([]string{}, tags...), opts.RegionTags...) {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			all = append(all, regexp.QuoteMeta(t))
		}
	}
	n := &Normalizer{sep: opts.Separator}
	if len(all) > 0 {
		n.tags = regexp.MustCompile(`(?i)\b(?:` + strings.Join(all, "|") + `)\b`)
	}
	return n
}

// Key returns the dedup key for name, or "" when nothing keyable remains.
// Key is idempotent: Key(Key(x)) == Key(x).
func (n *Normalizer) Key(name string) string {
	s := name
	for i := 0; i < maxPasses; i++ {
		next := n.pass(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

func (n *Normalizer) pass(s string) string {
	s = strings.ToLower(s)
	s = reParens.ReplaceAllString(s, " ")
	s = reBrackets.ReplaceAllString(s, " ")
	if n.tags != nil {
		s = n.tags.ReplaceAllString(s, " ")
	}
	s = strings.TrimSpace(s)
	s = reSeparator.ReplaceAllString(s, n.sep)
	return strings.TrimSpace(s)
}

// Key is Default.Key.
func Key(name string) string {
	return Default.Key(name)
}
