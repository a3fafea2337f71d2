package catalog

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Group buckets channels by category and sorts buckets and channels with a
// collator for lang. Empty categories become Uncategorized. Category names
// that collate equal fall back to byte order so bucket order is strict;
// channels that collate equal keep their input order.
func Group(channels []LogicalChannel, lang language.Tag) []Category {
	// collate.Collator keeps internal buffers, one per call.
	col := collate.New(lang)

	buckets := make(map[string][]LogicalChannel)
	for _, ch := range channels {
		name := strings.TrimSpace(ch.Category)
		if name == "" {
			name = Uncategorized
			ch.Category = name
		}
		buckets[name] = append(buckets[name], ch)
	}

	names := make([]string, 0, len(buckets))
	for name := range buckets {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if c := col.CompareString(names[i], names[j]); c != 0 {
			return c < 0
		}
		return names[i] < names[j]
	})

	out := make([]Category, 0, len(names))
	for _, name := range names {
		chans := buckets[name]
		sort.SliceStable(chans, func(i, j int) bool {
			return col.CompareString(chans[i].Name, chans[j].Name) < 0
		})
		out = append(out, Category{Name: name, Channels: chans})
	}
	return out
}

// Build assembles the final catalog from merged channels.
// totalRaw is the number of raw records fetched across all providers.
func Build(channels []LogicalChannel, totalRaw int, errs []ProviderError, lang language.Tag) *Catalog {
	cats := Group(channels, lang)
	return &Catalog{
		Categories:       cats,
		TotalRawChannels: totalRaw,
		CategoryCount:    len(cats),
		Errors:           errs,
	}
}
