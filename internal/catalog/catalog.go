package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/snapetech/iptvmerge/internal/provider"
)

// Uncategorized is the category used when a provider gives none or an unknown id.
const Uncategorized = "Uncategorized"

// RawChannel is one live channel as reported by one provider.
type RawChannel struct {
	ID       string
	Name     string
	LogoURL  string // "" = no logo
	Category string
	Provider provider.Provider
	Origin   provider.Origin
}

// SourceRef is one concrete, playable instance of a logical channel.
type SourceRef struct {
	ChannelID string
	Provider  provider.Provider
	Origin    provider.Origin
}

// StreamURL is server/live/username/password/channelID.ts.
func (s SourceRef) StreamURL() string {
	return s.Provider.StreamURL(s.ChannelID)
}

type sourceJSON struct {
	ID       string       `json:"id"`
	URL      string       `json:"url"`
	Provider providerJSON `json:"provider"`
}

type providerJSON struct {
	Server    string `json:"server"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Hostname  string `json:"hostname"`
	IsFromAPI bool   `json:"isFromAPI"`
}

// MarshalJSON emits the shape browser clients use to pick and play a source.
func (s SourceRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(sourceJSON{
		ID:  s.ChannelID,
		URL: s.StreamURL(),
		Provider: providerJSON{
			Server:    s.Provider.Server,
			Username:  s.Provider.Username,
			Password:  s.Provider.Password,
			Hostname:  s.Provider.Hostname(),
			IsFromAPI: s.Origin == provider.OriginSubscription,
		},
	})
}

// LogicalChannel is one real-world channel after cross-provider dedup.
// Name and Category are frozen at first sight; Logo is the first non-empty logo seen.
type LogicalChannel struct {
	Name     string      `json:"name"`
	Category string      `json:"category"`
	Logo     *string     `json:"logo"`
	Sources  []SourceRef `json:"sources"`
}

// Category is one bucket of the catalog.
type Category struct {
	Name     string
	Channels []LogicalChannel
}

// ProviderError records a provider or connection string that contributed nothing.
type ProviderError struct {
	Provider string          `json:"provider"`
	Message  string          `json:"error"`
	Source   provider.Origin `json:"source"`
}

// Catalog is the terminal output of one aggregation batch.
// Categories are sorted; channels within a category are sorted by name.
type Catalog struct {
	Categories       []Category
	TotalRawChannels int
	CategoryCount    int
	Errors           []ProviderError
}

// Channels returns the channels of category name, or nil.
func (c *Catalog) Channels(name string) []LogicalChannel {
	for _, cat := range c.Categories {
		if cat.Name == name {
			return cat.Channels
		}
	}
	return nil
}

// ChannelCount returns the number of logical channels across all categories.
func (c *Catalog) ChannelCount() int {
	n := 0
	for _, cat := range c.Categories {
		n += len(cat.Channels)
	}
	return n
}

// MarshalJSON writes {"channels": {...}, "totalChannels", "categoryCount", "errors"}.
// The channels object keeps category order, which encoding/json would not do for a map.
func (c *Catalog) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"channels":{`)
	for i, cat := range c.Categories {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(cat.Name)
		if err != nil {
			return nil, err
		}
		chans := cat.Channels
		if chans == nil {
			chans = []LogicalChannel{}
		}
		v, err := json.Marshal(chans)
		if err != nil {
			return nil, fmt.Errorf("category %q: %w", cat.Name, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteString(`},`)
	errs := c.Errors
	if errs == nil {
		errs = []ProviderError{}
	}
	tail, err := json.Marshal(struct {
		TotalChannels int             `json:"totalChannels"`
		CategoryCount int             `json:"categoryCount"`
		Errors        []ProviderError `json:"errors"`
	}{c.TotalRawChannels, c.CategoryCount, errs})
	if err != nil {
		return nil, err
	}
	buf.Write(tail[1:])
	return buf.Bytes(), nil
}

// WriteFile writes the catalog to path as JSON using a temp-file-then-rename strategy
// so readers never see a partially-written file (atomic on most Unix filesystems).
func (c *Catalog) WriteFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(filepath.Clean(path))
	tmp, err := os.CreateTemp(dir, ".catalog-*.json.tmp")
	if err != nil {
		return fmt.Errorf("catalog write: create temp: %w", err)
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpName)
		if writeErr != nil {
			return fmt.Errorf("catalog write: write: %w", writeErr)
		}
		return fmt.Errorf("catalog write: close: %w", closeErr)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("catalog write: chmod: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("catalog write: rename: %w", err)
	}
	return nil
}
