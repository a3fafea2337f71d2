package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/snapetech/iptvmerge/internal/normalize"
	"github.com/snapetech/iptvmerge/internal/provider"
)

var (
	provA = provider.Provider{Server: "http://a.example:8080", Username: "ua", Password: "pa"}
	provB = provider.Provider{Server: "http://b.example", Username: "ub", Password: "pb"}
)

func raw(id, name, cat string, p provider.Provider) RawChannel {
	return RawChannel{ID: id, Name: name, Category: cat, Provider: p, Origin: provider.OriginManual}
}

func TestMerge_crossProvider(t *testing.T) {
	got := Merge([]RawChannel{
		raw("10", "Sport 1 HD", "Sports", provA),
		raw("77", "sport1", "Sport", provB),
	}, normalize.Key)

	require.Len(t, got, 1)
	ch := got[0]
	assert.Equal(t, "Sport 1 HD", ch.Name)
	assert.Equal(t, "Sports", ch.Category)
	require.Len(t, ch.Sources, 2)
	assert.Equal(t, "10", ch.Sources[0].ChannelID)
	assert.Equal(t, provA.Server, ch.Sources[0].Provider.Server)
	assert.Equal(t, "77", ch.Sources[1].ChannelID)
	assert.Equal(t, provB.Server, ch.Sources[1].Provider.Server)
}

func TestMerge_sameServerOnce(t *testing.T) {
	other := provA
	other.Username = "second-account"
	got := Merge([]RawChannel{
		raw("1", "CNN", "News", provA),
		raw("2", "CNN HD", "News", provA),
		raw("3", "CNN [4K]", "News", other),
		raw("4", "cnn", "News", provB),
	}, normalize.Key)

	require.Len(t, got, 1)
	servers := map[string]int{}
	for _, s := range got[0].Sources {
		servers[s.Provider.Server]++
	}
	assert.Equal(t, map[string]int{provA.Server: 1, provB.Server: 1}, servers)
	assert.Equal(t, "1", got[0].Sources[0].ChannelID)
}

func TestMerge_skipsUnkeyable(t *testing.T) {
	m := NewMerger(normalize.Key)
	assert.False(t, m.Add(raw("", "No ID", "X", provA)))
	assert.False(t, m.Add(raw("5", "  ", "X", provA)))
	assert.False(t, m.Add(raw("6", "(HD)", "X", provA)))
	assert.True(t, m.Add(raw("7", "Real", "X", provA)))
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 1, m.Keyed())
}

func TestMerge_logo(t *testing.T) {
	first := raw("1", "Nova", "CZ", provA)
	second := raw("2", "NOVA HD", "CZ", provB)
	second.LogoURL = "http://logo/nova.png"
	third := raw("3", "nova", "CZ", provider.Provider{Server: "http://c.example", Username: "u", Password: "p"})
	third.LogoURL = "http://logo/other.png"

	got := Merge([]RawChannel{first, second, third}, normalize.Key)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Logo)
	assert.Equal(t, "http://logo/nova.png", *got[0].Logo)
	assert.Len(t, got[0].Sources, 3)
}

func TestMerger_channelsIsCopy(t *testing.T) {
	m := NewMerger(normalize.Key)
	m.Add(raw("1", "A", "X", provA))
	out := m.Channels()
	out[0].Name = "changed"
	assert.Equal(t, "A", m.Channels()[0].Name)
}

func TestGroup_order(t *testing.T) {
	chans := []LogicalChannel{
		{Name: "Zoo", Category: "Sport"},
		{Name: "alpha", Category: "news"},
		{Name: "Ábel", Category: "Ďalšie"},
		{Name: "Beta", Category: "Movies"},
		{Name: "Arena", Category: "Sport"},
		{Name: "Orphan", Category: ""},
	}
	cats := Group(chans, language.Und)

	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"Ďalšie", "Movies", "news", "Sport", Uncategorized}, names)
	assert.Equal(t, "Arena", cats[3].Channels[0].Name)
	assert.Equal(t, "Zoo", cats[3].Channels[1].Name)
	assert.Equal(t, Uncategorized, cats[4].Channels[0].Category)
}

func TestGroup_stableTies(t *testing.T) {
	chans := []LogicalChannel{
		{Name: "Echo", Category: "X", Sources: []SourceRef{{ChannelID: "first"}}},
		{Name: "Delta", Category: "X"},
		{Name: "Echo", Category: "X", Sources: []SourceRef{{ChannelID: "second"}}},
	}
	cats := Group(chans, language.Und)
	require.Len(t, cats, 1)
	got := cats[0].Channels
	assert.Equal(t, "Delta", got[0].Name)
	assert.Equal(t, "first", got[1].Sources[0].ChannelID)
	assert.Equal(t, "second", got[2].Sources[0].ChannelID)
}

func TestBuild_counts(t *testing.T) {
	chans := Merge([]RawChannel{
		raw("1", "A", "One", provA),
		raw("2", "B", "Two", provA),
		raw("3", "a", "One", provB),
	}, normalize.Key)
	errs := []ProviderError{{Provider: "http://bad", Message: "boom", Source: provider.OriginManual}}
	c := Build(chans, 3, errs, language.Und)

	assert.Equal(t, 3, c.TotalRawChannels)
	assert.Equal(t, 2, c.CategoryCount)
	assert.Equal(t, 2, c.ChannelCount())
	assert.Len(t, c.Channels("One"), 1)
	assert.Nil(t, c.Channels("missing"))
}

func TestCatalog_MarshalJSON(t *testing.T) {
	logo := "http://logo/a.png"
	c := &Catalog{
		Categories: []Category{
			{Name: "B", Channels: []LogicalChannel{{Name: "x", Category: "B", Logo: &logo,
				Sources: []SourceRef{{ChannelID: "9", Provider: provA, Origin: provider.OriginSubscription}}}}},
			{Name: "A", Channels: []LogicalChannel{{Name: "y", Category: "A",
				Sources: []SourceRef{{ChannelID: "3", Provider: provB, Origin: provider.OriginManual}}}}},
		},
		TotalRawChannels: 2,
		CategoryCount:    2,
	}
	data, err := json.Marshal(c)
	require.NoError(t, err)
	s := string(data)

	// Category order is preserved as given.
	assert.Less(t, strings.Index(s, `"B":`), strings.Index(s, `"A":`))
	assert.Contains(t, s, `"errors":[]`)
	assert.Contains(t, s, `"logo":null`)
	assert.Contains(t, s, `"url":"http://a.example:8080/live/ua/pa/9.ts"`)
	assert.Contains(t, s, `"isFromAPI":true`)
	assert.Contains(t, s, `"hostname":"b.example"`)

	var decoded struct {
		Channels map[string][]struct {
			Sources []sourceJSON `json:"sources"`
		} `json:"channels"`
		TotalChannels int             `json:"totalChannels"`
		CategoryCount int             `json:"categoryCount"`
		Errors        []ProviderError `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 2, decoded.TotalChannels)
	assert.Equal(t, 2, decoded.CategoryCount)
	require.Len(t, decoded.Channels["B"], 1)
	src := decoded.Channels["B"][0].Sources[0]
	assert.Equal(t, "9", src.ID)
	assert.Equal(t, provA.Server, src.Provider.Server)
	assert.Equal(t, provA.Username, src.Provider.Username)
	assert.Equal(t, provA.Password, src.Provider.Password)
	assert.True(t, src.Provider.IsFromAPI)
}

func TestWriteFile_atomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	c := Build(Merge([]RawChannel{raw("1", "A", "One", provA)}, normalize.Key), 1, nil, language.Und)

	require.NoError(t, c.WriteFile(path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "catalog.json", entries[0].Name())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
	assert.Contains(t, string(data), `"One"`)
}
