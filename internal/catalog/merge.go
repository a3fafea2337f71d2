package catalog

// KeyFunc maps a display name to a dedup key; "" means the record cannot be keyed.
type KeyFunc func(name string) string

// Merger folds raw channel records into logical channels keyed by KeyFunc.
//
// The first record for a key fixes the channel's name and category. Later
// records add a source only when no existing source has the same provider
// server, so one provider contributes at most one source per logical channel
// even if it lists the channel under several stream ids.
//
// A Merger is not safe for concurrent use; feed it after all fetches settle.
type Merger struct {
	key      KeyFunc
	index    map[string]int
	channels []LogicalChannel
	seen     int
}

// NewMerger returns an empty Merger using key.
func NewMerger(key KeyFunc) *Merger {
	return &Merger{key: key, index: make(map[string]int)}
}

// Add merges r and reports whether it added a source.
// Records with an empty id or an empty key are dropped.
func (m *Merger) Add(r RawChannel) bool {
	if r.ID == "" {
		return false
	}
	k := m.key(r.Name)
	if k == "" {
		return false
	}
	m.seen++
	src := SourceRef{ChannelID: r.ID, Provider: r.Provider, Origin: r.Origin}
	i, ok := m.index[k]
	if !ok {
		ch := LogicalChannel{
			Name:     r.Name,
			Category: r.Category,
			Sources:  []SourceRef{src},
		}
		if r.LogoURL != "" {
			logo := r.LogoURL
			ch.Logo = &logo
		}
		m.index[k] = len(m.channels)
		m.channels = append(m.channels, ch)
		return true
	}
	ch := &m.channels[i]
	if ch.Logo == nil && r.LogoURL != "" {
		logo := r.LogoURL
		ch.Logo = &logo
	}
	for _, s := range ch.Sources {
		if s.Provider.Server == r.Provider.Server {
			return false
		}
	}
	ch.Sources = append(ch.Sources, src)
	return true
}

// Keyed returns how many records had a usable id and key.
func (m *Merger) Keyed() int {
	return m.seen
}

// Len returns the number of logical channels.
func (m *Merger) Len() int {
	return len(m.channels)
}

// Channels returns the logical channels in first-seen order.
func (m *Merger) Channels() []LogicalChannel {
	out := make([]LogicalChannel, len(m.channels))
	copy(out, m.channels)
	return out
}

// Merge folds records in order and returns the logical channels.
func Merge(records []RawChannel, key KeyFunc) []LogicalChannel {
	m := NewMerger(key)
	for _, r := range records {
		m.Add(r)
	}
	return m.Channels()
}
