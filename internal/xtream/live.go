package xtream

import (
	"context"
	"strings"
)

// Category is one live category as listed by the panel.
type Category struct {
	ID   string // "" when the panel sent no usable id
	Name string
}

// Stream is one live stream as listed by the panel.
type Stream struct {
	ID           string
	Name         string
	Icon         string
	CategoryID   string
	EPGChannelID string
}

// LiveCategories calls action=get_live_categories.
func (c *Client) LiveCategories(ctx context.Context) ([]Category, error) {
	const action = "get_live_categories"
	body, err := c.get(ctx, action, nil)
	if err != nil {
		return nil, err
	}
	entries, err := decodeEntries(action, body)
	if err != nil {
		return nil, err
	}
	out := make([]Category, 0, len(entries))
	for _, e := range entries {
		var r struct {
			CategoryID   any    `json:"category_id"`
			CategoryName string `json:"category_name"`
		}
		if unmarshalNumbers(e, &r) != nil {
			continue
		}
		out = append(out, Category{ID: idString(r.CategoryID), Name: strings.TrimSpace(r.CategoryName)})
	}
	return out, nil
}

// LiveStreams calls action=get_live_streams. Entries are returned as listed;
// ids and names may be empty and are the caller's to filter. Entries whose
// fields have the wrong JSON type are skipped.
func (c *Client) LiveStreams(ctx context.Context) ([]Stream, error) {
	const action = "get_live_streams"
	body, err := c.get(ctx, action, nil)
	if err != nil {
		return nil, err
	}
	entries, err := decodeEntries(action, body)
	if err != nil {
		return nil, err
	}
	out := make([]Stream, 0, len(entries))
	for _, e := range entries {
		var r struct {
			StreamID     any    `json:"stream_id"`
			Name         string `json:"name"`
			StreamIcon   string `json:"stream_icon"`
			CategoryID   any    `json:"category_id"`
			EpgChannelID any    `json:"epg_channel_id"`
		}
		// A malformed entry costs only itself.
		if unmarshalNumbers(e, &r) != nil {
			continue
		}
		out = append(out, Stream{
			ID:           idString(r.StreamID),
			Name:         strings.TrimSpace(r.Name),
			Icon:         strings.TrimSpace(r.StreamIcon),
			CategoryID:   idString(r.CategoryID),
			EPGChannelID: idString(r.EpgChannelID),
		})
	}
	return out, nil
}
