package xtream

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Programme is one EPG listing with title and description decoded.
type Programme struct {
	ID          string    `json:"id"`
	EPGID       string    `json:"epg_id"`
	ChannelID   string    `json:"channel_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Lang        string    `json:"lang,omitempty"`
	Start       time.Time `json:"start"`
	Stop        time.Time `json:"stop"`
	NowPlaying  bool      `json:"now_playing"`
}

type rawListing struct {
	ID             any    `json:"id"`
	EPGID          any    `json:"epg_id"`
	ChannelID      string `json:"channel_id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Lang           string `json:"lang"`
	StartTimestamp any    `json:"start_timestamp"`
	StopTimestamp  any    `json:"stop_timestamp"`
	NowPlaying     any    `json:"now_playing"`
}

// ShortEPG calls action=get_short_epg for streamID. limit <= 0 lets the panel choose.
func (c *Client) ShortEPG(ctx context.Context, streamID string, limit int) ([]Programme, error) {
	q := url.Values{"stream_id": {streamID}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.epg(ctx, "get_short_epg", q)
}

// FullEPG calls action=get_simple_data_table for streamID.
func (c *Client) FullEPG(ctx context.Context, streamID string) ([]Programme, error) {
	return c.epg(ctx, "get_simple_data_table", url.Values{"stream_id": {streamID}})
}

func (c *Client) epg(ctx context.Context, action string, q url.Values) ([]Programme, error) {
	body, err := c.get(ctx, action, q)
	if err != nil {
		return nil, err
	}
	var wrap struct {
		Listings []rawListing `json:"epg_listings"`
	}
	if err := unmarshalNumbers(body, &wrap); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProtocol, action, err)
	}
	out := make([]Programme, 0, len(wrap.Listings))
	for _, l := range wrap.Listings {
		out = append(out, Programme{
			ID:          idString(l.ID),
			EPGID:       idString(l.EPGID),
			ChannelID:   l.ChannelID,
			Title:       decode64(l.Title),
			Description: decode64(l.Description),
			Lang:        l.Lang,
			Start:       unixTime(l.StartTimestamp),
			Stop:        unixTime(l.StopTimestamp),
			NowPlaying:  idString(l.NowPlaying) == "1",
		})
	}
	return out, nil
}

// decode64 returns s decoded, or s unchanged when it is not base64.
func decode64(s string) string {
	if s == "" {
		return ""
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return s
	}
	return strings.TrimSpace(string(b))
}

func unixTime(v any) time.Time {
	sec, err := strconv.ParseInt(idString(v), 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
