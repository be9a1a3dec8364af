// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ManuGH/camroom/internal/clock"
)

// VideoGrace is how long a bare embed must stay up before it counts as
// playing when the video API cannot confirm it.
const VideoGrace = 3500 * time.Millisecond

var (
	// ErrVideoUnavailable means the video API reported the id as private,
	// removed or not embeddable.
	ErrVideoUnavailable = errors.New("video unavailable")
	// ErrBadVideoID is returned for sources that do not contain a video id.
	ErrBadVideoID = errors.New("invalid video id")
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{6,20}$`)

// VideoID extracts the id from a bare id or a watch, short or embed URL.
func VideoID(src string) (string, error) {
	src = strings.TrimSpace(src)
	if videoIDPattern.MatchString(src) {
		return src, nil
	}
	u, err := url.Parse(src)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrBadVideoID, src)
	}
	var id string
	switch host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www."); {
	case host == "youtu.be":
		id = strings.Trim(u.Path, "/")
	case strings.HasPrefix(u.Path, "/embed/"), strings.HasPrefix(u.Path, "/live/"), strings.HasPrefix(u.Path, "/shorts/"):
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) >= 2 {
			id = parts[1]
		}
	default:
		id = u.Query().Get("v")
	}
	if !videoIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrBadVideoID, src)
	}
	return id, nil
}

// EmbedURL builds the privacy-enhanced embed URL players load.
func EmbedURL(base, id string, muted bool) string {
	mute := "0"
	if muted {
		mute = "1"
	}
	q := url.Values{}
	q.Set("autoplay", "1")
	q.Set("mute", mute)
	q.Set("controls", "0")
	q.Set("modestbranding", "1")
	q.Set("rel", "0")
	q.Set("playsinline", "1")
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(id) + "?" + q.Encode()
}

// VideoBackend plays hosted videos. The oEmbed endpoint stands in for the
// player API: it answers quickly whether an id can be embedded. When it is
// unreachable the bare embed page is loaded and given a grace period.
type VideoBackend struct {
	client    *http.Client
	oembedURL string
	embedURL  string
	clock     clock.Clock
	grace     time.Duration
}

// VideoOptions configures a VideoBackend.
type VideoOptions struct {
	OEmbedURL string
	EmbedURL  string
	Clock     clock.Clock
	Grace     time.Duration
}

// NewVideoBackend creates a video backend.
func NewVideoBackend(client *http.Client, opts VideoOptions) *VideoBackend {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Grace <= 0 {
		opts.Grace = VideoGrace
	}
	return &VideoBackend{
		client:    client,
		oembedURL: opts.OEmbedURL,
		embedURL:  opts.EmbedURL,
		clock:     opts.Clock,
		grace:     opts.Grace,
	}
}

// VideoHandle is the handle of a playing video.
type VideoHandle struct {
	EmbedURL string
	Title    string
	// Confirmed is false when only the grace period vouched for playback.
	Confirmed bool
}

func (*VideoHandle) Close() error { return nil }

type oembedReply struct {
	Title      string `json:"title"`
	AuthorName string `json:"author_name"`
}

func (b *VideoBackend) Attempt(ctx context.Context, req Request) (Handle, error) {
	id, err := VideoID(req.Entry.Src)
	if err != nil {
		return nil, err
	}
	embed := EmbedURL(b.embedURL, id, req.Muted)

	reply, err := b.lookup(ctx, id)
	switch {
	case err == nil:
		return &VideoHandle{EmbedURL: embed, Title: reply.Title, Confirmed: true}, nil
	case errors.Is(err, ErrVideoUnavailable), ctx.Err() != nil:
		return nil, err
	}

	// API unreachable: load the embed and trust it once the grace passed.
	if err := b.probeEmbed(ctx, embed); err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if err := b.sleep(ctx, b.grace); err != nil {
		return nil, err
	}
	return &VideoHandle{EmbedURL: embed}, nil
}

func (b *VideoBackend) lookup(ctx context.Context, id string) (oembedReply, error) {
	var reply oembedReply
	u, err := url.Parse(b.oembedURL)
	if err != nil {
		return reply, fmt.Errorf("parse oembed url: %w", err)
	}
	q := u.Query()
	q.Set("url", "https://www.youtube.com/watch?v="+id)
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return reply, fmt.Errorf("build request: %w", err)
	}
	resp, err := b.client.Do(hreq)
	if err != nil {
		return reply, fmt.Errorf("oembed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusBadRequest:
		return reply, fmt.Errorf("%w: HTTP %d", ErrVideoUnavailable, resp.StatusCode)
	default:
		return reply, fmt.Errorf("oembed: HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&reply); err != nil {
		return reply, fmt.Errorf("oembed: decode: %w", err)
	}
	return reply, nil
}

func (b *VideoBackend) probeEmbed(ctx context.Context, embed string) error {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, embed, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := b.client.Do(hreq)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

func (b *VideoBackend) sleep(ctx context.Context, d time.Duration) error {
	fired := make(chan struct{})
	t := b.clock.AfterFunc(d, func() { close(fired) })
	defer t.Stop()
	select {
	case <-fired:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
