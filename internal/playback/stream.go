// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ManuGH/camroom/internal/clock"
	"github.com/ManuGH/camroom/internal/hls"
)

// maxPlaylistSize bounds playlist downloads.
const maxPlaylistSize = 2 << 20

var (
	ErrStreamEnded   = errors.New("live stream ended")
	ErrStreamStalled = errors.New("live stream stalled")
)

// StreamOptions configures a StreamBackend.
type StreamOptions struct {
	// Native skips session monitoring: the first playable segment is all
	// that is checked, like a player with built-in HLS support.
	Native     bool
	Clock      clock.Clock
	MinRefresh time.Duration
	MaxRefresh time.Duration
	// MaxMisses is the number of consecutive failed refreshes that end a
	// session.
	MaxMisses int
	// MaxStalls is the number of consecutive refreshes without a new
	// segment that end a session.
	MaxStalls int
}

// StreamBackend plays live HLS streams.
type StreamBackend struct {
	client *http.Client
	opts   StreamOptions
}

// NewStreamBackend creates a stream backend.
func NewStreamBackend(client *http.Client, opts StreamOptions) *StreamBackend {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.MinRefresh <= 0 {
		opts.MinRefresh = time.Second
	}
	if opts.MaxRefresh <= 0 {
		opts.MaxRefresh = 10 * time.Second
	}
	if opts.MaxMisses <= 0 {
		opts.MaxMisses = 3
	}
	if opts.MaxStalls <= 0 {
		opts.MaxStalls = 6
	}
	return &StreamBackend{client: client, opts: opts}
}

func (b *StreamBackend) Attempt(ctx context.Context, req Request) (Handle, error) {
	mediaURL, pl, err := b.resolve(ctx, req.Entry.Src)
	if err != nil {
		return nil, err
	}
	seg, err := pl.LastSegment()
	if err != nil {
		return nil, err
	}
	segURL, err := hls.ResolveURI(mediaURL, seg.URI)
	if err != nil {
		return nil, err
	}
	if err := b.probeSegment(ctx, segURL); err != nil {
		return nil, fmt.Errorf("segment: %w", err)
	}

	if b.opts.Native {
		return &StreamHandle{MediaURL: mediaURL}, nil
	}
	return b.startSession(mediaURL, pl), nil
}

// resolve fetches src and follows a master playlist to its best variant.
func (b *StreamBackend) resolve(ctx context.Context, src string) (string, *hls.Playlist, error) {
	pl, err := b.fetchPlaylist(ctx, src)
	if err != nil {
		return "", nil, err
	}
	if !pl.IsMaster {
		return src, pl, nil
	}
	v, err := pl.BestVariant()
	if err != nil {
		return "", nil, err
	}
	mediaURL, err := hls.ResolveURI(src, v.URI)
	if err != nil {
		return "", nil, err
	}
	media, err := b.fetchPlaylist(ctx, mediaURL)
	if err != nil {
		return "", nil, fmt.Errorf("variant: %w", err)
	}
	return mediaURL, media, nil
}

func (b *StreamBackend) fetchPlaylist(ctx context.Context, target string) (*hls.Playlist, error) {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	hreq.Header.Set("Cache-Control", "no-cache")
	resp, err := b.client.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("fetch playlist: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch playlist: HTTP %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistSize))
	if err != nil {
		return nil, fmt.Errorf("read playlist: %w", err)
	}
	return hls.Parse(string(raw))
}

func (b *StreamBackend) probeSegment(ctx context.Context, target string) error {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	hreq.Header.Set("Range", "bytes=0-1023")
	resp, err := b.client.Do(hreq)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	n, _ := io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	if n == 0 {
		return errors.New("empty segment")
	}
	return nil
}

// StreamHandle is the handle of a natively played stream.
type StreamHandle struct {
	MediaURL string
}

func (*StreamHandle) Close() error { return nil }

// Session follows a live media playlist after playback started and reports
// a fatal error once the stream stops producing segments.
type Session struct {
	MediaURL string

	b      *StreamBackend
	cancel context.CancelFunc
	done   chan struct{}
	errc   chan error
	once   sync.Once
}

func (b *StreamBackend) startSession(mediaURL string, pl *hls.Playlist) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		MediaURL: mediaURL,
		b:        b,
		cancel:   cancel,
		done:     make(chan struct{}),
		errc:     make(chan error, 1),
	}
	go s.run(ctx, pl)
	return s
}

// Err delivers at most one fatal error.
func (s *Session) Err() <-chan error { return s.errc }

// Close stops the refresh loop and waits for it to exit.
func (s *Session) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

func (s *Session) run(ctx context.Context, last *hls.Playlist) {
	defer close(s.done)
	misses, stalls := 0, 0
	for {
		if err := s.wait(ctx, s.interval(last)); err != nil {
			return
		}
		pl, err := s.b.fetchPlaylist(ctx, s.MediaURL)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			misses++
			if misses >= s.b.opts.MaxMisses {
				s.errc <- fmt.Errorf("refresh failed %d times: %w", misses, err)
				return
			}
			continue
		}
		misses = 0
		if pl.IsVOD {
			s.errc <- ErrStreamEnded
			return
		}
		if advanced(last, pl) {
			stalls = 0
		} else if stalls++; stalls >= s.b.opts.MaxStalls {
			s.errc <- ErrStreamStalled
			return
		}
		last = pl
	}
}

func (s *Session) interval(pl *hls.Playlist) time.Duration {
	d := pl.TargetDuration
	return min(max(d, s.b.opts.MinRefresh), s.b.opts.MaxRefresh)
}

func (s *Session) wait(ctx context.Context, d time.Duration) error {
	fired := make(chan struct{})
	t := s.b.opts.Clock.AfterFunc(d, func() { close(fired) })
	select {
	case <-fired:
		return nil
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}
}

// advanced reports whether next carries a segment prev did not have.
func advanced(prev, next *hls.Playlist) bool {
	if next.MediaSequence != prev.MediaSequence {
		return true
	}
	if len(next.Segments) != len(prev.Segments) {
		return len(next.Segments) > len(prev.Segments)
	}
	a, errA := prev.LastSegment()
	b, errB := next.LastSegment()
	return errA == nil && errB == nil && a.URI != b.URI
}
