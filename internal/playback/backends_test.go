// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/camroom/internal/catalog"
	"github.com/ManuGH/camroom/internal/hls"
	"github.com/ManuGH/camroom/internal/platform/httpx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestCacheBust(t *testing.T) {
	now := time.UnixMilli(1_700_000_123_456)
	got, err := CacheBust("https://img.test/a.jpg?size=l", now)
	require.NoError(t, err)
	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "0123456", u.Query().Get("__t"))
	assert.Equal(t, "l", u.Query().Get("size"))
}

func TestImageBackend(t *testing.T) {
	pic := pngBytes(t)
	var lastQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastQuery.Store(r.URL.RawQuery)
		switch r.URL.Path {
		case "/ok.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(pic)
		case "/sniffed":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(pic)
		case "/page":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html>nope</html>"))
		case "/corrupt.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("definitely not a png"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	b := NewImageBackend(httpx.NewClient(time.Second, ""), nil)
	attempt := func(path string) error {
		_, err := b.Attempt(context.Background(), Request{Entry: catalog.Entry{Kind: catalog.KindImage, Src: srv.URL + path}})
		return err
	}

	require.NoError(t, attempt("/ok.png"))
	assert.Contains(t, lastQuery.Load(), "__t=")
	require.NoError(t, attempt("/sniffed"))
	assert.ErrorIs(t, attempt("/page"), ErrNotImage)
	assert.ErrorIs(t, attempt("/corrupt.png"), ErrNotImage)
	assert.Error(t, attempt("/missing.png"))
}

func TestVideoID(t *testing.T) {
	for _, src := range []string{
		"dQw4w9WgXcQ",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ",
		"https://www.youtube-nocookie.com/embed/dQw4w9WgXcQ?autoplay=1",
		"https://www.youtube.com/live/dQw4w9WgXcQ",
	} {
		id, err := VideoID(src)
		require.NoError(t, err, src)
		assert.Equal(t, "dQw4w9WgXcQ", id, src)
	}
	_, err := VideoID("https://example.com/")
	assert.ErrorIs(t, err, ErrBadVideoID)
	_, err = VideoID("has spaces")
	assert.ErrorIs(t, err, ErrBadVideoID)
}

func TestEmbedURL(t *testing.T) {
	got := EmbedURL("https://www.youtube-nocookie.com/embed/", "abc123xyz", true)
	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "/embed/abc123xyz", u.Path)
	q := u.Query()
	assert.Equal(t, "1", q.Get("autoplay"))
	assert.Equal(t, "1", q.Get("mute"))
	assert.Equal(t, "0", q.Get("controls"))
	assert.Equal(t, "1", q.Get("playsinline"))

	u, err = url.Parse(EmbedURL("https://www.youtube-nocookie.com/embed", "abc123xyz", false))
	require.NoError(t, err)
	assert.Equal(t, "0", u.Query().Get("mute"))
}

func TestVideoBackend(t *testing.T) {
	var oembedStatus atomic.Int32
	var embedHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/oembed":
			assert.Equal(t, "json", r.URL.Query().Get("format"))
			assert.True(t, strings.HasSuffix(r.URL.Query().Get("url"), "v=abc123xyz"))
			status := int(oembedStatus.Load())
			w.WriteHeader(status)
			if status == http.StatusOK {
				_, _ = w.Write([]byte(`{"title":"Harbour cam"}`))
			}
		case strings.HasPrefix(r.URL.Path, "/embed/"):
			embedHits.Add(1)
			_, _ = w.Write([]byte("<html></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	b := NewVideoBackend(httpx.NewClient(time.Second, ""), VideoOptions{
		OEmbedURL: srv.URL + "/oembed",
		EmbedURL:  srv.URL + "/embed/",
		Grace:     20 * time.Millisecond,
	})
	req := Request{Entry: catalog.Entry{Kind: catalog.KindYouTube, Src: "abc123xyz"}, Muted: true}

	oembedStatus.Store(http.StatusOK)
	h, err := b.Attempt(context.Background(), req)
	require.NoError(t, err)
	vh := h.(*VideoHandle)
	assert.True(t, vh.Confirmed)
	assert.Equal(t, "Harbour cam", vh.Title)
	assert.Contains(t, vh.EmbedURL, "mute=1")
	assert.Zero(t, embedHits.Load())

	oembedStatus.Store(http.StatusNotFound)
	_, err = b.Attempt(context.Background(), req)
	assert.ErrorIs(t, err, ErrVideoUnavailable)

	oembedStatus.Store(http.StatusBadGateway)
	h, err = b.Attempt(context.Background(), req)
	require.NoError(t, err, "embed grace stands in for an unreachable API")
	assert.False(t, h.(*VideoHandle).Confirmed)
	assert.Equal(t, int32(1), embedHits.Load())

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(ErrHealthTimeout)
	_, err = b.Attempt(ctx, req)
	assert.Error(t, err)
}

const masterPlaylist = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360
low/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2400000,RESOLUTION=1280x720
high/index.m3u8
`

func mediaPlaylist(seq int, ended bool) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-TARGETDURATION:1\n")
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:" + strconv.Itoa(seq) + "\n")
	for i := seq; i < seq+3; i++ {
		b.WriteString("#EXTINF:1.0,\nseg" + strconv.Itoa(i) + ".ts\n")
	}
	if ended {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}

func TestStreamBackend_Native(t *testing.T) {
	var segRange atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/live/master.m3u8":
			_, _ = w.Write([]byte(masterPlaylist))
		case "/live/high/index.m3u8":
			_, _ = w.Write([]byte(mediaPlaylist(0, false)))
		case "/live/high/seg2.ts":
			segRange.Store(r.Header.Get("Range"))
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write(bytes.Repeat([]byte{0x47}, 188))
		case "/empty.m3u8":
			_, _ = w.Write([]byte("#EXTM3U\n#EXT-X-TARGETDURATION:2\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	b := NewStreamBackend(httpx.NewClient(time.Second, ""), StreamOptions{Native: true})
	h, err := b.Attempt(context.Background(), Request{Entry: catalog.Entry{Kind: catalog.KindHLS, Src: srv.URL + "/live/master.m3u8"}})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/live/high/index.m3u8", h.(*StreamHandle).MediaURL)
	assert.Equal(t, "bytes=0-1023", segRange.Load())
	_, monitored := h.(Monitored)
	assert.False(t, monitored)

	_, err = b.Attempt(context.Background(), Request{Entry: catalog.Entry{Kind: catalog.KindHLS, Src: srv.URL + "/empty.m3u8"}})
	assert.ErrorIs(t, err, hls.ErrNoSegments)

	_, err = b.Attempt(context.Background(), Request{Entry: catalog.Entry{Kind: catalog.KindHLS, Src: srv.URL + "/nope.m3u8"}})
	assert.Error(t, err)
}

func TestStreamBackend_SessionReportsEnd(t *testing.T) {
	var refreshes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/s.m3u8":
			n := refreshes.Add(1)
			_, _ = w.Write([]byte(mediaPlaylist(int(n), n >= 3)))
		case strings.HasSuffix(r.URL.Path, ".ts"):
			_, _ = w.Write([]byte{0x47})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	b := NewStreamBackend(httpx.NewClient(time.Second, ""), StreamOptions{MinRefresh: 5 * time.Millisecond, MaxRefresh: 5 * time.Millisecond})
	h, err := b.Attempt(context.Background(), Request{Entry: catalog.Entry{Kind: catalog.KindHLS, Src: srv.URL + "/s.m3u8"}})
	require.NoError(t, err)
	sess, ok := h.(*Session)
	require.True(t, ok)
	defer func() { _ = sess.Close() }()

	select {
	case err := <-sess.Err():
		assert.ErrorIs(t, err, ErrStreamEnded)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not report the end of the stream")
	}
}

func TestStreamBackend_SessionReportsStall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".ts") {
			_, _ = w.Write([]byte{0x47})
			return
		}
		_, _ = w.Write([]byte(mediaPlaylist(1, false)))
	}))
	defer srv.Close()

	b := NewStreamBackend(httpx.NewClient(time.Second, ""), StreamOptions{
		MinRefresh: time.Millisecond, MaxRefresh: time.Millisecond, MaxStalls: 2,
	})
	h, err := b.Attempt(context.Background(), Request{Entry: catalog.Entry{Kind: catalog.KindHLS, Src: srv.URL + "/s.m3u8"}})
	require.NoError(t, err)
	sess := h.(*Session)
	defer func() { _ = sess.Close() }()

	select {
	case err := <-sess.Err():
		assert.ErrorIs(t, err, ErrStreamStalled)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not report the stall")
	}
}

func TestSessionCloseStopsRefreshing(t *testing.T) {
	var refreshes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".ts") {
			_, _ = w.Write([]byte{0x47})
			return
		}
		n := refreshes.Add(1)
		_, _ = w.Write([]byte(mediaPlaylist(int(n), false)))
	}))
	defer srv.Close()

	b := NewStreamBackend(httpx.NewClient(time.Second, ""), StreamOptions{MinRefresh: time.Millisecond, MaxRefresh: time.Millisecond})
	h, err := b.Attempt(context.Background(), Request{Entry: catalog.Entry{Kind: catalog.KindHLS, Src: srv.URL + "/s.m3u8"}})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return refreshes.Load() > 3 }, 2*time.Second, time.Millisecond)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	after := refreshes.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, refreshes.Load())
}
