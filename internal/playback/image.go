// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotImage is returned when a still source answers with something that
// is not a picture.
var ErrNotImage = errors.New("response is not an image")

// ImageBackend loads still pictures. A cache-busting parameter is added so
// refreshed stills are never served from a cache.
type ImageBackend struct {
	client *http.Client
	now    func() time.Time
}

// NewImageBackend creates an image backend. now defaults to time.Now.
func NewImageBackend(client *http.Client, now func() time.Time) *ImageBackend {
	if now == nil {
		now = time.Now
	}
	return &ImageBackend{client: client, now: now}
}

// CacheBust appends __t=<last 7 digits of the unix millisecond time>.
func CacheBust(src string, now time.Time) (string, error) {
	u, err := url.Parse(src)
	if err != nil {
		return "", fmt.Errorf("parse image url: %w", err)
	}
	ms := strconv.FormatInt(now.UnixMilli(), 10)
	if len(ms) > 7 {
		ms = ms[len(ms)-7:]
	}
	q := u.Query()
	q.Set("__t", ms)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (b *ImageBackend) Attempt(ctx context.Context, req Request) (Handle, error) {
	target, err := CacheBust(req.Entry.Src, b.now())
	if err != nil {
		return nil, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	hreq.Header.Set("Accept", "image/*")
	hreq.Header.Set("Cache-Control", "no-store")

	resp, err := b.client.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch image: HTTP %d", resp.StatusCode)
	}

	br := bufio.NewReaderSize(resp.Body, 512)
	head, _ := br.Peek(512)
	if len(head) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrNotImage)
	}
	ctype, _, _ := strings.Cut(resp.Header.Get("Content-Type"), ";")
	ctype = strings.TrimSpace(ctype)
	if !strings.HasPrefix(ctype, "image/") {
		ctype, _, _ = strings.Cut(http.DetectContentType(head), ";")
	}
	if !strings.HasPrefix(ctype, "image/") {
		return nil, fmt.Errorf("%w: %s", ErrNotImage, ctype)
	}

	// formats with a registered decoder must at least have a readable header
	switch ctype {
	case "image/jpeg", "image/png", "image/gif":
		if _, _, err := image.DecodeConfig(br); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
		}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(br, 16<<20))
	return nopHandle{}, nil
}
