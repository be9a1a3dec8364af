// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package player

import (
	"errors"
	"net/url"
	"path"
	"strings"

	"github.com/ManuGH/camroom/internal/catalog"
	"github.com/ManuGH/camroom/internal/log"
	platformnet "github.com/ManuGH/camroom/internal/platform/net"
	"github.com/ManuGH/camroom/internal/playback"
	"github.com/ManuGH/camroom/internal/protocol"
)

var (
	errMissingSource = errors.New("missing url")
	errSourceRefused = errors.New("url not allowed")
)

var videoHosts = []string{"youtube.com", "youtu.be", "youtube-nocookie.com"}

// entryFromURL builds an ad-hoc entry for PLAY_URL. The kind is inferred
// from the URL unless given.
func (p *Player) entryFromURL(d protocol.PlayURL) (catalog.Entry, error) {
	src := strings.TrimSpace(d.Src)
	if src == "" {
		src = strings.TrimSpace(d.URL)
	}
	if src == "" {
		return catalog.Entry{}, errMissingSource
	}

	kind := catalog.Kind(strings.ToLower(strings.TrimSpace(d.Kind)))
	if kind == "" || kind == catalog.KindAny {
		kind = inferKind(src)
	}

	switch kind {
	case catalog.KindYouTube:
		id, err := playback.VideoID(src)
		if err != nil {
			return catalog.Entry{}, err
		}
		src = id
	case catalog.KindHLS, catalog.KindImage:
		clean, err := p.opts.URLPolicy.Check(src)
		if err != nil {
			p.logger.Debug().Err(err).Str(log.FieldSrc, platformnet.SanitizeURL(src)).Msg("refusing PLAY_URL source")
			return catalog.Entry{}, errSourceRefused
		}
		src = clean
	default:
		return catalog.Entry{}, errors.New(noteBadKind)
	}

	title := strings.TrimSpace(d.Title)
	if title == "" {
		title = src
	}
	return catalog.Entry{
		ID:     "url:" + src,
		Title:  title,
		Kind:   kind,
		Src:    src,
		Weight: 1,
	}, nil
}

func inferKind(src string) catalog.Kind {
	u, err := url.Parse(src)
	if err != nil || u.Host == "" {
		// bare video ids carry no scheme
		if _, err := playback.VideoID(src); err == nil {
			return catalog.KindYouTube
		}
		return catalog.KindImage
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range videoHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return catalog.KindYouTube
		}
	}
	if strings.EqualFold(path.Ext(u.Path), ".m3u8") {
		return catalog.KindHLS
	}
	return catalog.KindImage
}
