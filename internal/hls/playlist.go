// Package hls parses the subset of HLS playlists the stream backend needs
// to decide whether a live stream is actually producing media.
package hls

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotPlaylist = errors.New("not an HLS playlist")
	ErrNoSegments  = errors.New("playlist has no media segments")
	ErrNoVariants  = errors.New("master playlist has no variants")
)

// Variant is one rendition listed by a master playlist.
type Variant struct {
	URI        string
	Bandwidth  int
	Resolution string
	Codecs     string
}

// Segment is one media segment of a media playlist.
type Segment struct {
	URI      string
	Duration time.Duration
	PDT      time.Time
}

// Playlist is either a master playlist (Variants set) or a media playlist
// (Segments set).
type Playlist struct {
	IsMaster       bool
	Variants       []Variant
	Segments       []Segment
	TargetDuration time.Duration
	MediaSequence  int
	TotalDuration  time.Duration
	IsVOD          bool // #EXT-X-PLAYLIST-TYPE:VOD or #EXT-X-ENDLIST
}

// Parse reads a playlist. It enforces the guards live streams need:
// program date times never jump backwards, and EXTINF durations parse.
func Parse(text string) (*Playlist, error) {
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	p := &Playlist{}

	var (
		sawHeader     bool
		nextDuration  time.Duration
		nextPDT       time.Time
		lastPDT       time.Time
		pendingStream *Variant
	)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !sawHeader {
			if !strings.HasPrefix(line, "#EXTM3U") {
				return nil, ErrNotPlaylist
			}
			sawHeader = true
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			attrs := parseAttributes(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))
			v := Variant{Resolution: attrs["RESOLUTION"], Codecs: attrs["CODECS"]}
			if bw, err := strconv.Atoi(attrs["BANDWIDTH"]); err == nil {
				v.Bandwidth = bw
			}
			pendingStream = &v
			p.IsMaster = true
			continue
		case strings.HasPrefix(line, "#EXT-X-PLAYLIST-TYPE:VOD"), line == "#EXT-X-ENDLIST":
			p.IsVOD = true
			continue
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			if secs, err := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:")); err == nil {
				p.TargetDuration = time.Duration(secs) * time.Second
			}
			continue
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			if seq, err := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:")); err == nil {
				p.MediaSequence = seq
			}
			continue
		case strings.HasPrefix(line, "#EXT-X-PROGRAM-DATE-TIME:"):
			pdtStr := strings.TrimPrefix(line, "#EXT-X-PROGRAM-DATE-TIME:")
			t, err := time.Parse(time.RFC3339Nano, pdtStr)
			if err != nil {
				return nil, fmt.Errorf("invalid PDT format: %s", pdtStr)
			}
			if !lastPDT.IsZero() && t.Before(lastPDT) {
				return nil, fmt.Errorf("PDT non-monotonic: %v < %v", t, lastPDT)
			}
			nextPDT, lastPDT = t, t
			continue
		case strings.HasPrefix(line, "#EXTINF:"):
			// Format: #EXTINF:10.000,
			durPart := strings.TrimPrefix(line, "#EXTINF:")
			if idx := strings.Index(durPart, ","); idx != -1 {
				durPart = durPart[:idx]
			}
			secs, err := strconv.ParseFloat(durPart, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid EXTINF duration: %s", durPart)
			}
			nextDuration = time.Duration(secs * float64(time.Second))
			continue
		case strings.HasPrefix(line, "#"):
			continue
		}

		// URI line
		if pendingStream != nil {
			pendingStream.URI = line
			p.Variants = append(p.Variants, *pendingStream)
			pendingStream = nil
			continue
		}
		p.Segments = append(p.Segments, Segment{URI: line, Duration: nextDuration, PDT: nextPDT})
		p.TotalDuration += nextDuration
		nextDuration = 0
		nextPDT = time.Time{}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !sawHeader {
		return nil, ErrNotPlaylist
	}
	return p, nil
}

// BestVariant returns the highest-bandwidth variant.
func (p *Playlist) BestVariant() (Variant, error) {
	if len(p.Variants) == 0 {
		return Variant{}, ErrNoVariants
	}
	best := p.Variants[0]
	for _, v := range p.Variants[1:] {
		if v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	return best, nil
}

// LastSegment returns the newest media segment.
func (p *Playlist) LastSegment() (Segment, error) {
	if len(p.Segments) == 0 {
		return Segment{}, ErrNoSegments
	}
	return p.Segments[len(p.Segments)-1], nil
}

// ResolveURI resolves a playlist reference against the playlist URL.
func ResolveURI(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse reference: %w", err)
	}
	return b.ResolveReference(r).String(), nil
}

// parseAttributes splits an attribute list, honouring quoted values.
func parseAttributes(s string) map[string]string {
	out := make(map[string]string)
	for len(s) > 0 {
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			break
		}
		key := strings.TrimSpace(s[:eq])
		s = s[eq+1:]

		var val string
		if strings.HasPrefix(s, `"`) {
			end := strings.IndexByte(s[1:], '"')
			if end < 0 {
				val, s = s[1:], ""
			} else {
				val, s = s[1:end+1], s[end+2:]
			}
		} else if comma := strings.IndexByte(s, ','); comma >= 0 {
			val, s = s[:comma], s[comma:]
		} else {
			val, s = s, ""
		}
		out[key] = val
		s = strings.TrimPrefix(s, ",")
	}
	return out
}
