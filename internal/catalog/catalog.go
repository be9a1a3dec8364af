// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package catalog holds the read-only list of cameras players can show.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Kind selects the playback backend of an entry.
type Kind string

const (
	KindYouTube Kind = "youtube"
	KindHLS     Kind = "hls"
	KindImage   Kind = "image"

	// KindAny is the wildcard used by filters.
	KindAny Kind = "any"
)

// ErrMalformedCatalog is returned for documents that are neither a list nor
// an object with a "cams" list.
var ErrMalformedCatalog = errors.New("malformed catalog document")

// Entry is one camera.
type Entry struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Kind     Kind     `json:"kind"`
	Src      string   `json:"src"`
	Tags     []string `json:"tags"`
	Region   string   `json:"region"`
	City     string   `json:"city"`
	Priority float64  `json:"priority"`
	Weight   float64  `json:"weight"`
	Lat      float64  `json:"lat"`
	Lon      float64  `json:"lon"`
	TZ       string   `json:"tz"`
	Thumb    string   `json:"thumb"`
	Fallback []string `json:"fallback"`
}

// HasTag reports whether the entry carries tag exactly.
func (e Entry) HasTag(tag string) bool {
	return slices.Contains(e.Tags, tag)
}

// Matches applies a kind filter ("" or "any" match everything) and a tag
// filter ("" matches everything).
func (e Entry) Matches(kind Kind, tag string) bool {
	if kind != "" && kind != KindAny && e.Kind != kind {
		return false
	}
	if tag != "" && !e.HasTag(tag) {
		return false
	}
	return true
}

// Catalog is an immutable snapshot ordered by priority (desc) then title.
type Catalog struct {
	list []Entry
	byID map[string]Entry
	meta map[string]any
}

// New builds a snapshot from entries, dropping those without id, kind or
// src. Later duplicates of an id replace earlier ones in the index only.
func New(entries []Entry, meta map[string]any) *Catalog {
	clean := make([]Entry, 0, len(entries))
	for _, e := range entries {
		e.ID = strings.TrimSpace(e.ID)
		e.Kind = Kind(strings.TrimSpace(string(e.Kind)))
		e.Src = strings.TrimSpace(e.Src)
		if e.ID == "" || e.Kind == "" || e.Src == "" {
			continue
		}
		if e.Title == "" {
			e.Title = e.ID
		}
		clean = append(clean, e)
	}

	col := collate.New(language.Und, collate.IgnoreCase)
	sort.SliceStable(clean, func(i, j int) bool {
		if clean[i].Priority != clean[j].Priority {
			return clean[i].Priority > clean[j].Priority
		}
		return col.CompareString(clean[i].Title, clean[j].Title) < 0
	})

	byID := make(map[string]Entry, len(clean))
	for _, e := range clean {
		byID[e.ID] = e
	}
	if meta == nil {
		meta = map[string]any{}
	}
	return &Catalog{list: clean, byID: byID, meta: meta}
}

// Empty returns a catalog without entries.
func Empty() *Catalog { return New(nil, nil) }

// ByID looks up an entry.
func (c *Catalog) ByID(id string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	e, ok := c.byID[strings.TrimSpace(id)]
	return e, ok
}

// List returns all entries in catalog order.
func (c *Catalog) List() []Entry {
	if c == nil {
		return nil
	}
	return slices.Clone(c.list)
}

// Filter returns the entries matching kind and tag in catalog order.
func (c *Catalog) Filter(kind Kind, tag string) []Entry {
	if c == nil {
		return nil
	}
	out := make([]Entry, 0, len(c.list))
	for _, e := range c.list {
		if e.Matches(kind, tag) {
			out = append(out, e)
		}
	}
	return out
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.list)
}

// Meta returns the document's free-form metadata.
func (c *Catalog) Meta() map[string]any {
	if c == nil {
		return nil
	}
	return c.meta
}

// rawEntry tolerates the loosely typed documents produced by hand editing.
type rawEntry struct {
	ID       flexString   `json:"id"`
	Title    flexString   `json:"title"`
	Kind     flexString   `json:"kind"`
	Src      flexString   `json:"src"`
	Tags     []flexString `json:"tags"`
	Region   flexString   `json:"region"`
	City     flexString   `json:"city"`
	Priority flexFloat    `json:"priority"`
	Weight   *flexFloat   `json:"weight"`
	Lat      flexFloat    `json:"lat"`
	Lon      flexFloat    `json:"lon"`
	TZ       flexString   `json:"tz"`
	Thumb    flexString   `json:"thumb"`
	Fallback []flexString `json:"fallback"`
	Disabled bool         `json:"disabled"`
}

type document struct {
	Cams []json.RawMessage `json:"cams"`
	Meta map[string]any    `json:"meta"`
}

// Parse decodes a catalog document: either {"cams": [...], "meta": {...}}
// or a bare list. Entries that fail to decode or are disabled are skipped.
func Parse(raw []byte) (*Catalog, error) {
	trimmed := strings.TrimSpace(string(raw))
	var doc document
	switch {
	case strings.HasPrefix(trimmed, "["):
		if err := json.Unmarshal(raw, &doc.Cams); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCatalog, err)
		}
	case strings.HasPrefix(trimmed, "{"):
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCatalog, err)
		}
	default:
		return nil, ErrMalformedCatalog
	}

	entries := make([]Entry, 0, len(doc.Cams))
	for _, item := range doc.Cams {
		var r rawEntry
		if err := json.Unmarshal(item, &r); err != nil || r.Disabled {
			continue
		}
		e := Entry{
			ID:       string(r.ID),
			Title:    string(r.Title),
			Kind:     Kind(r.Kind),
			Src:      string(r.Src),
			Region:   string(r.Region),
			City:     string(r.City),
			Priority: float64(r.Priority),
			Weight:   1,
			Lat:      float64(r.Lat),
			Lon:      float64(r.Lon),
			TZ:       string(r.TZ),
			Thumb:    string(r.Thumb),
		}
		if r.Weight != nil {
			e.Weight = float64(*r.Weight)
		}
		for _, t := range r.Tags {
			e.Tags = append(e.Tags, string(t))
		}
		for _, f := range r.Fallback {
			if f != "" {
				e.Fallback = append(e.Fallback, string(f))
			}
		}
		entries = append(entries, e)
	}
	return New(entries, doc.Meta), nil
}

// flexString accepts strings, numbers and booleans.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		*s = ""
	case string:
		*s = flexString(x)
	case float64:
		*s = flexString(strconv.FormatFloat(x, 'f', -1, 64))
	case bool:
		*s = flexString(strconv.FormatBool(x))
	default:
		return fmt.Errorf("unexpected %T", v)
	}
	return nil
}

// flexFloat accepts numbers and numeric strings; anything else is zero.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		*f = flexFloat(x)
	case string:
		if p, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			*f = flexFloat(p)
		}
	}
	return nil
}
