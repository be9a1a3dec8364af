// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `{
  "meta": {"name": "test"},
  "cams": [
    {"id": "b", "title": "beach", "kind": "hls", "src": "https://x/b.m3u8", "tags": ["sea"], "priority": 1},
    {"id": "a", "title": "Alps", "kind": "youtube", "src": "abc123", "tags": ["snow", "mountain"], "priority": "1"},
    {"id": "z", "kind": "image", "src": "https://x/z.jpg", "priority": 5, "fallback": ["https://y/z.jpg", ""]},
    {"id": "off", "kind": "image", "src": "https://x/off.jpg", "disabled": true},
    {"id": "", "kind": "image", "src": "https://x/none.jpg"},
    {"id": "nosrc", "kind": "image"},
    {"id": 42, "title": "numeric id", "kind": "image", "src": "https://x/42.jpg", "weight": 3}
  ]
}`

func TestParse_CleansAndOrders(t *testing.T) {
	c, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	ids := make([]string, 0, c.Len())
	for _, e := range c.List() {
		ids = append(ids, e.ID)
	}
	// priority desc, then title case-insensitively
	assert.Equal(t, []string{"z", "a", "b", "42"}, ids)

	z, ok := c.ByID("z")
	require.True(t, ok)
	assert.Equal(t, "z", z.Title, "title defaults to id")
	assert.Equal(t, []string{"https://y/z.jpg"}, z.Fallback)
	assert.Equal(t, 1.0, z.Weight)

	n, ok := c.ByID("42")
	require.True(t, ok)
	assert.Equal(t, 3.0, n.Weight)

	_, ok = c.ByID("off")
	assert.False(t, ok)
	assert.Equal(t, "test", c.Meta()["name"])
}

func TestParse_BareList(t *testing.T) {
	c, err := Parse([]byte(`[{"id":"x","kind":"image","src":"u"}]`))
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte(`"nope"`))
	assert.ErrorIs(t, err, ErrMalformedCatalog)
	_, err = Parse([]byte(`{"cams": 12}`))
	assert.ErrorIs(t, err, ErrMalformedCatalog)
}

func TestFilter(t *testing.T) {
	c, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	assert.Len(t, c.Filter(KindAny, ""), 4)
	assert.Len(t, c.Filter("", ""), 4)
	assert.Len(t, c.Filter(KindImage, ""), 2)
	assert.Len(t, c.Filter(KindAny, "snow"), 1)
	assert.Empty(t, c.Filter(KindHLS, "snow"))
}

func TestLoader_FailsSoft(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cams.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleDoc), 0o600))

	l := NewLoader(path, 0)
	assert.Equal(t, 0, l.Current().Len())

	c, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, c.Len())

	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))
	c, err = l.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, 4, c.Len(), "previous snapshot is kept")
	assert.Same(t, c, l.Current())
}

func TestLoader_HTTP(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "no-store", r.Header.Get("Cache-Control"))
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(sampleDoc))
	}))
	defer srv.Close()

	l := NewLoader(srv.URL+"/cams.json", 0)
	c, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, c.Len())

	status.Store(http.StatusInternalServerError)
	c, err = l.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, 4, c.Len())
}
