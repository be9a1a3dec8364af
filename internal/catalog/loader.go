// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ManuGH/camroom/internal/log"
	platformnet "github.com/ManuGH/camroom/internal/platform/net"
	"github.com/rs/zerolog"
)

// maxDocumentSize bounds catalog downloads.
const maxDocumentSize = 8 << 20

// Loader fetches the catalog document from a file path or an http(s) URL.
// A failed load keeps the previous snapshot.
type Loader struct {
	source  string
	client  *http.Client
	current atomic.Pointer[Catalog]
	logger  zerolog.Logger
}

// NewLoader creates a loader. The initial snapshot is empty.
func NewLoader(source string, timeout time.Duration) *Loader {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	l := &Loader{
		source: source,
		client: &http.Client{Timeout: timeout},
		logger: log.WithComponent("catalog"),
	}
	l.current.Store(Empty())
	return l
}

// WithClient replaces the HTTP client used for remote documents.
func (l *Loader) WithClient(c *http.Client) *Loader {
	if c != nil {
		l.client = c
	}
	return l
}

// Source returns the configured document location.
func (l *Loader) Source() string { return l.source }

// Current returns the latest successfully loaded snapshot.
func (l *Loader) Current() *Catalog { return l.current.Load() }

// Load fetches and parses the document. On failure the previous snapshot is
// returned together with the error, so callers can keep going.
func (l *Loader) Load(ctx context.Context) (*Catalog, error) {
	raw, err := l.fetch(ctx)
	if err == nil {
		var c *Catalog
		if c, err = Parse(raw); err == nil {
			l.current.Store(c)
			l.logger.Info().
				Str(log.FieldEvent, "catalog.loaded").
				Str(log.FieldSrc, platformnet.SanitizeURL(l.source)).
				Int("entries", c.Len()).
				Msg("catalog loaded")
			return c, nil
		}
	}

	prev := l.current.Load()
	l.logger.Warn().Err(err).
		Str(log.FieldEvent, "catalog.load_failed").
		Str(log.FieldSrc, platformnet.SanitizeURL(l.source)).
		Int("kept_entries", prev.Len()).
		Msg("catalog load failed, keeping previous snapshot")
	return prev, err
}

func (l *Loader) fetch(ctx context.Context) ([]byte, error) {
	if strings.HasPrefix(l.source, "http://") || strings.HasPrefix(l.source, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.source, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Cache-Control", "no-store")
		req.Header.Set("Accept", "application/json")

		resp, err := l.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch catalog: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("fetch catalog: HTTP %d", resp.StatusCode)
		}
		return io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	}

	// #nosec G304 -- the catalog path is operator configuration
	raw, err := os.ReadFile(l.source)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return raw, nil
}
