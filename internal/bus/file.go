// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ManuGH/camroom/internal/log"
	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

// FileStore keeps one file per key in a directory shared by every surface on
// the host. Writes are atomic renames, so readers never see partial
// envelopes.
type FileStore struct {
	dir    string
	logger zerolog.Logger
}

// NewFileStore creates dir when missing.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{dir: dir, logger: log.WithComponent("bus.file")}, nil
}

func (s *FileStore) Name() string { return "file_store" }

func fileName(key string) string {
	return strings.ReplaceAll(key, ":", "@") + ".json"
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, fileName(key))
}

func (s *FileStore) Put(_ context.Context, key string, value []byte) error {
	if err := renameio.WriteFile(s.path(key), value, 0o640); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	// #nosec G304 -- key names are derived from the room key
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Watch reports content changes of keys using fsnotify on the store
// directory. Renames land as Create events on the target name.
func (s *FileStore) Watch(ctx context.Context, keys []string) (<-chan Change, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch directory %s: %w", s.dir, err)
	}

	byName := make(map[string]string, len(keys))
	last := make(map[string][]byte, len(keys))
	for _, k := range keys {
		byName[fileName(k)] = k
		if v, err := s.Get(ctx, k); err == nil {
			last[k] = v
		}
	}

	out := make(chan Change, memoryBuffer)
	go func() {
		defer close(out)
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				key, watched := byName[filepath.Base(event.Name)]
				if !watched || !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
					continue
				}
				v, err := s.Get(ctx, key)
				if err != nil || len(v) == 0 || bytes.Equal(last[key], v) {
					continue
				}
				last[key] = v
				select {
				case out <- Change{Key: key, Value: v}:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn().Err(err).Str("event", "bus.store_watch_error").Msg("fsnotify watcher error")
			}
		}
	}()
	return out, nil
}

func (s *FileStore) Close() error { return nil }

var _ Store = (*FileStore)(nil)
