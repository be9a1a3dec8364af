// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ManuGH/camroom/internal/catalog"
	"github.com/ManuGH/camroom/internal/log"
	"github.com/ManuGH/camroom/internal/protocol"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

const defaultDebounce = 500 * time.Millisecond

func (a *App) watchCatalogCmd() *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch-catalog <file>",
		Short: "Send RELOAD_CAMS whenever the catalog file changes",
		Long: `Watch a local catalog document and tell the players of the room to reload
it after every edit. Edits that do not parse are reported and skipped so a
half-saved file never reaches the players.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			s, err := a.Connect(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			fmt.Fprintf(a.Out, "watching %s\n", args[0])
			return WatchCatalog(ctx, args[0], debounce, func() {
				a.reload(ctx, s)
			})
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", defaultDebounce, "quiet period after the last write")
	return cmd
}

func (a *App) reload(ctx context.Context, s Session) {
	actx, cancel := context.WithTimeout(ctx, a.cfg.Control.AckTimeout)
	defer cancel()
	ack, err := s.Do(actx, protocol.CmdReloadCams, nil)
	if err != nil {
		fmt.Fprintf(a.Err, "%s: %v\n", protocol.CmdReloadCams, err)
		return
	}
	a.printAck(protocol.CmdReloadCams, ack)
}

// WatchCatalog calls onChange once per burst of writes to path, after the
// file has been quiet for debounce and parses as a catalog. It returns when
// ctx is done.
func WatchCatalog(ctx context.Context, path string, debounce time.Duration, onChange func()) error {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	logger := log.WithComponent("catalog-watch")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// editors replace files by rename, so watch the directory
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch directory %s: %w", dir, err)
	}
	target := filepath.Base(path)

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher channel closed")
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename) {
				timer.Reset(debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher error channel closed")
			}
			logger.Warn().Err(err).Str(log.FieldEvent, "catalog.watch_error").Msg("fsnotify watcher error")
		case <-timer.C:
			// #nosec G304 -- path is given by the operator
			raw, err := os.ReadFile(path)
			if err != nil {
				logger.Warn().Err(err).Str(log.FieldEvent, "catalog.unreadable").Msg("catalog changed but cannot be read")
				continue
			}
			c, err := catalog.Parse(raw)
			if err != nil {
				logger.Warn().Err(err).Str(log.FieldEvent, "catalog.invalid").Msg("catalog changed but does not parse, not reloading")
				continue
			}
			logger.Info().Str(log.FieldEvent, "catalog.changed").Int("entries", c.Len()).Msg("catalog changed")
			onChange()
		}
	}
}
