// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuGH/camroom/internal/protocol"
	"github.com/spf13/cobra"
)

// stateWait bounds how long status waits for a first state when the store
// had none.
const stateWait = 3 * time.Second

func (a *App) statusCmd() *cobra.Command {
	var (
		watch      bool
		heartbeats bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the player state of the room",
		Long: `Show the latest player state. The last known state is read from the
durable store first, so status works even between heartbeats. With --watch
every state change is printed until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			s, err := a.Connect(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			states := make(chan protocol.Envelope, 16)
			s.Subscribe(func(env protocol.Envelope) {
				select {
				case states <- env:
				default:
				}
			})

			if watch {
				return a.watchStates(ctx, s, states, heartbeats)
			}

			env, ok := s.State()
			if !ok {
				wctx, cancel := context.WithTimeout(ctx, stateWait)
				defer cancel()
				select {
				case env = <-states:
				case <-wctx.Done():
					return fmt.Errorf("no player state in room %q", a.cfg.Room)
				}
			}
			a.printState(env, s.Connected())
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep printing state changes")
	cmd.Flags().BoolVar(&heartbeats, "heartbeats", false, "with --watch, also print heartbeat states")
	return cmd
}

func (a *App) watchStates(ctx context.Context, s Session, states <-chan protocol.Envelope, heartbeats bool) error {
	if env, ok := s.State(); ok {
		a.printState(env, s.Connected())
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-states:
			if !heartbeats && env.State != nil && env.State.Reason == "heartbeat" {
				continue
			}
			if !a.jsonOut {
				fmt.Fprintln(a.Out)
			}
			a.printState(env, s.Connected())
		}
	}
}
