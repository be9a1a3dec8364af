// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ManuGH/camroom/internal/protocol"
	"github.com/spf13/cobra"
)

// noSlot marks an unset --slot flag; the player then uses its active slot.
const noSlot = -1

func slotFlag(cmd *cobra.Command, target *int) {
	cmd.Flags().IntVarP(target, "slot", "s", noSlot, "target slot (default: the player's active slot)")
}

func slotRef(slot int) *int {
	if slot == noSlot {
		return nil
	}
	return &slot
}

// parseSwitch reads on/off/toggle. toggle is true when no value was given.
func parseSwitch(args []string) (value, toggle bool, err error) {
	if len(args) == 0 {
		return false, true, nil
	}
	switch strings.ToLower(args[0]) {
	case "on", "true", "1", "yes":
		return true, false, nil
	case "off", "false", "0", "no":
		return false, false, nil
	case "toggle":
		return false, true, nil
	}
	return false, false, fmt.Errorf("expected on, off or toggle, got %q", args[0])
}

func parseInt(name, arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", name, arg)
	}
	return n, nil
}

// commandCmds returns one subcommand per player command.
func (a *App) commandCmds() []*cobra.Command {
	cmds := []*cobra.Command{
		{
			Use:   "ping",
			Short: "Check that a player answers",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.send(cmd, protocol.CmdPing, nil)
			},
		},
		{
			Use:   "reload",
			Short: "Make players reload the catalog",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.send(cmd, protocol.CmdReloadCams, nil)
			},
		},
		{
			Use:   "layout <n>",
			Short: "Set the number of slots (1-12)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := parseInt("n", args[0])
				if err != nil {
					return err
				}
				return a.send(cmd, protocol.CmdLayoutSet, protocol.LayoutSet{N: n})
			},
		},
		{
			Use:   "slot <index>",
			Short: "Select the active slot",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := parseInt("slot", args[0])
				if err != nil {
					return err
				}
				return a.send(cmd, protocol.CmdSlotSet, protocol.SlotSet{Slot: n})
			},
		},
		{
			Use:   "stop-all",
			Short: "Stop every slot and disable rotation",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.send(cmd, protocol.CmdStopAll, nil)
			},
		},
		{
			Use:       "mode <manual|rotate>",
			Short:     "Switch the active slot between manual and rotating",
			Args:      cobra.ExactArgs(1),
			ValidArgs: []string{protocol.ModeManual, protocol.ModeRotate},
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.send(cmd, protocol.CmdModeSet, protocol.ModeSet{Mode: args[0]})
			},
		},
	}

	cmds = append(cmds,
		a.playCmd(),
		a.playURLCmd(),
		a.slotOnlyCmd("next", "Play the next catalog entry", protocol.CmdNext),
		a.slotOnlyCmd("prev", "Play the previous catalog entry", protocol.CmdPrev),
		a.slotOnlyCmd("stop", "Stop a slot", protocol.CmdStopSlot),
		a.slotOnlyCmd("rotate-now", "Advance a rotating slot immediately", protocol.CmdRotateNow),
		a.switchCmd("mute", "Mute, unmute or toggle audio", protocol.CmdMuteSet, protocol.CmdMuteToggle),
		a.switchCmd("hud", "Show, hide or toggle the overlay", protocol.CmdHUDSet, protocol.CmdHUDToggle),
		a.switchCmd("fullscreen", "Enter, leave or toggle fullscreen", protocol.CmdFullscreenSet, protocol.CmdFullscreenToggle),
		a.rotateCmd(),
	)
	return cmds
}

func (a *App) playCmd() *cobra.Command {
	var slot int
	cmd := &cobra.Command{
		Use:   "play <id>",
		Short: "Play a catalog entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.send(cmd, protocol.CmdPlayID, protocol.PlayID{ID: args[0], Slot: slotRef(slot)})
		},
	}
	slotFlag(cmd, &slot)
	return cmd
}

func (a *App) playURLCmd() *cobra.Command {
	var (
		slot  int
		kind  string
		title string
	)
	cmd := &cobra.Command{
		Use:   "play-url <url>",
		Short: "Play an ad-hoc source that is not in the catalog",
		Long: `Play an ad-hoc source. Without --kind the player infers it: YouTube
links and ids play as video, .m3u8 as HLS, anything else as an image.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := protocol.PlayURL{Title: title, Slot: slotRef(slot)}
			if kind != "" {
				p.Kind, p.Src = kind, args[0]
			} else {
				p.URL = args[0]
			}
			return a.send(cmd, protocol.CmdPlayURL, p)
		},
	}
	slotFlag(cmd, &slot)
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "youtube, hls or image")
	cmd.Flags().StringVar(&title, "title", "", "title shown in the player state")
	return cmd
}

func (a *App) slotOnlyCmd(use, short, name string) *cobra.Command {
	var slot int
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.send(cmd, name, protocol.SlotRef{Slot: slotRef(slot)})
		},
	}
	slotFlag(cmd, &slot)
	return cmd
}

func (a *App) switchCmd(use, short, setName, toggleName string) *cobra.Command {
	return &cobra.Command{
		Use:       use + " [on|off|toggle]",
		Short:     short,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"on", "off", "toggle"},
		RunE: func(cmd *cobra.Command, args []string) error {
			v, toggle, err := parseSwitch(args)
			if err != nil {
				return err
			}
			if toggle {
				return a.send(cmd, toggleName, nil)
			}
			return a.send(cmd, setName, protocol.Toggle{Enabled: &v})
		},
	}
}

func (a *App) rotateCmd() *cobra.Command {
	var (
		slot     int
		interval int
		kind     string
		tag      string
		now      bool
	)
	cmd := &cobra.Command{
		Use:   "rotate <on|off>",
		Short: "Enable or disable rotation",
		Long: `Enable or disable rotation. Without --slot the configuration applies to
every slot of the current layout.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			on, toggle, err := parseSwitch(args)
			if err != nil {
				return err
			}
			if toggle {
				return fmt.Errorf("rotate needs on or off")
			}
			return a.send(cmd, protocol.CmdRotateSet, protocol.RotateSet{
				Enabled:     on,
				IntervalSec: interval,
				Kind:        kind,
				Tag:         tag,
				RotateNow:   now,
				Slot:        slotRef(slot),
			})
		},
	}
	slotFlag(cmd, &slot)
	cmd.Flags().IntVarP(&interval, "interval", "i", 0, "seconds between advances, 5-3600 (default 40)")
	cmd.Flags().StringVarP(&kind, "kind", "k", "any", "only rotate through this kind")
	cmd.Flags().StringVar(&tag, "tag", "", "only rotate through entries with this tag")
	cmd.Flags().BoolVarP(&now, "now", "n", false, "advance immediately")
	return cmd
}

func (a *App) sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <CMD> [json-payload]",
		Short: "Send a raw command",
		Example: `  camroom-control send PLAY_ID '{"id":"alps","slot":1}'
  camroom-control send PING`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data any
			if len(args) == 2 {
				raw := json.RawMessage(args[1])
				if !json.Valid(raw) {
					return fmt.Errorf("payload is not valid JSON")
				}
				data = raw
			}
			return a.send(cmd, protocol.NormalizeCommand(args[0]), data)
		},
	}
}
