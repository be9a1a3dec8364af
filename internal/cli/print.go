// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ManuGH/camroom/internal/protocol"
	"github.com/fatih/color"
)

var (
	okColor    = color.New(color.FgHiGreen)
	failColor  = color.New(color.FgRed)
	dimColor   = color.New(color.FgHiBlack)
	titleColor = color.New(color.Bold)
	modeColor  = color.New(color.FgCyan)
)

func (a *App) printJSON(v any) {
	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func (a *App) printAck(cmd string, ack protocol.Ack) {
	if a.jsonOut {
		a.printJSON(struct {
			Cmd string       `json:"cmd"`
			Ack protocol.Ack `json:"ack"`
		}{cmd, ack})
		return
	}
	mark := okColor.Sprint("ok")
	if !ack.OK {
		mark = failColor.Sprint("failed")
	}
	note := ack.Note
	if note == "" {
		note = "-"
	}
	fmt.Fprintf(a.Out, "%s %s: %s\n", cmd, mark, note)
}

// printState renders a state document. connected reflects the liveness
// window at print time.
func (a *App) printState(env protocol.Envelope, connected bool) {
	if a.jsonOut {
		a.printJSON(env)
		return
	}
	writeState(a.Out, env, connected)
}

func writeState(w io.Writer, env protocol.Envelope, connected bool) {
	st := env.State
	if st == nil {
		fmt.Fprintln(w, "no state")
		return
	}

	link := okColor.Sprint("connected")
	if !connected {
		link = failColor.Sprint("offline")
	}
	fmt.Fprintf(w, "%s %s  room %s  %s  (%s)\n",
		titleColor.Sprint(st.App.Name), st.App.Version, env.Room, link,
		env.Time().Format(time.TimeOnly))

	flags := []string{"layout " + fmt.Sprint(st.LayoutN), "active " + fmt.Sprint(st.ActiveSlot)}
	if st.Muted {
		flags = append(flags, "muted")
	}
	if st.HUDVisible {
		flags = append(flags, "hud")
	}
	if st.Fullscreen {
		flags = append(flags, "fullscreen")
	}
	fmt.Fprintf(w, "  mode %s  %s\n", modeColor.Sprint(st.Mode), strings.Join(flags, ", "))
	if st.Rotate.Enabled {
		fmt.Fprintf(w, "  rotate every %ds  kind %s  tag %q\n", st.Rotate.IntervalSec, st.Rotate.Kind, st.Rotate.Tag)
	}
	if st.LastError != "" {
		fmt.Fprintf(w, "  last error: %s\n", failColor.Sprint(st.LastError))
	}
	if st.SeenControlAgoMs != nil {
		fmt.Fprintf(w, "  control seen %s ago\n", (time.Duration(*st.SeenControlAgoMs) * time.Millisecond).Round(time.Second))
	}

	for _, s := range st.Slots {
		cursor := " "
		if s.Slot == st.ActiveSlot {
			cursor = ">"
		}
		status := okColor.Sprint("live")
		if !s.Playing {
			status = failColor.Sprint("down")
		}
		if s.ID == "" {
			status = dimColor.Sprint("empty")
		}
		line := fmt.Sprintf(" %s [%d] %-5s %s", cursor, s.Slot, status, s.Title)
		if s.Kind != "" {
			line += dimColor.Sprintf(" (%s %s)", s.Kind, s.ID)
		}
		if s.FailCount > 0 {
			line += failColor.Sprintf(" fails=%d", s.FailCount)
		}
		if s.Rotate.Enabled {
			line += modeColor.Sprintf(" rotating/%ds", s.Rotate.IntervalSec)
		}
		fmt.Fprintln(w, line)
	}
	if st.Ack != nil {
		fmt.Fprintf(w, "  last ack: ok=%t %s\n", st.Ack.OK, st.Ack.Note)
	}
}
