// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cli implements the camroom-control command line: one subcommand
// per player command plus status and catalog watching.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ManuGH/camroom/internal/config"
	"github.com/ManuGH/camroom/internal/control"
	"github.com/ManuGH/camroom/internal/log"
	"github.com/ManuGH/camroom/internal/protocol"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// AppName is the control binary's service name.
const AppName = "camroom-control"

// ErrRejected is returned when the player acked a command with ok=false.
var ErrRejected = errors.New("command rejected")

// App holds the state shared by every subcommand.
type App struct {
	Version string
	Out     io.Writer
	Err     io.Writer
	// Connect attaches a control session. Defaults to Dial.
	Connect func(ctx context.Context, cfg config.AppConfig) (Session, error)

	configPath string
	room       string
	timeout    time.Duration
	logLevel   string
	noColor    bool
	jsonOut    bool
	cfg        config.AppConfig
}

// NewApp returns an App writing to stdout and stderr.
func NewApp(version string) *App {
	return &App{
		Version: version,
		Out:     os.Stdout,
		Err:     os.Stderr,
		Connect: Dial,
	}
}

// Root builds the command tree.
func (a *App) Root() *cobra.Command {
	root := &cobra.Command{
		Use:     "camroom-control",
		Short:   "Drive camroom players over the bus",
		Version: a.Version,
		Long: `camroom-control sends commands to the players of a room and waits for
their acknowledgement. The bus backends come from the same configuration
file and CAMROOM_* environment as the player.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}
	root.SetOut(a.Out)
	root.SetErr(a.Err)

	f := root.PersistentFlags()
	f.StringVarP(&a.configPath, "config", "c", os.Getenv("CAMROOM_CONFIG"), "path to the YAML configuration")
	f.StringVarP(&a.room, "room", "r", "", "room key (overrides configuration)")
	f.DurationVarP(&a.timeout, "timeout", "t", 0, "how long to wait for an ack (default: control.ackTimeout)")
	f.StringVar(&a.logLevel, "log-level", "", "log level (default: warn)")
	f.BoolVar(&a.noColor, "no-color", false, "disable colored output")
	f.BoolVar(&a.jsonOut, "json", false, "print acks and states as JSON")

	for _, c := range a.commandCmds() {
		root.AddCommand(c)
	}
	root.AddCommand(a.sendCmd())
	root.AddCommand(a.statusCmd())
	root.AddCommand(a.watchCatalogCmd())
	return root
}

func (a *App) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.NewLoader(a.configPath, a.Version).Load()
	if err != nil {
		return err
	}
	if a.room != "" {
		cfg.Room = a.room
	}
	cfg.Room = protocol.NormalizeRoom(cfg.Room)
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if a.timeout > 0 {
		cfg.Control.AckTimeout = a.timeout
	}
	a.cfg = cfg

	level := a.logLevel
	if level == "" {
		level = "warn"
	}
	log.Configure(log.Config{Level: level, Output: a.Err, Service: AppName, Version: a.Version})
	if a.noColor {
		color.NoColor = true
	}
	return nil
}

// context returns the command's context, bounded by the ack timeout.
func (a *App) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	// a little slack so the client reports ErrExpired before the context ends
	return context.WithTimeout(ctx, a.cfg.Control.AckTimeout+time.Second)
}

// send issues one command, waits for its ack and prints it.
func (a *App) send(cmd *cobra.Command, name string, data any) error {
	ctx, cancel := a.context(cmd)
	defer cancel()

	s, err := a.Connect(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	ack, err := s.Do(ctx, name, data)
	switch {
	case errors.Is(err, control.ErrExpired), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: no ack within %s (is a player running in room %q?)", name, a.cfg.Control.AckTimeout, a.cfg.Room)
	case err != nil:
		return fmt.Errorf("%s: %w", name, err)
	}
	a.printAck(name, ack)
	if !ack.OK {
		return fmt.Errorf("%w: %s", ErrRejected, ack.Note)
	}
	return nil
}
