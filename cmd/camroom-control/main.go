// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command camroom-control drives the players of a room from the terminal.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ManuGH/camroom/internal/cli"
	"github.com/ManuGH/camroom/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cli.NewApp(version.Version).Root().ExecuteContext(ctx)
	stop()
	// cobra has already printed the error
	if err != nil {
		os.Exit(1)
	}
}
