// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Command dbal checks declaration files and runs write methods from the
// command line.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/charmbracelet/log"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cmd := newRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		log.Error("command failed", "err", err)
		cancel()
		os.Exit(1)
	}
}
