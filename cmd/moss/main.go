package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, err := cli.NewRootCmd().ExecuteContextC(ctx)
	cli.TrackCommand(cmd, err)
	if err == nil {
		return 0
	}

	// Typed errors were already explained by the command.
	var silent *cli.SilentError
	if !errors.As(err, &silent) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return 1
}
