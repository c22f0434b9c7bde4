package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/giuliastro/opencode-remote/internal/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	r := cli.NewRunner(os.Stdout, os.Stderr)
	os.Exit(r.Run(ctx, os.Args[1:]))
}
