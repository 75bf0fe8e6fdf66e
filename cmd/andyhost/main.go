package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"andyhost/internal/cli"
)

func main() {
	// Ctrl+C / SIGTERM cancel the run and trigger a graceful leave.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "andyhost:", err)
		stop()
		os.Exit(1)
	}
}
