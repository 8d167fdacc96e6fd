package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dapurstok/backend/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand(nil).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "dapurctl:", err)
		stop()
		os.Exit(1)
	}
}
