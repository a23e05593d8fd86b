package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jinzoro/syseng-scripts/internal/deployctl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	rootCmd := deployctl.NewRootCmd()
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		// Print error once, then exit
		if !deployctl.Silent(err) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(deployctl.ExitCode(err))
	}
}
