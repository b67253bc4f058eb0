// Command romset builds canonical rom set containers from a datfile and a
// pile of source files, and inspects containers it or others produced.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "romset:", err)
		stop()
		os.Exit(1)
	}
}
