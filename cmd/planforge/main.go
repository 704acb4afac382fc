// File: cmd/planforge/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/planforge-cli/cmd"
	"github.com/xkilldash9x/planforge-cli/internal/observability"
)

const panicLogFile = "panic.log"

func main() {
	defer handlePanic()

	// Interrupts cancel the context so an in-flight session is persisted in
	// whatever state it reached before exiting.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

// handlePanic flushes logs and writes the stack to a file so crashes during
// long planning runs are not lost with the terminal scrollback.
func handlePanic() {
	if r := recover(); r != nil {
		observability.Sync()

		panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
		if err := os.WriteFile(panicLogFile, []byte(panicMessage), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "CRITICAL: failed to write panic log: %v\n", err)
			fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", panicMessage)
			os.Exit(1)
		}

		fmt.Fprintf(os.Stderr, "planforge crashed; details logged to %s\n", panicLogFile)
		os.Exit(1)
	}
}
