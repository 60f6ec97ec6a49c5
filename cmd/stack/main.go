package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/gitter-badger/stack/internal/cli"
)

// main is the entrypoint for the stack binary.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := run(os.Stdout, os.Args[1:]); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the command dispatch for easier testing and error
// handling.
func run(outW io.Writer, args []string) error {
	rootCmd := cli.NewRootCmd(outW)
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(context.Background())
}
