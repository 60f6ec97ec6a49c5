// Package config defines the build options model shared by the CLI, the
// config cache and the builder.
package config

import (
	"fmt"
	"runtime"
)

// FinalAction is the optional extra action run after a local package's
// build step, before install.
type FinalAction string

const (
	FinalNone    FinalAction = "none"
	FinalTest    FinalAction = "test"
	FinalBench   FinalAction = "bench"
	FinalHaddock FinalAction = "haddock"
)

// ParseFinalAction validates a final-action name from the CLI.
func ParseFinalAction(s string) (FinalAction, error) {
	switch FinalAction(s) {
	case FinalNone, FinalTest, FinalBench, FinalHaddock:
		return FinalAction(s), nil
	default:
		return "", fmt.Errorf("invalid final action %q: must be 'none', 'test', 'bench' or 'haddock'", s)
	}
}

// Options holds the build options requested for one invocation.
type Options struct {
	Optimize     bool
	LibProfiling bool
	ExeProfiling bool
	GhcOptions   []string
	// FlagOverrides are per-flag switches from the command line, applied
	// over every local package's manifest defaults.
	FlagOverrides map[string]bool
	FinalAction   FinalAction
	// Workers bounds the task graph's concurrency.
	Workers int
}

// DefaultOptions returns the options used when the CLI sets nothing.
func DefaultOptions() *Options {
	return &Options{
		FlagOverrides: map[string]bool{},
		FinalAction:   FinalNone,
		Workers:       runtime.NumCPU(),
	}
}
