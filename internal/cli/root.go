// Package cli translates command-line arguments into the application's
// configuration and handles process-level concerns like exit codes.
package cli

import (
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gitter-badger/stack/internal/app"
	"github.com/gitter-badger/stack/internal/config"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// rootFlags are the persistent options shared by every subcommand.
type rootFlags struct {
	projectPath string
	logLevel    string
	logFormat   string
}

// NewRootCmd builds the stack command tree writing output to outW.
func NewRootCmd(outW io.Writer) *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "stack",
		Short:         "Incremental package build orchestrator",
		Long:          "stack resolves version ranges across local packages and a snapshot,\nthen configures, builds and installs each package through an incremental\ntask graph.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(outW)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.projectPath, "project", "stack.hcl", "path to the project file")
	pf.StringVar(&flags.logLevel, "log-level", "info", "logging level: 'debug', 'info', 'warn' or 'error'")
	pf.StringVar(&flags.logFormat, "log-format", "text", "log output format: 'text' or 'json'")

	rootCmd.AddCommand(newBuildCmd(outW, flags))
	rootCmd.AddCommand(newCleanCmd(outW, flags))
	return rootCmd
}

// validate rejects flag values before any work starts.
func (f *rootFlags) validate() error {
	switch strings.ToLower(f.logLevel) {
	case "debug", "info", "warn", "error":
	default:
		return &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	switch strings.ToLower(f.logFormat) {
	case "text", "json":
	default:
		return &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}
	return nil
}

// appConfig assembles the app configuration from the parsed flags.
func (f *rootFlags) appConfig(opts *config.Options) *app.Config {
	return &app.Config{
		ProjectPath: f.projectPath,
		LogLevel:    strings.ToLower(f.logLevel),
		LogFormat:   strings.ToLower(f.logFormat),
		Options:     opts,
	}
}
