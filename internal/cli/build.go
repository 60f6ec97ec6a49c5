package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gitter-badger/stack/internal/app"
	"github.com/gitter-badger/stack/internal/config"
)

// buildFlags collects the build subcommand's options before conversion
// into config.Options.
type buildFlags struct {
	jobs         int
	optimize     bool
	libProfiling bool
	exeProfiling bool
	ghcOptions   string
	flagSwitches []string
	finalAction  string
}

func newBuildCmd(outW io.Writer, root *rootFlags) *cobra.Command {
	flags := &buildFlags{}

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Resolve, configure, build and install every local package",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.validate(); err != nil {
				return err
			}
			opts, err := flags.options()
			if err != nil {
				return &ExitError{Code: 2, Message: err.Error()}
			}
			a := app.New(outW, root.appConfig(opts))
			if err := a.Build(cmd.Context()); err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}
			return nil
		},
	}

	cf := cmd.Flags()
	cf.IntVarP(&flags.jobs, "jobs", "j", 0, "maximum concurrent tasks (0 selects the CPU count)")
	cf.BoolVar(&flags.optimize, "optimize", false, "enable compiler optimization")
	cf.BoolVar(&flags.libProfiling, "library-profiling", false, "enable library profiling")
	cf.BoolVar(&flags.exeProfiling, "executable-profiling", false, "enable executable profiling")
	cf.StringVar(&flags.ghcOptions, "ghc-options", "", "extra options passed through to the compiler")
	cf.StringArrayVar(&flags.flagSwitches, "flag", nil, "set a build flag: 'name' enables, '-name' disables (repeatable)")
	cf.StringVar(&flags.finalAction, "final", "none", "extra action after build: 'none', 'test', 'bench' or 'haddock'")
	return cmd
}

// options converts the parsed flags into the run's build options.
func (f *buildFlags) options() (*config.Options, error) {
	opts := config.DefaultOptions()
	if f.jobs > 0 {
		opts.Workers = f.jobs
	}
	opts.Optimize = f.optimize
	opts.LibProfiling = f.libProfiling
	opts.ExeProfiling = f.exeProfiling
	if f.ghcOptions != "" {
		opts.GhcOptions = strings.Fields(f.ghcOptions)
	}

	final, err := config.ParseFinalAction(f.finalAction)
	if err != nil {
		return nil, err
	}
	opts.FinalAction = final

	for _, s := range f.flagSwitches {
		name, value := s, true
		if rest, disabled := strings.CutPrefix(s, "-"); disabled {
			name, value = rest, false
		}
		if name == "" {
			return nil, fmt.Errorf("invalid flag switch %q", s)
		}
		opts.FlagOverrides[name] = value
	}
	return opts, nil
}
