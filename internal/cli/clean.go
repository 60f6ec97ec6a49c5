package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/gitter-badger/stack/internal/app"
	"github.com/gitter-badger/stack/internal/config"
)

func newCleanCmd(outW io.Writer, root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove all build directories and generated config state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.validate(); err != nil {
				return err
			}
			a := app.New(outW, root.appConfig(config.DefaultOptions()))
			if err := a.Clean(cmd.Context()); err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}
			return nil
		},
	}
}
