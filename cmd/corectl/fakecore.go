package main

import (
	"github.com/danmuck/corelink/internal/fakecore"
	"github.com/spf13/cobra"
)

// fakecoreCmd serves the in-memory core on stdin/stdout, so corectl can
// act as its own core: corectl --core "$(which corectl)" ... with
// args = ["fakecore"] in the config.
func fakecoreCmd() *cobra.Command {
	var protocolMode bool

	cmd := &cobra.Command{
		Use:    "fakecore",
		Short:  "Serve a scripted in-memory core on stdin/stdout",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fakecore.Default().Serve(cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&protocolMode, "protocol", true, "Accepted for compatibility with the supervisor")

	return cmd
}
