package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func versionCmd(opts *options) *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print corectl and core protocol versions",
		Long: `Print build information for corectl. When a core executable is
configured it is started and the protocol version from its handshake is
printed as well.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(out, version)
				return nil
			}
			fmt.Fprintf(out, "corectl:    %s\n", version)
			fmt.Fprintf(out, "commit:     %s\n", commit)
			fmt.Fprintf(out, "built:      %s\n", date)
			fmt.Fprintf(out, "go version: %s\n", runtime.Version())

			cfg, err := opts.coreConfig()
			if err != nil {
				fmt.Fprintf(out, "core:       (not configured: %v)\n", err)
				return nil
			}
			s, err := openSession(cmd.Context(), opts, stderrOf(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer s.Close()
			fmt.Fprintf(out, "core:       %s\n", cfg.Executable)
			fmt.Fprintf(out, "protocol:   %s\n", s.sup.Version())
			return nil
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only the corectl version")

	return cmd
}
