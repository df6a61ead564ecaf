package main

import (
	"fmt"

	"github.com/danmuck/corelink/internal/config"
	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check a corelink config file",
	}
	cmd.AddCommand(configInitCmd(), configCheckCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write a commented config template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(args[0], force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	return cmd
}

func configCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <path>",
		Short: "Load and validate a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadCoreConfig(args[0])
			if err != nil {
				return err
			}
			config.ApplyEnv(&cfg)
			if err := config.ValidateCoreConfig(cfg); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "executable:        %s\n", cfg.Executable)
			fmt.Fprintf(out, "args:              %v %s\n", cfg.Args, cfg.ProtocolFlag)
			fmt.Fprintf(out, "shutdown grace:    %s\n", cfg.ShutdownGrace)
			fmt.Fprintf(out, "handshake timeout: %s\n", cfg.HandshakeTimeout)
			fmt.Fprintf(out, "debug:             %t (%s)\n", cfg.Debug.Enabled, cfg.Debug.Sink)
			fmt.Fprintf(out, "max chunk bytes:   %d\n", cfg.MaxChunkBytes)
			return nil
		},
	}
}
