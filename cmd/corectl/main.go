package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/corelink/internal/logging"
	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logging.ConfigureRuntime()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "corectl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "corectl",
		Short: "Drive a core process over its stdin/stdout protocol",
		Long: `corectl starts a core executable in protocol mode and talks to it.

The core is configured from a TOML file (--config), flags, and the
environment. CORELINK_CORE names the executable and
CORELINK_PROTOCOL_DEBUG=1 mirrors the raw traffic to the debug tap.

Examples:
  corectl --core ./bin/core version
  corectl --core ./bin/core call GL
  corectl --config corelink.toml console
  corectl --core ./bin/core --debug --transcript run.msgpack call TG
  corectl transcript run.msgpack`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.applyLogLevel()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "TOML config file")
	flags.StringVar(&opts.executable, "core", "", "core executable (overrides config and CORELINK_CORE)")
	flags.BoolVar(&opts.debug, "debug", false, "mirror protocol traffic to the debug tap")
	flags.StringVar(&opts.debugSink, "debug-sink", "", "debug sink: log, stderr or transcript")
	flags.StringVar(&opts.transcript, "transcript", "", "record protocol traffic to this msgpack file")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: trace, debug, info, warn, error or off")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while the core runs")

	rootCmd.AddCommand(
		versionCmd(opts),
		consoleCmd(opts),
		callCmd(opts),
		transcriptCmd(),
		configCmd(),
		fakecoreCmd(),
	)

	return rootCmd
}
