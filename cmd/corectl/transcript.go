package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/danmuck/corelink/internal/protocol"
	"github.com/danmuck/corelink/internal/protocol/tap"
	"github.com/spf13/cobra"
)

func transcriptCmd() *cobra.Command {
	var relative bool

	cmd := &cobra.Command{
		Use:   "transcript <file>",
		Short: "Print a recorded protocol transcript",
		Long: `Print the records of a transcript written by --transcript, one per
line, with the escape byte shown as ¤. ">>" marks bytes sent to the core and
"<<" bytes received from it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			records, err := tap.ReadTranscript(f)
			if err != nil {
				// Print what was readable before reporting the damage.
				printTranscript(cmd.OutOrStdout(), records, relative)
				return err
			}
			return printTranscript(cmd.OutOrStdout(), records, relative)
		},
	}

	cmd.Flags().BoolVarP(&relative, "relative", "r", false, "Show times relative to the first record")

	return cmd
}

func printTranscript(w io.Writer, records []tap.Record, relative bool) error {
	var first time.Time
	if len(records) > 0 {
		first = records[0].At
	}
	for _, rec := range records {
		stamp := rec.At.Format(time.RFC3339Nano)
		if relative {
			stamp = fmt.Sprintf("+%s", rec.At.Sub(first))
		}
		if _, err := fmt.Fprintf(w, "%s %s %s\n", stamp, rec.Dir.Arrow(), protocol.Render(rec.Data)); err != nil {
			return err
		}
	}
	return nil
}
