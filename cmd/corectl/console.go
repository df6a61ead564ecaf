package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/corelink/internal/core"
	"github.com/danmuck/corelink/internal/protocol"
	"github.com/danmuck/corelink/internal/protocol/tap"
	"github.com/spf13/cobra"
)

const consolePrompt = "core> "

func consoleCmd(opts *options) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Run an interactive console against the core",
		Long: `Read console commands line by line and send each to the core.

Lines starting with ':' are handled locally:
  :commands       list the console commands the core knows
  :help COMMAND   show the synopsis and help for a command
  :debug [on|off] show or switch mirroring of protocol traffic to the
                  debug sink (--debug-sink picks where it goes)
  :quit           stop the core and exit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts, stderrOf(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer s.Close()
			prompt := consolePrompt
			if quiet {
				prompt = ""
			}
			return runConsole(cmd.Context(), s.conn, s.tap, cmd.InOrStdin(), cmd.OutOrStdout(), prompt)
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print a prompt")

	return cmd
}

// runConsole returns nil at end of input. Command failures reported by the
// core are printed and the loop continues; a broken connection ends it.
func runConsole(ctx context.Context, conn *core.Conn, t *tap.Tap, in io.Reader, out io.Writer, prompt string) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for {
		if prompt != "" {
			fmt.Fprint(out, prompt)
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		quit, err := consoleLine(ctx, conn, t, out, line)
		if err != nil {
			if protocol.IsFatal(err) {
				return err
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

func consoleLine(ctx context.Context, conn *core.Conn, t *tap.Tap, out io.Writer, line string) (bool, error) {
	if !strings.HasPrefix(line, ":") {
		output, err := conn.ConsoleCommand(ctx, line)
		if err != nil {
			return false, err
		}
		_, err = io.WriteString(out, withNewline(output))
		return false, err
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	switch name {
	case "quit", "q", "exit":
		return true, nil
	case "commands":
		names, err := conn.ConsoleCommandList(ctx)
		if err != nil {
			return false, err
		}
		_, err = io.WriteString(out, withNewline(strings.Join(names, "\n")))
		return false, err
	case "help":
		command := strings.TrimSpace(rest)
		if command == "" {
			return false, errors.New("usage: :help COMMAND")
		}
		synopsis, help, err := conn.ConsoleCommandHelp(ctx, command)
		if err != nil {
			return false, err
		}
		_, err = fmt.Fprintf(out, "%s %s\n%s", command, synopsis, withNewline(help))
		return false, err
	case "debug":
		if t == nil {
			return false, errors.New("no debug tap in this session")
		}
		switch strings.TrimSpace(rest) {
		case "":
		case "on":
			t.SetActive(true)
		case "off":
			t.SetActive(false)
		default:
			return false, errors.New("usage: :debug [on|off]")
		}
		state := "off"
		if t.Active() {
			state = "on"
		}
		_, err := fmt.Fprintf(out, "debug tap %s\n", state)
		return false, err
	default:
		return false, fmt.Errorf("unknown console directive %q", ":"+name)
	}
}
