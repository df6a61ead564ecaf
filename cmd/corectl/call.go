package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/danmuck/corelink/internal/protocol"
	"github.com/spf13/cobra"
)

func callCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <code> [arg...]",
		Short: "Send one request to the core and print the response",
		Long: `Start the core, send a single request and print its response.

Arguments are plain strings unless prefixed:
  s:TEXT     string (use to send a string that starts with a prefix)
  i:N        decimal integer
  c:TEXT     data chunk holding TEXT
  f:PATH     data chunk holding the contents of PATH
  l:A,B,C    string list (l: alone is the empty list)
  t:X:TEXT   data chunk holding TEXT, tagged with the letter X

Examples:
  corectl call GL
  corectl call GOE scratch
  corectl call GOD graph f:graph.json
  corectl call WA graph l:v0,v1
  corectl call GMVS graph v0 t:N:phase`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reqArgs := make([]protocol.Arg, 0, len(args)-1)
			for _, raw := range args[1:] {
				arg, err := parseArg(raw)
				if err != nil {
					return err
				}
				reqArgs = append(reqArgs, arg)
			}

			s, err := openSession(cmd.Context(), opts, stderrOf(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer s.Close()

			resp, err := s.conn.Call(cmd.Context(), args[0], reqArgs...)
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), resp)
		},
	}
	return cmd
}

func parseArg(raw string) (protocol.Arg, error) {
	prefix, rest, ok := strings.Cut(raw, ":")
	if !ok {
		return protocol.String(raw), nil
	}
	switch prefix {
	case "s":
		return protocol.String(rest), nil
	case "i":
		n, err := strconv.Atoi(rest)
		if err != nil {
			return protocol.Arg{}, fmt.Errorf("integer argument %q: %w", raw, err)
		}
		return protocol.Int(n), nil
	case "c":
		return protocol.ChunkString(rest), nil
	case "f":
		data, err := os.ReadFile(rest)
		if err != nil {
			return protocol.Arg{}, fmt.Errorf("chunk argument %q: %w", raw, err)
		}
		return protocol.Chunk(data), nil
	case "t":
		tag, text, ok := strings.Cut(rest, ":")
		if !ok || len(tag) != 1 || !protocol.IsTag(tag[0]) {
			return protocol.Arg{}, fmt.Errorf("tagged chunk argument %q: want t:LETTER:TEXT", raw)
		}
		return protocol.Tagged(tag[0], []byte(text)), nil
	case "l":
		if rest == "" {
			return protocol.List(nil), nil
		}
		return protocol.List(strings.Split(rest, ",")), nil
	default:
		return protocol.String(raw), nil
	}
}

func printResponse(w io.Writer, resp protocol.Response) error {
	var err error
	switch r := resp.(type) {
	case *protocol.OkResponse:
		_, err = fmt.Fprintln(w, "ok")
	case *protocol.ConsoleResponse:
		_, err = io.WriteString(w, withNewline(r.Output))
	case *protocol.ConsoleHelpResponse:
		_, err = fmt.Fprintf(w, "%s\n\n%s", r.Args, withNewline(r.Help))
	case *protocol.RawDataResponse:
		_, err = w.Write(r.Data)
	case *protocol.PrettyResponse:
		_, err = io.WriteString(w, withNewline(r.Text))
	case *protocol.XMLResponse:
		_, err = io.WriteString(w, withNewline(r.XML))
	case *protocol.JSONResponse:
		_, err = io.WriteString(w, withNewline(string(r.Data)))
	case *protocol.CountResponse:
		_, err = fmt.Fprintln(w, r.Count)
	case *protocol.NameResponse:
		_, err = fmt.Fprintln(w, r.Name)
	case *protocol.NameListResponse:
		for _, name := range r.Names {
			if _, err = fmt.Fprintln(w, name); err != nil {
				break
			}
		}
	case *protocol.UserDataResponse:
		_, err = w.Write(r.Data)
	case *protocol.StructuredDataResponse:
		_, err = fmt.Fprintf(w, "structured data: %s\n", protocol.Render(r.Raw))
	case *protocol.UnknownResponse:
		_, err = fmt.Fprintf(w, "unknown response %q: %s\n", r.ResponseCode, protocol.Render(r.Raw))
	default:
		_, err = fmt.Fprintf(w, "%s response\n", resp.Type())
	}
	return err
}

func withNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
