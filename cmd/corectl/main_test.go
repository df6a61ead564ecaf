package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/corelink/internal/config"
	"github.com/danmuck/corelink/internal/fakecore"
	"github.com/danmuck/corelink/internal/protocol"
	"github.com/danmuck/corelink/internal/protocol/tap"
	"github.com/danmuck/corelink/internal/testutil/testlog"
)

const envHelperCore = "CORELINK_TEST_FAKECORE"

// TestMain lets the test binary stand in for the core executable.
func TestMain(m *testing.M) {
	if os.Getenv(envHelperCore) == "1" {
		if err := fakecore.Default().Serve(os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "fakecore: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// runCorectl executes the root command against the test binary as core.
func runCorectl(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	out, _, err := runCorectlStderr(t, stdin, args...)
	return out, err
}

func runCorectlStderr(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv(envHelperCore, "1")
	t.Setenv(config.EnvCore, "")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var out bytes.Buffer
	stderr := &lockedBuffer{}
	cmd := newRootCmd()
	cmd.SetArgs(append([]string{"--core", os.Args[0]}, args...))
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(stderr)
	err := cmd.ExecuteContext(ctx)
	return out.String(), stderr.String(), err
}

func TestCallPrintsResponse(t *testing.T) {
	testlog.Start(t)

	out, err := runCorectl(t, "", "call", "TG")
	if err != nil {
		t.Fatalf("call TG: %v", err)
	}
	if out != "red_green\n" {
		t.Fatalf("unexpected output: %q", out)
	}

	out, err = runCorectl(t, "", "call", "GOE", "scratch")
	if err != nil {
		t.Fatalf("call GOE: %v", err)
	}
	if out != "scratch\n" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestCallReportsCoreErrors(t *testing.T) {
	testlog.Start(t)

	if _, err := runCorectl(t, "", "call", "TS"); !errors.Is(err, protocol.ErrBadArguments) {
		t.Fatalf("expected bad arguments, got=%v", err)
	}
	if _, err := runCorectl(t, "", "call", "NOPE"); !errors.Is(err, protocol.ErrUnknownCommand) {
		t.Fatalf("expected unknown command, got=%v", err)
	}
	if _, err := runCorectl(t, "", "call", "TS", "i:x"); err == nil {
		t.Fatalf("expected argument parse error")
	}
}

func TestConsoleSession(t *testing.T) {
	testlog.Start(t)

	in := "echo hi\n\n:commands\n:help echo\n:bogus\n:quit\necho never\n"
	out, err := runCorectl(t, in, "console", "--quiet")
	if err != nil {
		t.Fatalf("console: %v", err)
	}
	want := "hi\n" +
		"echo\nhelp\n" +
		"echo TEXT\nPrints TEXT back.\n" +
		"error: unknown console directive \":bogus\"\n"
	if out != want {
		t.Fatalf("unexpected console output:\n got=%q\nwant=%q", out, want)
	}
}

func TestConsoleTogglesDebugTap(t *testing.T) {
	testlog.Start(t)
	t.Setenv(tap.EnvDebug, "")

	in := ":debug\n:debug on\necho traced\n:debug off\necho hidden\n:debug loud\n:quit\n"
	out, stderr, err := runCorectlStderr(t, in, "--debug-sink", "stderr", "console", "--quiet")
	if err != nil {
		t.Fatalf("console: %v", err)
	}
	want := "debug tap off\n" +
		"debug tap on\ntraced\n" +
		"debug tap off\nhidden\n" +
		"error: usage: :debug [on|off]\n"
	if out != want {
		t.Fatalf("unexpected console output:\n got=%q\nwant=%q", out, want)
	}
	if !strings.Contains(stderr, ">> ") || !strings.Contains(stderr, "echo traced") {
		t.Fatalf("traffic missing while tap on: %q", stderr)
	}
	if strings.Contains(stderr, "hidden") {
		t.Fatalf("traffic mirrored while tap off: %q", stderr)
	}
}

func TestTranscriptRecordsTraffic(t *testing.T) {
	testlog.Start(t)

	path := filepath.Join(t.TempDir(), "run.msgpack")
	if _, err := runCorectl(t, "", "--transcript", path, "call", "GL"); err != nil {
		t.Fatalf("call with transcript: %v", err)
	}

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetArgs([]string{"transcript", "--relative", path})
	cmd.SetOut(&out)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("transcript: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "<< ") || !strings.Contains(text, fakecore.DefaultVersion) {
		t.Fatalf("handshake missing from transcript: %q", text)
	}
	if !strings.Contains(text, ">> ¤<GL¤:1¤|¤>") {
		t.Fatalf("request missing from transcript: %q", text)
	}
}

func TestConfigInitAndCheck(t *testing.T) {
	testlog.Start(t)

	path := filepath.Join(t.TempDir(), "corelink.toml")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "init", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}

	t.Setenv(config.EnvCore, "")
	cmd = newRootCmd()
	out.Reset()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "check", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config check: %v", err)
	}
	if !strings.Contains(out.String(), "./bin/core") {
		t.Fatalf("unexpected check output: %q", out.String())
	}
}

func TestVersionShort(t *testing.T) {
	testlog.Start(t)

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--short"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if out.String() != version+"\n" {
		t.Fatalf("unexpected version output: %q", out.String())
	}
}

func TestVersionReportsProtocol(t *testing.T) {
	testlog.Start(t)

	out, err := runCorectl(t, "", "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "protocol:   "+fakecore.DefaultVersion) {
		t.Fatalf("protocol version missing: %q", out)
	}
}

func TestParseArg(t *testing.T) {
	testlog.Start(t)

	file := filepath.Join(t.TempDir(), "graph.json")
	if err := os.WriteFile(file, []byte(`{"v":1}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cases := []struct {
		raw  string
		want protocol.Arg
	}{
		{raw: "plain", want: protocol.String("plain")},
		{raw: "s:c:text", want: protocol.String("c:text")},
		{raw: "x:y", want: protocol.String("x:y")},
		{raw: "i:42", want: protocol.Int(42)},
		{raw: "c:hello", want: protocol.ChunkString("hello")},
		{raw: "f:" + file, want: protocol.ChunkString(`{"v":1}`)},
		{raw: "l:", want: protocol.List(nil)},
		{raw: "l:a,b", want: protocol.List([]string{"a", "b"})},
		{raw: "t:N:a:b", want: protocol.Tagged('N', []byte("a:b"))},
	}
	for _, tc := range cases {
		got, err := parseArg(tc.raw)
		if err != nil {
			t.Fatalf("%s: %v", tc.raw, err)
		}
		if got.Kind != tc.want.Kind || got.Text != tc.want.Text || got.Tag != tc.want.Tag ||
			!bytes.Equal(got.Data, tc.want.Data) ||
			strings.Join(got.Items, ",") != strings.Join(tc.want.Items, ",") ||
			len(got.Items) != len(tc.want.Items) {
			t.Fatalf("%s: got=%+v want=%+v", tc.raw, got, tc.want)
		}
	}
	if _, err := parseArg("i:ten"); err == nil {
		t.Fatalf("expected integer parse error")
	}
	for _, raw := range []string{"t:N", "t:NN:x", "t:7:x"} {
		if _, err := parseArg(raw); err == nil {
			t.Fatalf("%s: expected tagged chunk parse error", raw)
		}
	}
	if _, err := parseArg("f:/nonexistent/graph.json"); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestPrintResponse(t *testing.T) {
	testlog.Start(t)

	env := protocol.Envelope{ID: "1"}
	cases := []struct {
		resp protocol.Response
		want string
	}{
		{resp: &protocol.OkResponse{Envelope: env}, want: "ok\n"},
		{resp: &protocol.CountResponse{Envelope: env, Count: 3}, want: "3\n"},
		{resp: &protocol.NameListResponse{Envelope: env, Names: []string{"a", "b"}}, want: "a\nb\n"},
		{resp: &protocol.ConsoleResponse{Envelope: env, Output: "done"}, want: "done\n"},
		{resp: &protocol.RawDataResponse{Envelope: env, Data: []byte("raw")}, want: "raw"},
		{resp: &protocol.UnknownResponse{Envelope: env, ResponseCode: "W", Raw: []byte("\x1b;")}, want: "unknown response \"W\": ¤;\n"},
	}
	for _, tc := range cases {
		var out bytes.Buffer
		if err := printResponse(&out, tc.resp); err != nil {
			t.Fatalf("%T: %v", tc.resp, err)
		}
		if out.String() != tc.want {
			t.Fatalf("%T: got=%q want=%q", tc.resp, out.String(), tc.want)
		}
	}
}
