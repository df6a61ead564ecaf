package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/danmuck/corelink/internal/fakecore"
	"github.com/danmuck/corelink/internal/protocol"
	"github.com/danmuck/corelink/internal/protocol/tap"
	"github.com/danmuck/corelink/internal/testutil/testlog"
)

type pipeCore struct {
	conn  *Conn
	reqW  *io.PipeWriter
	respR *io.PipeReader
	done  chan error
}

func startPipeCore(t *testing.T, c *fakecore.Core, cfg ConnConfig) *pipeCore {
	t.Helper()
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	pc := &pipeCore{
		conn:  NewConn(respR, reqW, cfg),
		reqW:  reqW,
		respR: respR,
		done:  make(chan error, 1),
	}
	go func() {
		err := c.Serve(reqR, respW)
		respW.Close()
		reqR.Close()
		pc.done <- err
	}()
	t.Cleanup(func() {
		reqW.Close()
		respR.Close()
	})
	version, err := pc.conn.Handshake()
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if version != c.Version {
		t.Fatalf("unexpected version: got=%q want=%q", version, c.Version)
	}
	return pc
}

func TestConnTypedCommands(t *testing.T) {
	testlog.Start(t)

	ctx := context.Background()
	pc := startPipeCore(t, fakecore.Default(), ConnConfig{})
	conn := pc.conn

	out, err := conn.ConsoleCommand(ctx, "echo hello \x1b world")
	if err != nil || out != "hello \x1b world" {
		t.Fatalf("console echo: out=%q err=%v", out, err)
	}
	cmds, err := conn.ConsoleCommandList(ctx)
	if err != nil || len(cmds) != 2 {
		t.Fatalf("console list: %v err=%v", cmds, err)
	}
	synopsis, help, err := conn.ConsoleCommandHelp(ctx, "echo")
	if err != nil || synopsis != "TEXT" || help == "" {
		t.Fatalf("console help: synopsis=%q help=%q err=%v", synopsis, help, err)
	}
	if err := conn.ChangeTheory(ctx, "ghz_w"); err != nil {
		t.Fatalf("change theory: %v", err)
	}
	if theory, err := conn.CurrentTheory(ctx); err != nil || theory != "ghz_w" {
		t.Fatalf("current theory: %q err=%v", theory, err)
	}

	g, err := conn.LoadEmptyGraph(ctx, "")
	if err != nil {
		t.Fatalf("load empty graph: %v", err)
	}
	payload := []byte{0x1b, '<', 'x', ']', 0}
	h, err := conn.LoadGraphFromData(ctx, "copy", payload)
	if err != nil {
		t.Fatalf("load graph from data: %v", err)
	}
	graphs, err := conn.ListGraphs(ctx)
	if err != nil || len(graphs) != 2 {
		t.Fatalf("list graphs: %v err=%v", graphs, err)
	}
	saved, err := conn.SaveGraphToData(ctx, h)
	if err != nil || !bytes.Equal(saved, payload) {
		t.Fatalf("save graph: %q err=%v", saved, err)
	}
	tikz, err := conn.ExportGraph(ctx, g, ExportTikz)
	if err != nil || !strings.HasPrefix(tikz, "tikz:") {
		t.Fatalf("export graph: %q err=%v", tikz, err)
	}
	if _, err := conn.ExportGraph(ctx, g, ExportNative); err == nil {
		t.Fatalf("native export must go through SaveGraphToData")
	}

	n, err := conn.AttachRewrites(ctx, g, []string{"a", "b", "c"})
	if err != nil || n != 3 {
		t.Fatalf("attach rewrites: n=%d err=%v", n, err)
	}
	xml, err := conn.ListAttachedRewrites(ctx, g)
	if err != nil || !strings.Contains(xml, `name="rw-b"`) {
		t.Fatalf("list rewrites: %q err=%v", xml, err)
	}
	if err := conn.ApplyAttachedRewrite(ctx, g, 2); err != nil {
		t.Fatalf("apply rewrite: %v", err)
	}
	if err := conn.Undo(ctx, g); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if err := conn.Redo(ctx, g); err != nil {
		t.Fatalf("redo: %v", err)
	}
	if err := conn.DiscardGraph(ctx, h); err != nil {
		t.Fatalf("discard: %v", err)
	}
}

func TestConnSetsUserData(t *testing.T) {
	testlog.Start(t)

	ctx := context.Background()
	pc := startPipeCore(t, fakecore.Default(), ConnConfig{})
	conn := pc.conn

	g, err := conn.LoadEmptyGraph(ctx, "annotated")
	if err != nil {
		t.Fatalf("load empty graph: %v", err)
	}
	if err := conn.SetVertexData(ctx, g, "v0", []byte("\x1b]phase")); err != nil {
		t.Fatalf("set vertex data: %v", err)
	}
	if err := conn.SetEdgeData(ctx, g, "e0", nil); err != nil {
		t.Fatalf("set edge data: %v", err)
	}
	if err := conn.SetVertexData(ctx, "missing", "v0", []byte("x")); !errors.Is(err, protocol.ErrCommandFailed) {
		t.Fatalf("expected core error for unknown graph, got=%v", err)
	}

	raw, err := conn.JSON(ctx, CmdGraphExport, protocol.String(g), protocol.String("json"))
	if err != nil {
		t.Fatalf("export json: %v", err)
	}
	var exported struct {
		VertexData map[string]string `json:"vertex_data"`
		EdgeData   map[string]string `json:"edge_data"`
	}
	if err := json.Unmarshal(raw, &exported); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if exported.VertexData["v0"] != "\x1b]phase" {
		t.Fatalf("vertex data not stored: %+v", exported.VertexData)
	}
	if v, ok := exported.EdgeData["e0"]; !ok || v != "" {
		t.Fatalf("edge data not stored: %+v", exported.EdgeData)
	}
}

func TestConnBadArgsLeavesConnectionUsable(t *testing.T) {
	testlog.Start(t)

	ctx := context.Background()
	c := fakecore.New("")
	c.Handle("GL", func(req protocol.IncomingRequest) (protocol.Response, error) {
		return fakecore.BadArgs(req, "GL takes no arguments"), nil
	})
	c.Handle("TG", func(req protocol.IncomingRequest) (protocol.Response, error) {
		return &protocol.NameResponse{Envelope: protocol.Envelope{ID: req.ID}, Name: "red_green"}, nil
	})
	pc := startPipeCore(t, c, ConnConfig{})

	_, err := pc.conn.ListGraphs(ctx)
	if !errors.Is(err, protocol.ErrBadArguments) {
		t.Fatalf("expected bad arguments, got=%v", err)
	}
	if protocol.IsFatal(err) || pc.conn.Err() != nil {
		t.Fatalf("bad arguments must not break the connection: %v", pc.conn.Err())
	}
	if theory, err := pc.conn.CurrentTheory(ctx); err != nil || theory != "red_green" {
		t.Fatalf("follow-up call failed: %q err=%v", theory, err)
	}
}

func TestConnCommandFailurePassesMessageThrough(t *testing.T) {
	testlog.Start(t)

	pc := startPipeCore(t, fakecore.Default(), ConnConfig{})
	err := pc.conn.Undo(context.Background(), "missing")
	var cmdErr *protocol.CommandError
	if !errors.As(err, &cmdErr) || cmdErr.Code != "NOSUCHGRAPH" {
		t.Fatalf("expected NOSUCHGRAPH command error, got=%v", err)
	}
	if !strings.Contains(err.Error(), `no graph named "missing"`) {
		t.Fatalf("core message not surfaced verbatim: %v", err)
	}
}

func TestConnUnknownRequestIsUnknownCommand(t *testing.T) {
	testlog.Start(t)

	pc := startPipeCore(t, fakecore.Default(), ConnConfig{})
	_, err := pc.conn.Call(context.Background(), "QQQ")
	var unknown *protocol.UnknownCommandError
	if !errors.As(err, &unknown) || unknown.Command != "QQQ" {
		t.Fatalf("expected unknown command QQQ, got=%v", err)
	}
	if pc.conn.Err() != nil {
		t.Fatalf("unknown command must not break the connection")
	}
}

func TestConnIDMismatchIsFatal(t *testing.T) {
	testlog.Start(t)

	ctx := context.Background()
	pc := startPipeCore(t, fakecore.Default(), ConnConfig{})
	_, err := pc.conn.Call(ctx, fakecore.CodeMismatch)
	if !errors.Is(err, protocol.ErrMalformedMessage) {
		t.Fatalf("expected malformed message on id mismatch, got=%v", err)
	}
	if _, err := pc.conn.ListGraphs(ctx); !errors.Is(err, protocol.ErrMalformedMessage) {
		t.Fatalf("broken connection must keep failing, got=%v", err)
	}
}

func TestConnMalformedReplyIsFatal(t *testing.T) {
	testlog.Start(t)

	pc := startPipeCore(t, fakecore.Default(), ConnConfig{})
	_, err := pc.conn.Call(context.Background(), fakecore.CodeGarbage)
	if !errors.Is(err, protocol.ErrMalformedMessage) || !protocol.IsFatal(err) {
		t.Fatalf("expected fatal malformed message, got=%v", err)
	}
}

func TestConnExpectFailsClosedOnUnknownResponse(t *testing.T) {
	testlog.Start(t)

	ctx := context.Background()
	pc := startPipeCore(t, fakecore.Default(), ConnConfig{})
	resp, err := pc.conn.Call(ctx, fakecore.CodeFuture)
	if err != nil {
		t.Fatalf("unknown response types must decode: %v", err)
	}
	if resp.Type() != protocol.TypeUnknownResponse || resp.Code() != "W" {
		t.Fatalf("unexpected response: type=%s code=%s", resp.Type(), resp.Code())
	}
	if structured, err := pc.conn.Call(ctx, fakecore.CodeStructured); err != nil || structured.Type() != protocol.TypeStructuredData {
		t.Fatalf("structured data: %v err=%v", structured, err)
	}

	_, err = pc.conn.Name(ctx, fakecore.CodeFuture)
	if !errors.Is(err, protocol.ErrMalformedMessage) {
		t.Fatalf("expected contract violation, got=%v", err)
	}
	if !strings.Contains(err.Error(), "expects a Name response") {
		t.Fatalf("contract violation should name the expected type: %v", err)
	}
	if pc.conn.Err() == nil {
		t.Fatalf("contract violation must break the connection")
	}
}

func TestConnCoreExitMidReadIsTerminated(t *testing.T) {
	testlog.Start(t)

	ctx := context.Background()
	pc := startPipeCore(t, fakecore.Default(), ConnConfig{})
	_, err := pc.conn.Call(ctx, fakecore.CodeExit)
	if !errors.Is(err, protocol.ErrCoreTerminated) {
		t.Fatalf("expected core terminated, got=%v", err)
	}
	if _, err := pc.conn.ListGraphs(ctx); !errors.Is(err, protocol.ErrCoreTerminated) {
		t.Fatalf("later calls must report termination, got=%v", err)
	}
	if err := <-pc.done; err != nil {
		t.Fatalf("serve: %v", err)
	}
}

func TestConnClosedReadEndUnblocksCall(t *testing.T) {
	testlog.Start(t)

	c := fakecore.New("")
	block := make(chan struct{})
	c.Handle("GL", func(req protocol.IncomingRequest) (protocol.Response, error) {
		<-block
		return nil, fakecore.ErrExit
	})
	pc := startPipeCore(t, c, ConnConfig{})
	defer close(block)

	result := make(chan error, 1)
	go func() {
		_, err := pc.conn.ListGraphs(context.Background())
		result <- err
	}()
	pc.respR.Close()
	if err := <-result; !errors.Is(err, protocol.ErrCoreTerminated) {
		t.Fatalf("expected core terminated after closing the read end, got=%v", err)
	}
}

func TestConnCancelledContextSendsNothing(t *testing.T) {
	testlog.Start(t)

	pc := startPipeCore(t, fakecore.Default(), ConnConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pc.conn.ListGraphs(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got=%v", err)
	}
	if graphs, err := pc.conn.ListGraphs(context.Background()); err != nil || len(graphs) != 0 {
		t.Fatalf("connection unusable after cancelled call: %v err=%v", graphs, err)
	}
}

func TestConnInvalidArgumentKeepsEncoderFree(t *testing.T) {
	testlog.Start(t)

	ctx := context.Background()
	pc := startPipeCore(t, fakecore.Default(), ConnConfig{})
	if _, err := pc.conn.Call(ctx, "GL", protocol.Arg{}); err == nil {
		t.Fatalf("expected invalid argument error")
	}
	if _, err := pc.conn.ListGraphs(ctx); err != nil {
		t.Fatalf("encoder left in flight after invalid argument: %v", err)
	}
}

func TestConnMirrorsTrafficToTap(t *testing.T) {
	testlog.Start(t)

	var out bytes.Buffer
	tp := tap.New(&tap.WriterSink{W: &out})
	tp.SetActive(true)
	pc := startPipeCore(t, fakecore.Default(), ConnConfig{Tap: tp})
	if _, err := pc.conn.ListGraphs(context.Background()); err != nil {
		t.Fatalf("list graphs: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, ">> ¤<GL¤:1¤|¤>") {
		t.Fatalf("request not mirrored: %q", text)
	}
	if !strings.Contains(text, "<< ¤<V¤|") {
		t.Fatalf("handshake not mirrored: %q", text)
	}
}
