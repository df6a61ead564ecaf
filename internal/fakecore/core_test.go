package fakecore

import (
	"errors"
	"io"
	"testing"

	"github.com/danmuck/corelink/internal/protocol"
	"github.com/danmuck/corelink/internal/testutil/testlog"
)

type session struct {
	enc  *protocol.Encoder
	dec  *protocol.Decoder
	in   *io.PipeWriter
	done chan error
}

func startSession(t *testing.T, c *Core) *session {
	t.Helper()
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	s := &session{
		enc:  protocol.NewEncoder(reqW),
		dec:  protocol.NewDecoder(respR, protocol.DefaultLimits()),
		in:   reqW,
		done: make(chan error, 1),
	}
	go func() {
		err := c.Serve(reqR, respW)
		respW.Close()
		s.done <- err
	}()
	t.Cleanup(func() { reqW.Close() })
	if err := s.dec.WaitForReady(); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	return s
}

func (s *session) call(t *testing.T, code string, args ...protocol.Arg) protocol.Response {
	t.Helper()
	q, err := s.enc.Begin(code)
	if err != nil {
		t.Fatalf("begin %s: %v", code, err)
	}
	if err := q.Add(args...); err != nil {
		t.Fatalf("add %s: %v", code, err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close %s: %v", code, err)
	}
	resp, err := s.dec.Next()
	if err != nil {
		t.Fatalf("response to %s: %v", code, err)
	}
	if resp.RequestID() != q.ID() {
		t.Fatalf("id mismatch for %s: got=%s want=%s", code, resp.RequestID(), q.ID())
	}
	return resp
}

func TestServeAnnouncesVersion(t *testing.T) {
	testlog.Start(t)

	s := startSession(t, New("9.9"))
	version, err := s.dec.Version()
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if version != "9.9" {
		t.Fatalf("unexpected version: %q", version)
	}
}

func TestUnregisteredCodeGetsUnknownRequest(t *testing.T) {
	testlog.Start(t)

	s := startSession(t, New(""))
	resp := s.call(t, "NOPE")
	unknown, ok := resp.(*protocol.UnknownRequestResponse)
	if !ok || unknown.RequestCode != "NOPE" {
		t.Fatalf("expected unknown request for NOPE, got=%#v", resp)
	}
}

func TestDefaultModelGraphLifecycle(t *testing.T) {
	testlog.Start(t)

	s := startSession(t, Default())
	name := s.call(t, "GOE", protocol.String("red")).(*protocol.NameResponse).Name
	if name != "red" {
		t.Fatalf("unexpected graph name: %q", name)
	}
	second := s.call(t, "GOD", protocol.String("red"), protocol.Chunk([]byte("\x1bbody"))).(*protocol.NameResponse).Name
	if second == name {
		t.Fatalf("second graph reused name %q", name)
	}
	list := s.call(t, "GL").(*protocol.NameListResponse).Names
	if len(list) != 2 {
		t.Fatalf("expected two graphs, got=%v", list)
	}
	data := s.call(t, "GE", protocol.String(second), protocol.String("native")).(*protocol.RawDataResponse).Data
	if string(data) != "\x1bbody" {
		t.Fatalf("native export mismatch: %q", data)
	}
	count := s.call(t, "WA", protocol.String(name), protocol.List([]string{"v0", "v1"})).(*protocol.CountResponse).Count
	if count != 2 {
		t.Fatalf("unexpected rewrite count: %d", count)
	}
	if _, ok := s.call(t, "WW", protocol.String(name), protocol.Int(1)).(*protocol.OkResponse); !ok {
		t.Fatalf("apply rewrite failed")
	}
	if _, ok := s.call(t, "GMU", protocol.String(name)).(*protocol.OkResponse); !ok {
		t.Fatalf("undo failed")
	}
	resp := s.call(t, "GMU", protocol.String(name))
	errResp, ok := resp.(*protocol.ErrorResponse)
	if !ok || errResp.ErrCode != "NOUNDO" {
		t.Fatalf("expected NOUNDO, got=%#v", resp)
	}
}

func TestDefaultModelReportsBadArgs(t *testing.T) {
	testlog.Start(t)

	s := startSession(t, Default())
	resp := s.call(t, "TS")
	err := protocol.ErrorFromResponse(resp.(*protocol.ErrorResponse))
	if !errors.Is(err, protocol.ErrBadArguments) {
		t.Fatalf("expected bad arguments, got=%v", err)
	}
	if name := s.call(t, "TG").(*protocol.NameResponse).Name; name != "red_green" {
		t.Fatalf("session unusable after BADARGS: theory=%q", name)
	}
}

func TestExitStopsServing(t *testing.T) {
	testlog.Start(t)

	s := startSession(t, Default())
	q, err := s.enc.Begin(CodeExit)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := s.dec.Next(); !errors.Is(err, protocol.ErrCoreTerminated) {
		t.Fatalf("expected core terminated, got=%v", err)
	}
	if err := <-s.done; err != nil {
		t.Fatalf("serve: %v", err)
	}
}
