// Package fakecore is a scriptable stand-in for the core process.
//
// Ownership boundary:
// - fakecore speaks only the core side of the wire protocol.
// - Command behavior is a small in-memory model, enough to exercise every
//   response type; it is not a graph engine.
package fakecore

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/danmuck/corelink/internal/protocol"
	"github.com/rs/zerolog/log"
)

// DefaultVersion is announced in the handshake unless overridden.
const DefaultVersion = "2.0-fake"

// ErrExit makes Serve return without answering the current request, the way a
// core that dies mid-command would.
var ErrExit = errors.New("fakecore: exit requested")

// Handler answers one request. The returned response must carry req.ID
// unless the handler deliberately breaks correlation.
type Handler func(req protocol.IncomingRequest) (protocol.Response, error)

// Raw is a reply written to the wire byte for byte.
type Raw struct {
	protocol.Envelope
	Bytes []byte
}

func (*Raw) Type() protocol.MessageType { return protocol.TypeUnknownResponse }
func (*Raw) Code() string               { return "" }

// Core serves requests from a decoder until the input ends or a handler
// returns ErrExit.
type Core struct {
	Version string
	Limits  protocol.Limits

	mu       sync.Mutex
	handlers map[string]Handler
}

func New(version string) *Core {
	if version == "" {
		version = DefaultVersion
	}
	return &Core{Version: version, Limits: protocol.DefaultLimits(), handlers: make(map[string]Handler)}
}

// Handle registers h for code, replacing any earlier handler.
func (c *Core) Handle(code string, h Handler) {
	c.mu.Lock()
	c.handlers[code] = h
	c.mu.Unlock()
}

func (c *Core) handler(code string) (Handler, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handlers[code]
	return h, ok
}

// Codes lists the registered request codes.
func (c *Core) Codes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.handlers))
	for code := range c.handlers {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Serve writes the handshake and answers requests until r is exhausted.
// A clean end of input returns nil.
func (c *Core) Serve(r io.Reader, w io.Writer) error {
	dec := protocol.NewRequestDecoder(r, c.Limits)
	enc := protocol.NewResponseEncoder(w)
	if err := enc.WriteVersion(c.Version); err != nil {
		return err
	}
	for {
		req, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		log.Trace().Str("component", "fakecore").Str("code", req.Code).Str("id", req.ID).Msg("request")

		h, ok := c.handler(req.Code)
		if !ok {
			if err := enc.Write(&protocol.UnknownRequestResponse{Envelope: env(req), RequestCode: req.Code}); err != nil {
				return err
			}
			continue
		}
		resp, err := h(req)
		if errors.Is(err, ErrExit) {
			return nil
		}
		if err != nil {
			resp = &protocol.ErrorResponse{Envelope: env(req), ErrCode: "FAILED", Message: err.Error()}
		}
		if raw, ok := resp.(*Raw); ok {
			err = enc.WriteRaw(raw.Bytes)
		} else {
			err = enc.Write(resp)
		}
		if err != nil {
			return err
		}
	}
}

func env(req protocol.IncomingRequest) protocol.Envelope {
	return protocol.Envelope{ID: req.ID}
}

// BadArgs builds the reply for a request with the wrong argument shape.
func BadArgs(req protocol.IncomingRequest, format string, args ...any) protocol.Response {
	return &protocol.ErrorResponse{
		Envelope: env(req),
		ErrCode:  protocol.ErrorCodeBadArgs,
		Message:  fmt.Sprintf(format, args...),
	}
}

// Fail builds a generic error reply.
func Fail(req protocol.IncomingRequest, code, format string, args ...any) protocol.Response {
	return &protocol.ErrorResponse{Envelope: env(req), ErrCode: code, Message: fmt.Sprintf(format, args...)}
}

// Ok builds an empty success reply.
func Ok(req protocol.IncomingRequest) protocol.Response {
	return &protocol.OkResponse{Envelope: env(req)}
}
