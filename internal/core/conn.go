package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/danmuck/corelink/internal/observability"
	"github.com/danmuck/corelink/internal/protocol"
	"github.com/danmuck/corelink/internal/protocol/tap"
	"github.com/rs/zerolog/log"
)

// ConnConfig wires a Conn to its surroundings. Every field is optional.
type ConnConfig struct {
	Limits  protocol.Limits
	Tap     *tap.Tap
	Metrics *observability.Metrics
	Session string
	// Exited reports whether the peer process has gone away. It decides
	// whether an I/O failure is reported as core termination.
	Exited func() bool
}

// Conn runs synchronous request/response cycles over one pair of streams.
// Calls are serialized; at most one request is in flight at any time.
type Conn struct {
	mu     sync.Mutex
	enc    *protocol.Encoder
	dec    *protocol.Decoder
	cfg    ConnConfig
	broken error
}

func NewConn(r io.Reader, w io.Writer, cfg ConnConfig) *Conn {
	return &Conn{
		enc: protocol.NewEncoder(cfg.Tap.Writer(w)),
		dec: protocol.NewDecoder(cfg.Tap.Reader(r), cfg.Limits),
		cfg: cfg,
	}
}

// Handshake waits for the core's version message and returns the version.
func (c *Conn) Handshake() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken != nil {
		return "", c.broken
	}
	version, err := c.dec.Version()
	if err != nil {
		return "", c.fail(err, true)
	}
	return version, nil
}

// Err returns the error that invalidated the connection, if any.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broken
}

// Call sends one request and returns the core's answer. Error and
// UnknownRequest replies come back as errors, and the connection stays
// usable after them. Framing and stream failures are fatal: every later call
// returns the same error.
//
// ctx is only consulted before the request is written; a cycle in progress
// cannot be cancelled except by closing the streams.
func (c *Conn) Call(ctx context.Context, code string, args ...protocol.Arg) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, span := observability.StartCall(ctx, c.cfg.Session, code)
	start := time.Now()
	var (
		requestID string
		size      int
	)
	resp, err := c.call(ctx, code, args, &requestID, &size)
	c.cfg.Metrics.RecordCall(code, size, time.Since(start), err)
	observability.EndCall(span, requestID, err)
	return resp, err
}

func (c *Conn) call(ctx context.Context, code string, args []protocol.Arg, requestID *string, size *int) (protocol.Response, error) {
	if c.broken != nil {
		return nil, c.broken
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q, err := c.enc.Begin(code)
	if err != nil {
		return nil, err
	}
	*requestID = q.ID()
	if err := q.Add(args...); err != nil {
		q.Discard()
		return nil, err
	}
	if err := q.Close(); err != nil {
		return nil, c.fail(err, false)
	}
	*size = q.Size()

	resp, err := c.dec.Next()
	if err != nil {
		return nil, c.fail(err, true)
	}
	if resp.RequestID() != q.ID() {
		err := fmt.Errorf("%w: response id %q does not answer request %q (%s)",
			protocol.ErrMalformedMessage, resp.RequestID(), q.ID(), code)
		return nil, c.fail(err, true)
	}

	switch r := resp.(type) {
	case *protocol.ErrorResponse:
		err := protocol.ErrorFromResponse(r)
		log.Debug().Str("component", "conn").
			Str("code", code).
			Str("id", q.ID()).
			Str("error_code", r.ErrCode).
			Msg("core reported command failure")
		return resp, err
	case *protocol.UnknownRequestResponse:
		return resp, &protocol.UnknownCommandError{Command: r.RequestCode}
	}
	return resp, nil
}

// fail marks the connection broken for fatal errors. A failure seen while the
// core has exited is reported as termination, with whatever the core printed
// last when the failure happened on the read side.
func (c *Conn) fail(err error, reading bool) error {
	if !protocol.IsFatal(err) {
		return err
	}
	if !errors.Is(err, protocol.ErrCoreTerminated) && c.cfg.Exited != nil && c.cfg.Exited() {
		err = fmt.Errorf("%w: %v", protocol.ErrCoreTerminated, err)
	}
	if reading && errors.Is(err, protocol.ErrCoreTerminated) {
		if last := c.dec.LastMessage(); len(last) > 0 {
			err = fmt.Errorf("%w; the core terminated with the following output: %s", err, protocol.Render(last))
		}
	}
	c.broken = err
	log.Error().Str("component", "conn").Str("session", c.cfg.Session).Err(err).Msg("connection to core lost")
	return err
}

// contractViolation is reported when the core answers with a response type
// the command does not document.
func (c *Conn) contractViolation(code string, want string, got protocol.Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := fmt.Errorf("%w: %s expects a %s response, core sent %s (code %q)",
		protocol.ErrMalformedMessage, code, want, got.Type(), got.Code())
	if c.broken == nil {
		c.broken = err
	}
	log.Error().Str("component", "conn").Str("session", c.cfg.Session).Err(err).Msg("core violated response contract")
	return err
}

// Expect runs code and requires the answer to be of type T.
func Expect[T protocol.Response](ctx context.Context, c *Conn, code string, args ...protocol.Arg) (T, error) {
	var zero T
	resp, err := c.Call(ctx, code, args...)
	if err != nil {
		return zero, err
	}
	out, ok := resp.(T)
	if !ok {
		return zero, c.contractViolation(code, zero.Type().String(), resp)
	}
	return out, nil
}

func (c *Conn) Ok(ctx context.Context, code string, args ...protocol.Arg) error {
	_, err := Expect[*protocol.OkResponse](ctx, c, code, args...)
	return err
}

func (c *Conn) Name(ctx context.Context, code string, args ...protocol.Arg) (string, error) {
	resp, err := Expect[*protocol.NameResponse](ctx, c, code, args...)
	if err != nil {
		return "", err
	}
	return resp.Name, nil
}

func (c *Conn) NameList(ctx context.Context, code string, args ...protocol.Arg) ([]string, error) {
	resp, err := Expect[*protocol.NameListResponse](ctx, c, code, args...)
	if err != nil {
		return nil, err
	}
	return resp.Names, nil
}

func (c *Conn) Count(ctx context.Context, code string, args ...protocol.Arg) (int, error) {
	resp, err := Expect[*protocol.CountResponse](ctx, c, code, args...)
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (c *Conn) RawData(ctx context.Context, code string, args ...protocol.Arg) ([]byte, error) {
	resp, err := Expect[*protocol.RawDataResponse](ctx, c, code, args...)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Conn) XML(ctx context.Context, code string, args ...protocol.Arg) (string, error) {
	resp, err := Expect[*protocol.XMLResponse](ctx, c, code, args...)
	if err != nil {
		return "", err
	}
	return resp.XML, nil
}

func (c *Conn) JSON(ctx context.Context, code string, args ...protocol.Arg) (json.RawMessage, error) {
	resp, err := Expect[*protocol.JSONResponse](ctx, c, code, args...)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Conn) Console(ctx context.Context, code string, args ...protocol.Arg) (string, error) {
	resp, err := Expect[*protocol.ConsoleResponse](ctx, c, code, args...)
	if err != nil {
		return "", err
	}
	return resp.Output, nil
}

func (c *Conn) ConsoleHelp(ctx context.Context, code string, args ...protocol.Arg) (string, string, error) {
	resp, err := Expect[*protocol.ConsoleHelpResponse](ctx, c, code, args...)
	if err != nil {
		return "", "", err
	}
	return resp.Args, resp.Help, nil
}

func (c *Conn) Pretty(ctx context.Context, code string, args ...protocol.Arg) (string, error) {
	resp, err := Expect[*protocol.PrettyResponse](ctx, c, code, args...)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (c *Conn) UserData(ctx context.Context, code string, args ...protocol.Arg) ([]byte, error) {
	resp, err := Expect[*protocol.UserDataResponse](ctx, c, code, args...)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}
