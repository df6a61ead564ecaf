package protocol

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Encoder writes requests to the core, one message at a time.
// It is not safe for concurrent use.
type Encoder struct {
	w      *bufio.Writer
	nextID uint64
	open   *Request
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w), nextID: 1}
}

// Begin opens a request with a fresh id. Only one request may be open at a
// time; the previous one must be closed first.
func (e *Encoder) Begin(code string) (*Request, error) {
	if e.open != nil {
		return nil, fmt.Errorf("%w: request %s (%s) not closed", ErrRequestInFlight, e.open.id, e.open.code)
	}
	if err := validateCode(code); err != nil {
		return nil, err
	}
	q := &Request{enc: e, code: code, id: strconv.FormatUint(e.nextID, 10)}
	e.nextID++
	writeHeader(&q.buf, code, q.id)
	e.open = q
	return q, nil
}

// InFlight reports whether a request is open.
func (e *Encoder) InFlight() bool {
	return e.open != nil
}

func (e *Encoder) send(q *Request) error {
	e.open = nil
	if _, err := e.w.Write(q.buf.Bytes()); err != nil {
		return e.fail(q, err)
	}
	if err := e.w.Flush(); err != nil {
		return e.fail(q, err)
	}
	log.Trace().Str("component", "protocol").
		Str("code", q.code).
		Str("id", q.id).
		Str("raw", Render(q.buf.Bytes())).
		Msg("sent message to core")
	return nil
}

func (e *Encoder) fail(q *Request, err error) error {
	err = streamError(err)
	log.Error().Str("component", "protocol").
		Str("code", q.code).
		Str("id", q.id).
		Str("raw", Render(q.buf.Bytes())).
		Err(err).
		Msg("failed to send message to core")
	return err
}

func validateCode(code string) error {
	if code == "" {
		return fmt.Errorf("%w: empty", ErrInvalidCode)
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if c <= 0x20 || c >= 0x7f {
			return fmt.Errorf("%w: %q", ErrInvalidCode, code)
		}
	}
	return nil
}
