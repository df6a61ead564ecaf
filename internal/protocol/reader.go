package protocol

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
)

const maxDiagBytes = 4096

// Reader holds the read-side framing primitives over a raw byte stream.
// It keeps a copy of the bytes of the current message for diagnostics.
type Reader struct {
	br     *bufio.Reader
	limits Limits
	last   bytes.Buffer
	cut    bool
}

func NewReader(r io.Reader, limits Limits) *Reader {
	return &Reader{br: bufio.NewReader(r), limits: limits.withDefaults()}
}

// LastMessage returns the raw bytes seen since the last message opening.
func (r *Reader) LastMessage() []byte {
	return append([]byte(nil), r.last.Bytes()...)
}

func (r *Reader) resetLast() {
	r.last.Reset()
	r.cut = false
}

func (r *Reader) record(p ...byte) {
	if r.cut {
		return
	}
	if r.last.Len()+len(p) > maxDiagBytes {
		r.last.Write(p[:maxDiagBytes-r.last.Len()])
		r.last.WriteString("...")
		r.cut = true
		return
	}
	r.last.Write(p)
}

// drainBuffered moves bytes that are already buffered into the diagnostic
// record without blocking on the stream.
func (r *Reader) drainBuffered() {
	n := r.br.Buffered()
	if n == 0 {
		return
	}
	buf := make([]byte, n)
	n, _ = r.br.Read(buf)
	r.record(buf[:n]...)
}

func (r *Reader) readByte() (byte, error) {
	b, err := r.br.ReadByte()
	if err != nil {
		return 0, streamError(err)
	}
	r.record(b)
	return b, nil
}

// peek2 returns the next two bytes without consuming them.
func (r *Reader) peek2() ([]byte, error) {
	p, err := r.br.Peek(2)
	if err != nil {
		return nil, streamError(err)
	}
	return p, nil
}

func (r *Reader) eatEsc() error {
	b, err := r.readByte()
	if err != nil {
		return err
	}
	if b != Esc {
		return malformed("expected ESC, got %s", describeByte(b))
	}
	return nil
}

func (r *Reader) eatChar(want byte) error {
	b, err := r.readByte()
	if err != nil {
		return err
	}
	if b != want {
		return malformed("expected %s, got %s", describeByte(want), describeByte(b))
	}
	return nil
}

func (r *Reader) eatEscChar(want byte) error {
	if err := r.eatEsc(); err != nil {
		return err
	}
	return r.eatChar(want)
}

// readToEscape collects bytes up to the next unescaped ESC, which is left
// unread. ESC ESC pairs collapse to a single ESC.
func (r *Reader) readToEscape() ([]byte, error) {
	out := make([]byte, 0, 16)
	for {
		next, err := r.br.Peek(1)
		if err != nil {
			return nil, streamError(err)
		}
		if next[0] != Esc {
			b, _ := r.readByte()
			out = append(out, b)
			continue
		}
		pair, err := r.peek2()
		if err != nil {
			return nil, err
		}
		if pair[1] != Esc {
			return out, nil
		}
		// escaped ESC
		r.readByte()
		r.readByte()
		out = append(out, Esc)
	}
}

func (r *Reader) readIntToEscape() (int, error) {
	raw, err := r.readToEscape()
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, malformed("expected a decimal integer, got %q", Render(raw))
	}
	return n, nil
}

func (r *Reader) readStringToEscape() (string, error) {
	raw, err := r.readToEscape()
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// readDataBlock reads ESC [ length ESC | bytes ESC ].
func (r *Reader) readDataBlock() ([]byte, error) {
	return r.readChunk(nil)
}

// readChunk reads one data chunk. When raw is non-nil the chunk is also
// appended to it exactly as it was framed on the wire.
func (r *Reader) readChunk(raw *bytes.Buffer) ([]byte, error) {
	if err := r.eatEscChar(markChunk); err != nil {
		return nil, err
	}
	digits, err := r.readToEscape()
	if err != nil {
		return nil, err
	}
	length, err := strconv.Atoi(string(digits))
	if err != nil {
		return nil, malformed("expected a decimal integer, got %q", Render(digits))
	}
	if length < 0 {
		return nil, malformed("data chunk length cannot be negative: %d", length)
	}
	if length > r.limits.MaxChunkBytes {
		return nil, malformed("data chunk length %d exceeds limit %d", length, r.limits.MaxChunkBytes)
	}
	if err := r.eatEscChar(markBody); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	n, err := io.ReadFull(r.br, buf)
	r.record(buf[:n]...)
	if err != nil {
		return nil, streamError(err)
	}
	if err := r.eatEscChar(markChunkEnd); err != nil {
		return nil, err
	}
	if raw != nil {
		raw.Write([]byte{Esc, markChunk})
		raw.Write(digits)
		raw.Write([]byte{Esc, markBody})
		raw.Write(buf)
		raw.Write([]byte{Esc, markChunkEnd})
	}
	return buf, nil
}

// readStringList reads count ESC : s0 ESC , s1 ... s(n-1).
func (r *Reader) readStringList() ([]string, error) {
	count, err := r.readIntToEscape()
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, malformed("list length cannot be negative: %d", count)
	}
	if err := r.eatEscChar(markID); err != nil {
		return nil, err
	}
	return r.readListItems(count)
}

func (r *Reader) readListItems(count int) ([]string, error) {
	items := make([]string, 0, min(count, 1024))
	for i := 0; i < count; i++ {
		item, err := r.readStringToEscape()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if i+1 < count {
			if err := r.eatEscChar(markListSep); err != nil {
				return nil, err
			}
		}
	}
	return items, nil
}

// skipToBodyEnd advances to the ESC > terminating the current message and
// leaves it unread. Embedded data chunks are consumed whole so payload bytes
// are never taken for structure. The skipped bytes are returned verbatim.
func (r *Reader) skipToBodyEnd() ([]byte, error) {
	var raw bytes.Buffer
	for {
		next, err := r.br.Peek(1)
		if err != nil {
			return nil, streamError(err)
		}
		if next[0] != Esc {
			b, _ := r.readByte()
			raw.WriteByte(b)
			continue
		}
		pair, err := r.peek2()
		if err != nil {
			return nil, err
		}
		mark := pair[1]
		switch mark {
		case markClose:
			return raw.Bytes(), nil
		case markChunk:
			if _, err := r.readChunk(&raw); err != nil {
				return nil, err
			}
		default:
			r.readByte()
			r.readByte()
			raw.Write([]byte{Esc, mark})
		}
	}
}
