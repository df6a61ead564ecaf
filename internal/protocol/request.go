package protocol

import (
	"bytes"
	"fmt"
	"strconv"
)

// ArgKind identifies how an argument is laid out on the wire.
type ArgKind uint8

const (
	ArgString ArgKind = iota + 1
	ArgChunk
	ArgList
	ArgTaggedChunk
)

func (k ArgKind) String() string {
	switch k {
	case ArgString:
		return "string"
	case ArgChunk:
		return "chunk"
	case ArgList:
		return "list"
	case ArgTaggedChunk:
		return "tagged-chunk"
	default:
		return "unknown"
	}
}

// Arg is one request argument.
type Arg struct {
	Kind  ArgKind
	Text  string
	Data  []byte
	Items []string
	Tag   byte
}

// String creates a plain string argument.
func String(s string) Arg {
	return Arg{Kind: ArgString, Text: s}
}

// Int creates a decimal string argument.
func Int(n int) Arg {
	return Arg{Kind: ArgString, Text: strconv.Itoa(n)}
}

// Chunk creates a length-prefixed, binary-safe argument.
func Chunk(p []byte) Arg {
	buf := make([]byte, len(p))
	copy(buf, p)
	return Arg{Kind: ArgChunk, Data: buf}
}

// ChunkString creates a data chunk argument holding the UTF-8 bytes of s.
func ChunkString(s string) Arg {
	return Arg{Kind: ArgChunk, Data: []byte(s)}
}

// Tagged creates a data chunk preceded by ESC tag. The tag is an ASCII
// letter telling the core how to interpret the payload.
func Tagged(tag byte, p []byte) Arg {
	arg := Chunk(p)
	arg.Kind = ArgTaggedChunk
	arg.Tag = tag
	return arg
}

// IsTag reports whether b may be used as a chunk tag.
func IsTag(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

// List creates a count-prefixed string list argument.
func List(items []string) Arg {
	return Arg{Kind: ArgList, Items: append([]string(nil), items...)}
}

// Request is one outbound message under construction. It is built in memory
// and written by Close; after Close it cannot be used again.
type Request struct {
	enc    *Encoder
	code   string
	id     string
	buf    bytes.Buffer
	nargs  int
	closed bool
}

func (q *Request) ID() string {
	return q.id
}

func (q *Request) Code() string {
	return q.code
}

// Size is the encoded length so far, terminator included once closed.
func (q *Request) Size() int {
	return q.buf.Len()
}

// Add appends arguments in order.
func (q *Request) Add(args ...Arg) error {
	if q.closed {
		return ErrRequestClosed
	}
	for i, arg := range args {
		if arg.Kind < ArgString || arg.Kind > ArgTaggedChunk {
			return fmt.Errorf("protocol: argument %d has unsupported kind %d", i, arg.Kind)
		}
		if arg.Kind == ArgTaggedChunk && !IsTag(arg.Tag) {
			return fmt.Errorf("protocol: argument %d has invalid chunk tag %s", i, describeByte(arg.Tag))
		}
	}
	for _, arg := range args {
		if q.nargs > 0 {
			q.buf.Write([]byte{Esc, markDelim})
		}
		switch arg.Kind {
		case ArgString:
			writeEscaped(&q.buf, []byte(arg.Text))
		case ArgChunk:
			q.buf.Write(encodeChunk(arg.Data))
		case ArgList:
			writeStringList(&q.buf, arg.Items)
		case ArgTaggedChunk:
			q.buf.Write([]byte{Esc, arg.Tag})
			q.buf.Write(encodeChunk(arg.Data))
		}
		q.nargs++
	}
	return nil
}

func (q *Request) AddString(s string) error {
	return q.Add(String(s))
}

func (q *Request) AddInt(n int) error {
	return q.Add(Int(n))
}

func (q *Request) AddDataChunk(p []byte) error {
	return q.Add(Arg{Kind: ArgChunk, Data: p})
}

func (q *Request) AddTaggedDataChunk(tag byte, p []byte) error {
	return q.Add(Arg{Kind: ArgTaggedChunk, Tag: tag, Data: p})
}

func (q *Request) AddStringList(items []string) error {
	return q.Add(Arg{Kind: ArgList, Items: items})
}

// Close terminates the message, writes it and flushes the stream.
func (q *Request) Close() error {
	if q.closed {
		return ErrRequestClosed
	}
	q.closed = true
	q.buf.Write([]byte{Esc, markClose})
	return q.enc.send(q)
}

// Discard abandons an unsent request and frees the encoder for the next one.
// The request id is not reused.
func (q *Request) Discard() {
	if q.closed {
		return
	}
	q.closed = true
	if q.enc.open == q {
		q.enc.open = nil
	}
}

func writeHeader(buf *bytes.Buffer, code, id string) {
	buf.Write([]byte{Esc, markOpen})
	buf.WriteString(code)
	buf.Write([]byte{Esc, markID})
	writeEscaped(buf, []byte(id))
	buf.Write([]byte{Esc, markBody})
}

// writeEscaped writes p with every ESC doubled.
func writeEscaped(buf *bytes.Buffer, p []byte) {
	for len(p) > 0 {
		i := bytes.IndexByte(p, Esc)
		if i < 0 {
			buf.Write(p)
			return
		}
		buf.Write(p[:i+1])
		buf.WriteByte(Esc)
		p = p[i+1:]
	}
}

func encodeChunk(p []byte) []byte {
	length := strconv.Itoa(len(p))
	out := make([]byte, 0, len(p)+len(length)+6)
	out = append(out, Esc, markChunk)
	out = append(out, length...)
	out = append(out, Esc, markBody)
	out = append(out, p...)
	out = append(out, Esc, markChunkEnd)
	return out
}

func writeStringList(buf *bytes.Buffer, items []string) {
	buf.WriteString(strconv.Itoa(len(items)))
	buf.Write([]byte{Esc, markID})
	for i, item := range items {
		if i > 0 {
			buf.Write([]byte{Esc, markListSep})
		}
		writeEscaped(buf, []byte(item))
	}
}
