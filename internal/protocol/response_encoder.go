package protocol

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// ResponseEncoder writes responses the way the core does. It exists for test
// doubles and tooling that stand in for the core process.
type ResponseEncoder struct {
	w *bufio.Writer
}

func NewResponseEncoder(w io.Writer) *ResponseEncoder {
	return &ResponseEncoder{w: bufio.NewWriter(w)}
}

// WriteVersion writes the one-time handshake message.
func (e *ResponseEncoder) WriteVersion(version string) error {
	var buf bytes.Buffer
	buf.Write([]byte{Esc, markOpen, versionMarker, Esc, markBody})
	writeEscaped(&buf, []byte(version))
	buf.Write([]byte{Esc, markClose})
	return e.flush(buf.Bytes())
}

// Write encodes resp and flushes it.
func (e *ResponseEncoder) Write(resp Response) error {
	p, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	return e.flush(p)
}

// WriteRaw writes p unchanged. Useful for emitting deliberately broken
// messages.
func (e *ResponseEncoder) WriteRaw(p []byte) error {
	return e.flush(p)
}

func (e *ResponseEncoder) flush(p []byte) error {
	if _, err := e.w.Write(p); err != nil {
		return streamError(err)
	}
	return streamError(e.w.Flush())
}

// EncodeResponse returns the wire form of resp.
func EncodeResponse(resp Response) ([]byte, error) {
	var buf bytes.Buffer
	writeHeader(&buf, resp.Code(), resp.RequestID())
	switch r := resp.(type) {
	case *ErrorResponse:
		writePair(&buf, r.ErrCode, r.Message)
	case *OkResponse:
	case *ConsoleResponse:
		buf.Write(encodeChunk([]byte(r.Output)))
	case *ConsoleHelpResponse:
		writePair(&buf, r.Args, r.Help)
	case *RawDataResponse:
		buf.Write(encodeChunk(r.Data))
	case *PrettyResponse:
		buf.Write(encodeChunk([]byte(r.Text)))
	case *XMLResponse:
		buf.Write(encodeChunk([]byte(r.XML)))
	case *JSONResponse:
		buf.Write(encodeChunk(r.Data))
	case *CountResponse:
		buf.WriteString(strconv.Itoa(r.Count))
	case *NameResponse:
		writeEscaped(&buf, []byte(r.Name))
	case *NameListResponse:
		writeStringList(&buf, r.Names)
	case *UserDataResponse:
		buf.Write(encodeChunk(r.Data))
	case *StructuredDataResponse:
		buf.Write(r.Raw)
	case *UnknownRequestResponse:
		writeEscaped(&buf, []byte(r.RequestCode))
	case *UnknownResponse:
		buf.Write(r.Raw)
	default:
		return nil, fmt.Errorf("protocol: cannot encode response %T", resp)
	}
	buf.Write([]byte{Esc, markClose})
	return buf.Bytes(), nil
}

func writePair(buf *bytes.Buffer, first, second string) {
	writeEscaped(buf, []byte(first))
	buf.Write([]byte{Esc, markDelim})
	writeEscaped(buf, []byte(second))
}
