package protocol

import (
	"io"
	"strconv"
)

// IncomingRequest is a request as seen from the core's side of the pipe.
type IncomingRequest struct {
	Code string
	ID   string
	Args []Arg
}

// RequestDecoder parses requests written by an Encoder.
type RequestDecoder struct {
	r *Reader
}

func NewRequestDecoder(r io.Reader, limits Limits) *RequestDecoder {
	return &RequestDecoder{r: NewReader(r, limits)}
}

// Next reads one request. A clean end of stream before a message opening is
// reported as io.EOF.
func (d *RequestDecoder) Next() (IncomingRequest, error) {
	d.r.resetLast()
	if _, err := d.r.br.Peek(1); err == io.EOF {
		return IncomingRequest{}, io.EOF
	}
	if err := d.r.eatEscChar(markOpen); err != nil {
		return IncomingRequest{}, err
	}
	code, err := d.r.readStringToEscape()
	if err != nil {
		return IncomingRequest{}, err
	}
	if err := d.r.eatEscChar(markID); err != nil {
		return IncomingRequest{}, err
	}
	id, err := d.r.readStringToEscape()
	if err != nil {
		return IncomingRequest{}, err
	}
	if err := d.r.eatEscChar(markBody); err != nil {
		return IncomingRequest{}, err
	}
	args, err := d.readArgs()
	if err != nil {
		return IncomingRequest{}, err
	}
	return IncomingRequest{Code: code, ID: id, Args: args}, nil
}

// LastMessage returns the raw bytes of the most recent request.
func (d *RequestDecoder) LastMessage() []byte {
	return d.r.LastMessage()
}

func (d *RequestDecoder) readArgs() ([]Arg, error) {
	var args []Arg
	for {
		pair, err := d.r.peek2()
		if err != nil {
			return nil, err
		}
		if pair[0] == Esc && pair[1] == markClose && len(args) == 0 {
			d.r.readByte()
			d.r.readByte()
			return args, nil
		}
		arg, err := d.readArg()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)

		if err := d.r.eatEsc(); err != nil {
			return nil, err
		}
		mark, err := d.r.readByte()
		if err != nil {
			return nil, err
		}
		switch mark {
		case markClose:
			return args, nil
		case markDelim:
		default:
			return nil, malformed("expected argument delimiter, got %s", describeByte(mark))
		}
	}
}

// readArg tells the argument layouts apart by what follows: a chunk opens
// with ESC [, a tagged chunk with ESC and a letter, a list is a decimal count
// followed by ESC :, anything else is a plain string.
func (d *RequestDecoder) readArg() (Arg, error) {
	pair, err := d.r.peek2()
	if err != nil {
		return Arg{}, err
	}
	if pair[0] == Esc && pair[1] == markChunk {
		data, err := d.r.readDataBlock()
		if err != nil {
			return Arg{}, err
		}
		return Arg{Kind: ArgChunk, Data: data}, nil
	}
	if pair[0] == Esc && IsTag(pair[1]) {
		d.r.readByte()
		d.r.readByte()
		data, err := d.r.readDataBlock()
		if err != nil {
			return Arg{}, err
		}
		return Arg{Kind: ArgTaggedChunk, Tag: pair[1], Data: data}, nil
	}
	text, err := d.r.readStringToEscape()
	if err != nil {
		return Arg{}, err
	}
	pair, err = d.r.peek2()
	if err != nil {
		return Arg{}, err
	}
	if pair[1] != markID {
		return Arg{Kind: ArgString, Text: text}, nil
	}
	count, err := strconv.Atoi(text)
	if err != nil || count < 0 {
		return Arg{}, malformed("invalid list length %q", text)
	}
	d.r.readByte()
	d.r.readByte()
	items, err := d.r.readListItems(count)
	if err != nil {
		return Arg{}, err
	}
	return Arg{Kind: ArgList, Items: items}, nil
}
