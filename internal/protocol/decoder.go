package protocol

import (
	"errors"
	"io"

	"github.com/rs/zerolog/log"
)

// Decoder reads responses from the core, one complete message per call.
// It is not safe for concurrent use.
type Decoder struct {
	r       *Reader
	version string
	ready   bool
}

func NewDecoder(r io.Reader, limits Limits) *Decoder {
	return &Decoder{r: NewReader(r, limits)}
}

// WaitForReady consumes the core's one-time version message.
// Subsequent calls return immediately.
func (d *Decoder) WaitForReady() error {
	if d.ready {
		return nil
	}
	d.r.resetLast()
	if err := d.readVersion(); err != nil {
		d.logFailure("version message", err)
		return err
	}
	d.ready = true
	log.Trace().Str("component", "protocol").Str("version", d.version).Msg("received version message")
	return nil
}

func (d *Decoder) readVersion() error {
	if err := d.r.eatEscChar(markOpen); err != nil {
		return err
	}
	if err := d.r.eatChar(versionMarker); err != nil {
		return err
	}
	if err := d.r.eatEscChar(markBody); err != nil {
		return err
	}
	version, err := d.r.readStringToEscape()
	if err != nil {
		return err
	}
	if err := d.r.eatEscChar(markClose); err != nil {
		return err
	}
	d.version = version
	return nil
}

// Version returns the protocol version announced by the core, waiting for
// the handshake if it has not happened yet.
func (d *Decoder) Version() (string, error) {
	if err := d.WaitForReady(); err != nil {
		return "", err
	}
	return d.version, nil
}

// LastMessage returns the raw bytes of the most recent message, including
// anything drained after a decode failure.
func (d *Decoder) LastMessage() []byte {
	return d.r.LastMessage()
}

// Next blocks until one complete response has been read.
// Error bodies come back as *ErrorResponse; turning them into errors is the
// caller's job.
func (d *Decoder) Next() (Response, error) {
	if err := d.WaitForReady(); err != nil {
		return nil, err
	}
	d.r.resetLast()
	resp, err := d.next()
	if err != nil {
		d.logFailure("message", err)
		return nil, err
	}
	log.Trace().Str("component", "protocol").
		Str("code", resp.Code()).
		Str("id", resp.RequestID()).
		Str("raw", Render(d.r.last.Bytes())).
		Msg("received message")
	return resp, nil
}

func (d *Decoder) next() (Response, error) {
	if err := d.r.eatEscChar(markOpen); err != nil {
		return nil, err
	}
	raw, err := d.r.readToEscape()
	if err != nil {
		return nil, err
	}
	code := string(raw)
	if err := d.r.eatEscChar(markID); err != nil {
		return nil, err
	}
	id, err := d.r.readStringToEscape()
	if err != nil {
		return nil, err
	}
	if err := d.r.eatEscChar(markBody); err != nil {
		return nil, err
	}
	resp, err := d.parseBody(code, Envelope{ID: id})
	if err != nil {
		return nil, err
	}
	if err := d.r.eatEscChar(markClose); err != nil {
		return nil, err
	}
	return resp, nil
}

func (d *Decoder) parseBody(code string, env Envelope) (Response, error) {
	switch code {
	case CodeError:
		errCode, message, err := d.readPair()
		if err != nil {
			return nil, err
		}
		return &ErrorResponse{Envelope: env, ErrCode: errCode, Message: message}, nil
	case CodeOk:
		return &OkResponse{Envelope: env}, nil
	case CodeConsole:
		data, err := d.r.readDataBlock()
		if err != nil {
			return nil, err
		}
		return &ConsoleResponse{Envelope: env, Output: string(data)}, nil
	case CodeConsoleHelp:
		args, help, err := d.readPair()
		if err != nil {
			return nil, err
		}
		return &ConsoleHelpResponse{Envelope: env, Args: args, Help: help}, nil
	case CodeRawData:
		data, err := d.r.readDataBlock()
		if err != nil {
			return nil, err
		}
		return &RawDataResponse{Envelope: env, Data: data}, nil
	case CodePretty:
		data, err := d.r.readDataBlock()
		if err != nil {
			return nil, err
		}
		return &PrettyResponse{Envelope: env, Text: string(data)}, nil
	case CodeXML:
		data, err := d.r.readDataBlock()
		if err != nil {
			return nil, err
		}
		return &XMLResponse{Envelope: env, XML: string(data)}, nil
	case CodeJSON:
		data, err := d.r.readDataBlock()
		if err != nil {
			return nil, err
		}
		return &JSONResponse{Envelope: env, Data: data}, nil
	case CodeCount:
		n, err := d.r.readIntToEscape()
		if err != nil {
			return nil, err
		}
		return &CountResponse{Envelope: env, Count: n}, nil
	case CodeName:
		name, err := d.r.readStringToEscape()
		if err != nil {
			return nil, err
		}
		return &NameResponse{Envelope: env, Name: name}, nil
	case CodeNameList:
		names, err := d.r.readStringList()
		if err != nil {
			return nil, err
		}
		return &NameListResponse{Envelope: env, Names: names}, nil
	case CodeUserData:
		data, err := d.r.readDataBlock()
		if err != nil {
			return nil, err
		}
		return &UserDataResponse{Envelope: env, Data: data}, nil
	case CodeStructuredData:
		raw, err := d.r.skipToBodyEnd()
		if err != nil {
			return nil, err
		}
		return &StructuredDataResponse{Envelope: env, Raw: raw}, nil
	case CodeUnknownRequest:
		reqCode, err := d.r.readStringToEscape()
		if err != nil {
			return nil, err
		}
		return &UnknownRequestResponse{Envelope: env, RequestCode: reqCode}, nil
	default:
		raw, err := d.r.skipToBodyEnd()
		if err != nil {
			return nil, err
		}
		log.Debug().Str("component", "protocol").Str("code", code).Msg("skipped unknown response type")
		return &UnknownResponse{Envelope: env, ResponseCode: code, Raw: raw}, nil
	}
}

// readPair reads two strings separated by ESC ;.
func (d *Decoder) readPair() (string, string, error) {
	first, err := d.r.readStringToEscape()
	if err != nil {
		return "", "", err
	}
	if err := d.r.eatEscChar(markDelim); err != nil {
		return "", "", err
	}
	second, err := d.r.readStringToEscape()
	if err != nil {
		return "", "", err
	}
	return first, second, nil
}

func (d *Decoder) logFailure(what string, err error) {
	msg := "received invalid " + what
	if errors.Is(err, ErrMalformedMessage) {
		d.r.drainBuffered()
	}
	if errors.Is(err, ErrCoreTerminated) {
		msg = "received partial " + what
	}
	log.Error().Str("component", "protocol").
		Str("raw", Render(d.r.last.Bytes())).
		Err(err).
		Msg(msg)
}
