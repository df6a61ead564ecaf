package tap

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/danmuck/corelink/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
)

// LogSink writes each record to a zerolog logger at debug level.
type LogSink struct {
	Logger zerolog.Logger
}

// NewLogSink logs through the global logger.
func NewLogSink() *LogSink {
	return &LogSink{Logger: log.Logger.With().Str("component", "tap").Logger()}
}

func (s *LogSink) Observe(rec Record) error {
	s.Logger.Debug().
		Str("dir", rec.Dir.String()).
		Int("bytes", len(rec.Data)).
		Str("raw", protocol.Render(rec.Data)).
		Msg("protocol traffic")
	return nil
}

// WriterSink renders each record as one text line on W.
type WriterSink struct {
	W io.Writer
}

func (s *WriterSink) Observe(rec Record) error {
	_, err := fmt.Fprintf(s.W, "%s %s\n", rec.Dir.Arrow(), protocol.Render(rec.Data))
	return err
}

// TranscriptSink appends records to a msgpack stream that ReadTranscript
// can replay.
type TranscriptSink struct {
	mu     sync.Mutex
	enc    *msgpack.Encoder
	closer io.Closer
}

func NewTranscriptSink(w io.Writer) *TranscriptSink {
	s := &TranscriptSink{enc: msgpack.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

func (s *TranscriptSink) Observe(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enc == nil {
		return errTranscriptClosed
	}
	return s.enc.Encode(&rec)
}

// Close closes the underlying writer if it is closable.
func (s *TranscriptSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enc = nil
	if s.closer == nil {
		return nil
	}
	c := s.closer
	s.closer = nil
	return c.Close()
}

var errTranscriptClosed = errors.New("tap: transcript closed")

// ReadTranscript decodes every record in r.
func ReadTranscript(r io.Reader) ([]Record, error) {
	dec := msgpack.NewDecoder(r)
	var out []Record
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("tap: read transcript record %d: %w", len(out), err)
		}
		out = append(out, rec)
	}
}

func logSinkFailure(s Sink, err error) {
	log.Warn().Str("component", "tap").
		Str("sink", fmt.Sprintf("%T", s)).
		Err(err).
		Msg("dropping failed tap sink")
}
