// Package tap mirrors raw protocol bytes to diagnostic sinks.
//
// Ownership boundary:
// - tap sees bytes after they are written and after they are read; it never
//   alters them, and toggling it has no effect on the protocol stream.
package tap

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// EnvDebug enables the tap at startup when set to a true value.
const EnvDebug = "CORELINK_PROTOCOL_DEBUG"

// Direction says which way bytes were travelling.
type Direction uint8

const (
	ToCore Direction = iota + 1
	FromCore
)

func (d Direction) String() string {
	switch d {
	case ToCore:
		return "to-core"
	case FromCore:
		return "from-core"
	default:
		return "unknown"
	}
}

// Arrow is the short prefix used when rendering a direction as text.
func (d Direction) Arrow() string {
	if d == ToCore {
		return ">>"
	}
	return "<<"
}

// Record is one observed slice of traffic.
type Record struct {
	Dir  Direction `msgpack:"dir"`
	At   time.Time `msgpack:"at"`
	Data []byte    `msgpack:"data"`
}

// Sink receives mirrored traffic. Observe must not retain rec.Data.
type Sink interface {
	Observe(rec Record) error
}

// Tap fans traffic out to its sinks while active.
type Tap struct {
	active atomic.Bool
	mu     sync.Mutex
	sinks  []Sink
	now    func() time.Time
}

func New(sinks ...Sink) *Tap {
	return &Tap{sinks: sinks, now: time.Now}
}

// EnabledFromEnv reports whether EnvDebug asks for the tap.
func EnabledFromEnv() bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(EnvDebug)))
	return err == nil && v
}

func (t *Tap) SetActive(on bool) {
	if t == nil {
		return
	}
	t.active.Store(on)
}

func (t *Tap) Active() bool {
	return t != nil && t.active.Load()
}

func (t *Tap) AddSink(s Sink) {
	t.mu.Lock()
	t.sinks = append(t.sinks, s)
	t.mu.Unlock()
}

// Observe copies p to every sink. A sink that fails is logged and removed.
func (t *Tap) Observe(dir Direction, p []byte) {
	if !t.Active() || len(p) == 0 {
		return
	}
	rec := Record{Dir: dir, At: t.now(), Data: p}
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.sinks[:0]
	for _, s := range t.sinks {
		if err := s.Observe(rec); err != nil {
			logSinkFailure(s, err)
			continue
		}
		kept = append(kept, s)
	}
	t.sinks = kept
}

// Reader returns r with every successful read mirrored as FromCore.
func (t *Tap) Reader(r io.Reader) io.Reader {
	if t == nil {
		return r
	}
	return &reader{r: r, t: t}
}

// Writer returns w with every successful write mirrored as ToCore.
func (t *Tap) Writer(w io.Writer) io.Writer {
	if t == nil {
		return w
	}
	return &writer{w: w, t: t}
}

type reader struct {
	r io.Reader
	t *Tap
}

func (r *reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.t.Observe(FromCore, p[:n])
	}
	return n, err
}

type writer struct {
	w io.Writer
	t *Tap
}

func (w *writer) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	if n > 0 {
		w.t.Observe(ToCore, p[:n])
	}
	return n, err
}
