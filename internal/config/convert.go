package config

import (
	"fmt"
	"io"
	"os"

	"github.com/danmuck/corelink/internal/core"
	"github.com/danmuck/corelink/internal/observability"
	"github.com/danmuck/corelink/internal/protocol"
	"github.com/danmuck/corelink/internal/protocol/tap"
)

// SupervisorConfig converts cfg into a core.Config. The tap is attached but
// left inactive unless debugging is enabled, so it can be toggled later.
func SupervisorConfig(cfg CoreConfig, t *tap.Tap, metrics *observability.Metrics) core.Config {
	out := core.DefaultConfig()
	out.Executable = cfg.Executable
	out.Args = append([]string(nil), cfg.Args...)
	out.ProtocolFlag = cfg.ProtocolFlag
	out.Dir = cfg.Dir
	out.Env = cfg.Env
	out.ShutdownGrace = cfg.ShutdownGrace
	out.HandshakeTimeout = cfg.HandshakeTimeout
	out.Limits = protocol.Limits{MaxChunkBytes: cfg.MaxChunkBytes}
	out.Tap = t
	out.Metrics = metrics
	return out
}

// BuildTap creates the debug tap described by cfg. The returned closer
// flushes and closes a transcript file and is never nil.
func BuildTap(cfg DebugConfig, stderr io.Writer) (*tap.Tap, io.Closer, error) {
	t := tap.New()
	var closer io.Closer = nopCloser{}
	switch cfg.Sink {
	case SinkLog, "":
		t.AddSink(tap.NewLogSink())
	case SinkStderr:
		t.AddSink(&tap.WriterSink{W: stderr})
	case SinkTranscript:
		f, err := os.OpenFile(cfg.TranscriptPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open transcript: %w", err)
		}
		sink := tap.NewTranscriptSink(f)
		t.AddSink(sink)
		closer = sink
	default:
		return nil, nil, fmt.Errorf("unknown debug sink %q", cfg.Sink)
	}
	t.SetActive(cfg.Enabled)
	return t, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
