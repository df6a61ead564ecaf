package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/danmuck/corelink/internal/config"
	"github.com/danmuck/corelink/internal/core"
	"github.com/danmuck/corelink/internal/logging"
	"github.com/danmuck/corelink/internal/observability"
	"github.com/danmuck/corelink/internal/protocol/tap"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const shutdownWait = 10 * time.Second

type options struct {
	configPath  string
	executable  string
	debug       bool
	debugSink   string
	transcript  string
	metricsAddr string
	logLevel    string
}

// applyLogLevel honours --log-level. The log sink writes at debug level, so
// --debug without an explicit level lowers the level to debug.
func (o *options) applyLogLevel() error {
	if o.logLevel != "" {
		level, ok := logging.ParseLevel(o.logLevel)
		if !ok {
			return fmt.Errorf("unknown log level %q", o.logLevel)
		}
		logging.SetLevel(level)
		return nil
	}
	if o.debug && zerolog.GlobalLevel() > zerolog.DebugLevel {
		logging.SetLevel(zerolog.DebugLevel)
	}
	return nil
}

// coreConfig resolves the effective configuration. Flags win over the
// environment, which wins over the file.
func (o *options) coreConfig() (config.CoreConfig, error) {
	cfg := config.DefaultCoreConfig()
	if o.configPath != "" {
		loaded, err := config.LoadCoreConfig(o.configPath)
		if err != nil {
			return config.CoreConfig{}, err
		}
		cfg = loaded
	}
	config.ApplyEnv(&cfg)

	if o.executable != "" {
		cfg.Executable = o.executable
	}
	if o.debug {
		cfg.Debug.Enabled = true
	}
	if o.debugSink != "" {
		cfg.Debug.Sink = o.debugSink
	}
	if o.transcript != "" {
		cfg.Debug.Enabled = true
		cfg.Debug.Sink = config.SinkTranscript
		cfg.Debug.TranscriptPath = o.transcript
	}
	if err := config.ValidateCoreConfig(cfg); err != nil {
		return config.CoreConfig{}, err
	}
	return cfg, nil
}

// session is one running core plus the resources that outlive a call.
type session struct {
	sup     *core.Supervisor
	conn    *core.Conn
	tap     *tap.Tap
	closers []io.Closer
	metrics *http.Server
}

func openSession(ctx context.Context, opts *options, stderr io.Writer) (*session, error) {
	cfg, err := opts.coreConfig()
	if err != nil {
		return nil, err
	}
	t, tapCloser, err := config.BuildTap(cfg.Debug, stderr)
	if err != nil {
		return nil, err
	}
	s := &session{tap: t, closers: []io.Closer{tapCloser}}

	sc := config.SupervisorConfig(cfg, t, observability.DefaultMetrics())
	sc.Stderr = stderr
	s.sup, err = core.New(sc)
	if err != nil {
		s.Close()
		return nil, err
	}
	if opts.metricsAddr != "" {
		s.serveMetrics(opts.metricsAddr)
	}
	if err := s.sup.Start(ctx); err != nil {
		s.Close()
		return nil, err
	}
	s.conn, err = s.sup.Conn()
	if err != nil {
		s.Close()
		return nil, err
	}
	log.Debug().
		Str("component", "corectl").
		Str("session", s.sup.Session()).
		Str("version", s.sup.Version()).
		Msg("core session open")
	return s, nil
}

func (s *session) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s.metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Str("component", "corectl").Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
}

// Close stops the core and waits for it to exit.
func (s *session) Close() error {
	var errs []error
	if s.sup != nil {
		s.sup.Kill()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownWait)
		if err := s.sup.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("wait for core: %w", err))
		}
		cancel()
	}
	if s.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		s.metrics.Shutdown(ctx)
		cancel()
	}
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func stderrOf(w io.Writer) io.Writer {
	if w == nil {
		return os.Stderr
	}
	return w
}
