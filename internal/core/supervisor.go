package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/corelink/internal/observability"
	"github.com/danmuck/corelink/internal/protocol"
	"github.com/danmuck/corelink/internal/protocol/tap"
	"github.com/danmuck/corelink/internal/tools"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultProtocolFlag  = "--protocol"
	DefaultShutdownGrace = 5 * time.Second

	// exitPoll bounds how long a failing call waits to learn whether the
	// core has exited.
	exitPoll = 100 * time.Millisecond
)

var (
	ErrNotRunning     = errors.New("core: not running")
	ErrAlreadyRunning = errors.New("core: already running")
	ErrShuttingDown   = errors.New("core: shutting down")
	ErrStartFailed    = errors.New("core: failed to start")
	ErrHandshake      = errors.New("core: handshake failed")
)

// State is the supervisor lifecycle position.
type State int32

const (
	StateNotStarted State = iota
	StateRunning
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting-down"
	case StateStopped:
		return "stopped"
	default:
		return "invalid"
	}
}

// Config describes how to run the core. Executable is required.
type Config struct {
	Executable   string
	Args         []string
	ProtocolFlag string
	Dir          string
	Env          map[string]string

	ShutdownGrace time.Duration
	// HandshakeTimeout bounds the wait for the version message. Zero waits
	// until the context passed to Start is done.
	HandshakeTimeout time.Duration

	// Stderr receives the core's diagnostic output verbatim.
	Stderr  io.Writer
	Tap     *tap.Tap
	Limits  protocol.Limits
	Metrics *observability.Metrics
}

func DefaultConfig() Config {
	return Config{
		ProtocolFlag:  DefaultProtocolFlag,
		ShutdownGrace: DefaultShutdownGrace,
		Limits:        protocol.DefaultLimits(),
	}
}

func (c Config) withDefaults() Config {
	if c.ProtocolFlag == "" {
		c.ProtocolFlag = DefaultProtocolFlag
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}
	return c
}

// process is one spawned core and the parent ends of its pipes.
type process struct {
	cmd     *exec.Cmd
	stdin   *os.File
	stdout  *os.File
	conn    *Conn
	version string
	done    chan struct{}
	err     error
	running atomic.Bool
	forced  atomic.Bool

	releaseOnce sync.Once
}

// release closes our ends of the core's stdin and stdout. It runs at most
// once per process; pipes already closed elsewhere are not an error.
func (p *process) release() error {
	var err error
	p.releaseOnce.Do(func() {
		for _, f := range []*os.File{p.stdin, p.stdout} {
			if cerr := f.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) {
				err = errors.Join(err, cerr)
			}
		}
	})
	return err
}

func (p *process) exited(wait time.Duration) bool {
	if wait <= 0 {
		select {
		case <-p.done:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-p.done:
		return true
	case <-timer.C:
		return false
	}
}

// Supervisor owns one core process at a time and the connection to it.
type Supervisor struct {
	cfg     Config
	session string
	logger  zerolog.Logger

	startMu sync.Mutex
	mu      sync.Mutex
	state   State
	cur     *process
}

func New(cfg Config) (*Supervisor, error) {
	if cfg.Executable == "" {
		return nil, fmt.Errorf("%w: executable is required", ErrStartFailed)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("core: session id: %w", err)
	}
	s := &Supervisor{cfg: cfg.withDefaults(), session: id.String()}
	s.logger = log.Logger.With().Str("component", "supervisor").Str("session", s.session).Logger()
	return s, nil
}

func (s *Supervisor) Session() string {
	return s.session
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Conn returns the connection to the running core.
func (s *Supervisor) Conn() (*Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return nil, fmt.Errorf("%w (state %s)", ErrNotRunning, s.state)
	}
	return s.cur.conn, nil
}

// Version is the protocol version announced by the current or last core.
func (s *Supervisor) Version() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return ""
	}
	return s.cur.version
}

// Done is closed when the current core process has been reaped. It is nil
// before the first Start.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return nil
	}
	return s.cur.done
}

// ExitErr returns the Wait result of the last core once it has exited.
func (s *Supervisor) ExitErr() error {
	s.mu.Lock()
	p := s.cur
	s.mu.Unlock()
	if p == nil || !p.exited(0) {
		return nil
	}
	return p.err
}

// Start spawns the core and completes the handshake before returning. It is
// allowed before the first run and after the previous core has stopped. On
// failure the supervisor is left Stopped. Cancelling ctx aborts a pending
// handshake.
func (s *Supervisor) Start(ctx context.Context) (err error) {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	switch state {
	case StateRunning:
		return ErrAlreadyRunning
	case StateShuttingDown:
		return ErrShuttingDown
	}

	ctx, span := observability.StartProcess(ctx, s.session, s.cfg.Executable)
	defer func() {
		s.cfg.Metrics.RecordStart(err)
		observability.EndCall(span, "", err)
		if err != nil {
			s.setState(StateStopped)
			s.logger.Error().Err(err).Msg("core start failed")
		}
	}()

	path, err := tools.ResolveExecutable(s.cfg.Executable, s.cfg.Dir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStartFailed, err)
	}
	p, err := s.spawn(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStartFailed, err)
	}

	version, err := s.handshake(ctx, p)
	if err != nil {
		p.release()
		if killErr := p.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			s.logger.Warn().Err(killErr).Msg("failed to kill core after handshake failure")
		}
		<-p.done
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	p.version = version

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev := s.cur; prev != nil {
		if err := prev.release(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to release pipes of previous core")
		}
	}
	s.cur = p
	if p.exited(0) {
		s.state = StateStopped
		return fmt.Errorf("%w: core exited during startup (%s)", ErrStartFailed, tools.DescribeExit(p.err))
	}
	s.state = StateRunning
	p.running.Store(true)
	s.logger.Info().
		Int("pid", p.cmd.Process.Pid).
		Str("version", version).
		Str("executable", path).
		Msg("core started")
	return nil
}

func (s *Supervisor) spawn(path string) (*process, error) {
	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		closeAll(inR, inW)
		return nil, err
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		closeAll(inR, inW, outR, outW)
		return nil, err
	}

	args := append(append([]string(nil), s.cfg.Args...), s.cfg.ProtocolFlag)
	cmd := exec.Command(path, args...)
	cmd.Dir = s.cfg.Dir
	cmd.Env = tools.MergeEnv(os.Environ(), s.cfg.Env)
	cmd.Stdin = inR
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		closeAll(inR, inW, outR, outW, errR, errW)
		return nil, err
	}
	// The child holds its own copies of these ends.
	closeAll(inR, outW, errW)

	p := &process{cmd: cmd, stdin: inW, stdout: outR, done: make(chan struct{})}
	p.conn = NewConn(outR, inW, ConnConfig{
		Limits:  s.cfg.Limits,
		Tap:     s.cfg.Tap,
		Metrics: s.cfg.Metrics,
		Session: s.session,
		Exited:  func() bool { return p.exited(exitPoll) },
	})

	go s.forwardStderr(errR)
	go s.reap(p)
	s.logger.Debug().Int("pid", cmd.Process.Pid).Strs("args", args).Msg("core spawned")
	return p, nil
}

func (s *Supervisor) handshake(ctx context.Context, p *process) (string, error) {
	if s.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
		defer cancel()
	}
	stop := context.AfterFunc(ctx, func() {
		p.stdout.Close()
	})
	version, err := p.conn.Handshake()
	if !stop() && ctx.Err() != nil {
		return "", ctx.Err()
	}
	return version, err
}

// forwardStderr copies the core's stderr until the child closes it.
func (s *Supervisor) forwardStderr(r *os.File) {
	defer r.Close()
	if _, err := io.Copy(s.cfg.Stderr, r); err != nil && !errors.Is(err, os.ErrClosed) {
		s.logger.Warn().Err(err).Msg("stderr forwarding stopped")
	}
}

func (s *Supervisor) reap(p *process) {
	p.err = p.cmd.Wait()
	close(p.done)

	how := "clean"
	switch {
	case p.forced.Load():
		how = "killed"
	case p.err != nil:
		how = "error"
	}
	s.mu.Lock()
	if s.cur == p {
		s.state = StateStopped
	}
	s.mu.Unlock()
	if p.running.Load() {
		s.cfg.Metrics.RecordExit(how)
	}
	s.logger.Info().
		Int("pid", p.cmd.Process.Pid).
		Int32("exit_code", tools.ExitCode(p.err)).
		Str("exit", tools.DescribeExit(p.err)).
		Msg("core exited")
}

// Kill closes the pipes to the core, which unblocks any pending read with a
// termination error, and returns immediately. If the core has not exited
// after the shutdown grace period it is killed. When the core already exited
// on its own, Kill only releases the pipes still held for it; otherwise it is
// a no-op unless the core is running.
func (s *Supervisor) Kill() {
	s.mu.Lock()
	p := s.cur
	if s.state != StateRunning {
		s.mu.Unlock()
		if p != nil && p.exited(0) {
			if err := p.release(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to release core pipes")
			}
		}
		return
	}
	s.state = StateShuttingDown
	s.mu.Unlock()

	s.logger.Info().Dur("grace", s.cfg.ShutdownGrace).Msg("shutting down core")
	if err := p.release(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to close core pipes")
	}
	go s.killAfterGrace(p)
}

func (s *Supervisor) killAfterGrace(p *process) {
	timer := time.NewTimer(s.cfg.ShutdownGrace)
	defer timer.Stop()
	select {
	case <-p.done:
		return
	case <-timer.C:
	}
	s.logger.Warn().Dur("grace", s.cfg.ShutdownGrace).Msg("core did not exit in time; killing it")
	p.forced.Store(true)
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Error().Err(err).Msg("failed to kill core")
	}
}

// Wait blocks until the current core has been reaped or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := s.Done()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		f.Close()
	}
}
