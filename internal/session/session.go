package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"sigilla/internal/logging"
)

var (
	// ErrNotRunning is returned when no backend process is alive.
	ErrNotRunning = errors.New("claude session not running")
	// ErrTimeout is returned when a turn sees no terminal message in time.
	ErrTimeout = errors.New("timed out waiting for response")
	// ErrAlreadyStarted is returned by a second Start call.
	ErrAlreadyStarted = errors.New("session already started")
)

// CommandFactory builds the backend command. Tests swap it to inject a fake.
type CommandFactory func(name string, args ...string) *exec.Cmd

// Options configures the backend subprocess.
type Options struct {
	Binary             string
	Model              string
	WorkDir            string
	SessionFile        string
	SkipPermissions    bool
	AllowedTools       []string
	ExtraArgs          []string
	MaxLineBytes       int
	ResponseTimeout    time.Duration
	StopGrace          time.Duration
	ReaderRestartDelay time.Duration
	CommandFactory     CommandFactory
}

const (
	defaultMaxLineBytes       = 16 << 20
	defaultResponseTimeout    = 300 * time.Second
	defaultStopGrace          = 5 * time.Second
	defaultReaderRestartDelay = 500 * time.Millisecond
)

func (o Options) withDefaults() Options {
	if o.Binary == "" {
		o.Binary = "claude"
	}
	if o.MaxLineBytes <= 0 {
		o.MaxLineBytes = defaultMaxLineBytes
	}
	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = defaultResponseTimeout
	}
	if o.StopGrace <= 0 {
		o.StopGrace = defaultStopGrace
	}
	if o.ReaderRestartDelay <= 0 {
		o.ReaderRestartDelay = defaultReaderRestartDelay
	}
	if o.CommandFactory == nil {
		o.CommandFactory = exec.Command
	}
	return o
}

// Session owns one backend process and its stdio pipes.
type Session struct {
	opts   Options
	logger *slog.Logger

	mu      sync.RWMutex
	id      string
	resumed bool
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	started bool
	exitErr error

	writeMu     sync.Mutex
	running     atomic.Bool
	initialized atomic.Bool
	stopping    atomic.Bool
	restarts    atomic.Int64

	queue      *queue
	exited     chan struct{}
	readerDone chan struct{}
	done       chan struct{}
	life       context.Context
	cancel     context.CancelFunc
	stopOnce   sync.Once
	stopErr    error
}

// New constructs an unstarted Session.
func New(opts Options, logger *slog.Logger) *Session {
	life, cancel := context.WithCancel(context.Background())
	return &Session{
		opts:       opts.withDefaults(),
		logger:     logging.NewComponentLogger(logger, "session"),
		queue:      newQueue(),
		exited:     make(chan struct{}),
		readerDone: make(chan struct{}),
		done:       make(chan struct{}),
		life:       life,
		cancel:     cancel,
	}
}

// BuildArgs returns the backend command line for the given identifier.
func BuildArgs(opts Options, id string, resume bool) []string {
	args := []string{
		"--model", opts.Model,
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
	}
	if opts.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools")
		args = append(args, opts.AllowedTools...)
	}
	args = append(args, opts.ExtraArgs...)
	if resume {
		return append(args, "--resume", id)
	}
	return append(args, "--session-id", id)
}

// Start resolves the session identifier, launches the backend, and starts
// the reader. It does not wait for the init marker.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	cmd, stdout, stderr, err := s.launch(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.started = true
	s.running.Store(true)
	logger, resumed := s.logger, s.resumed
	s.mu.Unlock()

	go s.watchExit(cmd.Process, stdout, stderr)
	go s.supervise(stdout)
	go s.forwardStderr(stderr)

	logger.Info("backend started",
		logging.String(logging.FieldEventType, "backend_started"),
		logging.Int("pid", cmd.Process.Pid),
		logging.Bool("resumed", resumed),
		logging.String("model", s.opts.Model),
		logging.String("work_dir", s.opts.WorkDir),
	)
	return nil
}

// launch starts the backend process. Callers hold s.mu and must not log.
func (s *Session) launch(ctx context.Context) (*exec.Cmd, io.ReadCloser, io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, nil, err
	}
	id, resumed, err := LoadOrCreateID(s.opts.SessionFile)
	if err != nil {
		return nil, nil, nil, err
	}

	cmd := s.opts.CommandFactory(s.opts.Binary, BuildArgs(s.opts, id, resumed)...)
	cmd.Dir = s.opts.WorkDir
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, nil, fmt.Errorf("start backend: %w", err)
	}

	s.id = id
	s.resumed = resumed
	s.cmd = cmd
	s.stdin = stdin
	s.logger = s.logger.With(logging.String(logging.FieldSessionID, id))
	return cmd, stdout, stderr, nil
}

// SessionID returns the conversation identifier, or "" before Start.
func (s *Session) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Resumed reports whether Start continued a persisted conversation.
func (s *Session) Resumed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resumed
}

// PID returns the backend process id, or 0 before Start.
func (s *Session) PID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// IsRunning is true once started and until the process is observed to exit.
func (s *Session) IsRunning() bool { return s.running.Load() }

// Initialized reports whether the backend has emitted its init marker.
func (s *Session) Initialized() bool { return s.initialized.Load() }

// ReaderRestarts reports how many times the stdout reader was restarted.
func (s *Session) ReaderRestarts() int64 { return s.restarts.Load() }

// Done is closed once the backend process has been reaped and its output
// fully read.
func (s *Session) Done() <-chan struct{} { return s.done }

// ExitErr returns the error from reaping the process, if any.
func (s *Session) ExitErr() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exitErr
}

// Send writes one turn and returns every message up to and including the
// terminal one.
func (s *Session) Send(ctx context.Context, content string) ([]Message, error) {
	var messages []Message
	err := s.Stream(ctx, content, func(msg Message) error {
		messages = append(messages, msg)
		return nil
	})
	return messages, err
}

// Stream writes one turn and calls fn for each message in emission order
// until a result or error arrives. If fn fails the remaining messages of the
// turn are still consumed so the next turn starts clean; the fn error is
// returned. Callers must hold the Gate.
func (s *Session) Stream(ctx context.Context, content string, fn func(Message) error) error {
	if !s.IsRunning() {
		return ErrNotRunning
	}
	logger := logging.WithContext(ctx, s.logger)
	if stale := s.queue.drain(); stale > 0 {
		logger.Debug("discarded stale messages",
			logging.String(logging.FieldEventType, "queue_drained"),
			logging.Int("count", stale),
		)
	}

	payload, err := userEnvelope(content)
	if err != nil {
		return err
	}
	if err := s.write(payload); err != nil {
		if !s.IsRunning() {
			return fmt.Errorf("%w: %v", ErrNotRunning, err)
		}
		return fmt.Errorf("write turn: %w", err)
	}
	logger.Debug("turn sent", logging.Int("bytes", len(payload)))

	timer := time.NewTimer(s.opts.ResponseTimeout)
	defer timer.Stop()

	var sinkErr error
	for {
		if msg, ok := s.queue.pop(); ok {
			if sinkErr == nil && fn != nil {
				if sinkErr = fn(msg); sinkErr != nil {
					logger.Debug("message sink failed; consuming rest of turn", logging.Error(sinkErr))
				}
			}
			if msg.IsTerminal() {
				if sinkErr != nil {
					return fmt.Errorf("deliver message: %w", sinkErr)
				}
				return nil
			}
			continue
		}
		select {
		case <-s.queue.ready:
		case <-s.done:
			if s.queue.len() > 0 {
				continue
			}
			if exitErr := s.ExitErr(); exitErr != nil {
				return fmt.Errorf("%w: %v", ErrNotRunning, exitErr)
			}
			return ErrNotRunning
		case <-timer.C:
			logging.WarnWithContext(logger, "turn timed out", "turn_timeout",
				logging.Duration("timeout", s.opts.ResponseTimeout),
				logging.String(logging.FieldErrorHint, "raise backend.response_timeout_seconds if turns are legitimately long"),
				logging.String(logging.FieldImpact, "late messages are discarded before the next turn"),
			)
			return ErrTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) write(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.RLock()
	stdin := s.stdin
	s.mu.RUnlock()
	if stdin == nil {
		return ErrNotRunning
	}
	_, err := stdin.Write(payload)
	return err
}

// Stop terminates the backend: stdin is closed and SIGTERM sent, then SIGKILL
// once the grace period passes. Safe to call more than once.
func (s *Session) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.stopErr = s.stop(ctx)
	})
	return s.stopErr
}

func (s *Session) stop(ctx context.Context) error {
	s.stopping.Store(true)
	s.cancel()

	s.mu.RLock()
	started, cmd, stdin := s.started, s.cmd, s.stdin
	s.mu.RUnlock()
	if !started {
		return nil
	}
	select {
	case <-s.done:
		return nil
	default:
	}

	_ = stdin.Close()
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.logger.Debug("sigterm failed", logging.Error(err))
	}

	grace := time.NewTimer(s.opts.StopGrace)
	defer grace.Stop()
	select {
	case <-s.done:
		s.logger.Info("backend stopped", logging.String(logging.FieldEventType, "backend_stopped"))
		return nil
	case <-grace.C:
	case <-ctx.Done():
	}

	logging.WarnWithContext(s.logger, "backend ignored SIGTERM; killing", "backend_killed",
		logging.Duration("grace", s.opts.StopGrace),
		logging.String(logging.FieldErrorHint, "check whether the backend is stuck on a tool call"),
		logging.String(logging.FieldImpact, "in-flight turn is lost"),
	)
	if err := cmd.Process.Kill(); err != nil {
		s.logger.Debug("kill failed", logging.Error(err))
	}
	select {
	case <-s.done:
		return nil
	case <-time.After(2 * s.opts.StopGrace):
		return fmt.Errorf("stop backend: process %d did not exit", cmd.Process.Pid)
	}
}

func (s *Session) forwardStderr(stderr io.ReadCloser) {
	defer stderr.Close()
	_, _ = io.Copy(&stderrLogger{logger: s.logger}, stderr)
}

// stderrLogger forwards backend stderr to the debug log one line at a time.
type stderrLogger struct {
	logger  *slog.Logger
	pending []byte
}

func (w *stderrLogger) Write(p []byte) (int, error) {
	w.pending = append(w.pending, p...)
	for {
		idx := bytes.IndexByte(w.pending, '\n')
		if idx < 0 {
			break
		}
		if line := string(bytes.TrimSpace(w.pending[:idx])); line != "" {
			w.logger.Debug("backend stderr", logging.String("line", line))
		}
		w.pending = w.pending[idx+1:]
	}
	return len(p), nil
}
