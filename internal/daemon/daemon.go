package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"sigilla/internal/config"
	"sigilla/internal/ipc"
	"sigilla/internal/logging"
	"sigilla/internal/session"
	"sigilla/internal/transcript"
)

// ErrAlreadyRunning reports that another daemon holds the instance lock.
var ErrAlreadyRunning = errors.New("another sigilla daemon instance is already running")

// Daemon owns the backend session and the socket server for one process.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	session *session.Session

	lockPath string
	lock     *flock.Flock

	mu         sync.Mutex
	server     *ipc.Server
	transcript *transcript.Store
	running    atomic.Bool
}

// Status represents daemon runtime information.
type Status struct {
	Running        bool
	SessionID      string
	Resumed        bool
	BackendRunning bool
	Initialized    bool
	BackendPID     int
	ReaderRestarts int64
	ActiveClients  int
	Waiting        int
	SocketPath     string
	LockFilePath   string
	TranscriptPath string
}

// SessionOptions maps configuration onto backend session options.
func SessionOptions(cfg *config.Config) session.Options {
	return session.Options{
		Binary:             cfg.Backend.Binary,
		Model:              cfg.Backend.Model,
		WorkDir:            cfg.Backend.WorkingDir,
		SessionFile:        cfg.Paths.SessionFile,
		SkipPermissions:    cfg.Backend.SkipPermissions,
		AllowedTools:       cfg.Backend.AllowedTools,
		ExtraArgs:          cfg.Backend.ExtraArgs,
		MaxLineBytes:       cfg.Backend.MaxLineBytes,
		ResponseTimeout:    cfg.ResponseTimeout(),
		StopGrace:          cfg.StopGrace(),
		ReaderRestartDelay: cfg.ReaderRestartDelay(),
	}
}

// New constructs a daemon with an unstarted backend session.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		session:  session.New(SessionOptions(cfg), logger),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Session exposes the backend session.
func (d *Daemon) Session() *session.Session { return d.session }

// Start acquires the instance lock, launches the backend, and begins serving
// the socket. Failing to bind the socket is fatal.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	store := d.openTranscript()
	if err := d.session.Start(ctx); err != nil {
		d.unwind(ctx, nil, store)
		return fmt.Errorf("start session: %w", err)
	}

	opts := ipc.ServerOptions{
		Path:            d.cfg.Paths.Socket,
		Mode:            d.cfg.SocketFileMode(),
		MaxRequestBytes: d.cfg.Backend.MaxLineBytes,
	}
	if store != nil {
		opts.Recorder = store
	}
	server, err := ipc.NewServer(ctx, opts, d.session, d.logger)
	if err != nil {
		d.unwind(ctx, d.session, store)
		return fmt.Errorf("start socket server: %w", err)
	}
	server.Serve()

	d.mu.Lock()
	d.server = server
	d.transcript = store
	d.mu.Unlock()
	d.running.Store(true)

	d.logger.Info("sigilla daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("socket", d.cfg.Paths.Socket),
		logging.String("lock", d.lockPath),
		logging.Bool("resumed", d.session.Resumed()),
	)
	return nil
}

func (d *Daemon) openTranscript() *transcript.Store {
	if !d.cfg.Transcript.Enabled {
		return nil
	}
	store, err := transcript.Open(d.cfg.Transcript.Path)
	if err != nil {
		logging.WarnWithContext(d.logger, "transcript unavailable; continuing without history", "transcript_open_failed",
			logging.Error(err),
			logging.String("path", d.cfg.Transcript.Path),
			logging.String(logging.FieldImpact, "turns will not be recorded"),
			logging.String(logging.FieldErrorHint, "check transcript.path or delete a mismatched database"),
		)
		return nil
	}
	return store
}

func (d *Daemon) unwind(ctx context.Context, s *session.Session, store *transcript.Store) {
	if s != nil {
		_ = s.Stop(ctx)
	}
	if store != nil {
		_ = store.Close()
	}
	_ = d.lock.Unlock()
}

// Stop closes the socket server, stops the backend, and releases the lock.
func (d *Daemon) Stop(ctx context.Context) {
	if !d.running.Load() {
		return
	}

	d.mu.Lock()
	server, store := d.server, d.transcript
	d.server, d.transcript = nil, nil
	d.mu.Unlock()

	if server != nil {
		server.Close()
	}
	if err := d.session.Stop(ctx); err != nil {
		logging.WarnWithContext(d.logger, "backend did not stop cleanly", "backend_stop_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "an orphaned backend process may remain"),
			logging.String(logging.FieldErrorHint, "check for a leftover claude process and kill it"),
		)
	}
	if store != nil {
		if err := store.Close(); err != nil {
			d.logger.Debug("transcript close failed", logging.Error(err))
		}
	}
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "next start may report another instance"),
		)
	}
	d.running.Store(false)
	d.logger.Info("sigilla daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// BackendDone is closed once the backend process has exited.
func (d *Daemon) BackendDone() <-chan struct{} {
	return d.session.Done()
}

// Status returns a snapshot of the daemon state.
func (d *Daemon) Status() Status {
	st := Status{
		Running:        d.running.Load(),
		SessionID:      d.session.SessionID(),
		Resumed:        d.session.Resumed(),
		BackendRunning: d.session.IsRunning(),
		Initialized:    d.session.Initialized(),
		BackendPID:     d.session.PID(),
		ReaderRestarts: d.session.ReaderRestarts(),
		SocketPath:     d.cfg.Paths.Socket,
		LockFilePath:   d.lockPath,
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.server != nil {
		st.ActiveClients = d.server.ActiveClients()
		st.Waiting = d.server.Waiting()
	}
	if d.transcript != nil {
		st.TranscriptPath = d.transcript.Path()
	}
	return st
}
