package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sigilla/internal/lineio"
	"sigilla/internal/logging"
	"sigilla/internal/session"
	"sigilla/internal/transcript"
)

const (
	defaultSocketMode      fs.FileMode = 0o660
	defaultMaxRequestBytes             = 16 << 20
	writeTimeout                       = 30 * time.Second
	probeTimeout                       = 500 * time.Millisecond
)

// ServerOptions configures the socket server.
type ServerOptions struct {
	Path            string
	Mode            fs.FileMode
	MaxRequestBytes int
	// Recorder, when set, receives one Turn per message request.
	Recorder TurnRecorder
}

// Server accepts client connections on a Unix domain socket.
type Server struct {
	path     string
	maxLine  int
	backend  Backend
	gate     *session.Gate
	recorder TurnRecorder
	logger   *slog.Logger
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[string]net.Conn

	closeOnce sync.Once
}

// NewServer binds the socket at opts.Path. A stale socket file is replaced;
// a socket with a live listener is not.
func NewServer(ctx context.Context, opts ServerOptions, backend Backend, logger *slog.Logger) (*Server, error) {
	if backend == nil {
		return nil, errors.New("ipc server requires a backend")
	}
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("ipc server requires a socket path")
	}
	if opts.Mode == 0 {
		opts.Mode = defaultSocketMode
	}
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = defaultMaxRequestBytes
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	if err := clearStaleSocket(opts.Path); err != nil {
		return nil, err
	}

	listener, err := net.Listen("unix", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(opts.Path, opts.Mode); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("set socket permissions: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:     opts.Path,
		maxLine:  opts.MaxRequestBytes,
		backend:  backend,
		gate:     session.NewGate(),
		recorder: opts.Recorder,
		logger:   logger,
		listener: listener,
		ctx:      serverCtx,
		cancel:   cancel,
		conns:    make(map[string]net.Conn),
	}, nil
}

func clearStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("inspect socket path: %w", err)
	}
	if info.Mode()&fs.ModeSocket == 0 {
		return fmt.Errorf("socket path %s exists and is not a socket", path)
	}
	if conn, dialErr := net.DialTimeout("unix", path, probeTimeout); dialErr == nil {
		_ = conn.Close()
		return fmt.Errorf("%w: %s", ErrServerRunning, path)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}
	return nil
}

// Path returns the bound socket path.
func (s *Server) Path() string { return s.path }

// ActiveClients reports the number of open connections.
func (s *Server) ActiveClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Waiting reports how many message requests are queued behind the gate.
func (s *Server) Waiting() int { return s.gate.Waiting() }

// Serve starts accepting connections until Close.
func (s *Server) Serve() {
	s.logger.Info("socket server listening",
		logging.String(logging.FieldEventType, "ipc_listening"),
		logging.String("socket", s.path),
	)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"),
				)
				time.Sleep(50 * time.Millisecond)
				continue
			}
			id := "conn-" + uuid.NewString()[:8]
			if !s.track(id, conn) {
				_ = conn.Close()
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer s.untrack(id)
				s.serveConn(id, conn)
			}()
		}
	}()
}

func (s *Server) track(id string, conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.conns[id] = conn
	return true
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	conn, ok := s.conns[id]
	delete(s.conns, id)
	s.mu.Unlock()
	if ok {
		_ = conn.Close()
	}
}

// Close stops accepting, closes every connection, waits for handlers, and
// removes the socket file.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.listener.Close()
		s.mu.Lock()
		for _, conn := range s.conns {
			_ = conn.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
		if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
				logging.String("socket", s.path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "stale socket may block future starts"),
				logging.String(logging.FieldErrorHint, "remove the socket file manually or rerun sigilla stop"),
			)
		}
		s.logger.Info("socket server stopped", logging.String(logging.FieldEventType, "ipc_stopped"))
	})
}

// connection is the per-client protocol loop. Only its goroutine writes to conn.
type connection struct {
	id     string
	server *Server
	conn   net.Conn
	reader *bufio.Reader
	ctx    context.Context
	logger *slog.Logger
}

func (s *Server) serveConn(id string, conn net.Conn) {
	ctx := logging.WithConnID(s.ctx, id)
	c := &connection{
		id:     id,
		server: s,
		conn:   conn,
		reader: bufio.NewReader(conn),
		ctx:    ctx,
		logger: logging.WithContext(ctx, s.logger),
	}
	c.logger.Debug("client connected", logging.Int("active_clients", s.ActiveClients()))
	err := c.loop()
	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, context.Canceled):
		c.logger.Debug("client disconnected")
	default:
		c.logger.Debug("client dropped", logging.Error(err))
	}
}

func (c *connection) loop() error {
	for {
		line, err := lineio.ReadLine(c.reader, c.server.maxLine)
		var tooLong *lineio.TooLongError
		switch {
		case errors.As(err, &tooLong):
			if err := c.writeError(fmt.Sprintf("Invalid JSON: request of %d bytes exceeds limit", tooLong.Size)); err != nil {
				return err
			}
			continue
		case err != nil:
			return err
		}
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		if err := c.dispatch(line); err != nil {
			return err
		}
	}
}

// dispatch handles one request line. A returned error ends the connection.
func (c *connection) dispatch(line []byte) error {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return c.writeError("Invalid JSON: " + err.Error())
	}
	switch req.Type {
	case TypePing:
		return c.writeJSON(PongResponse{
			Type:      TypePong,
			SessionID: c.server.backend.SessionID(),
			Running:   c.server.backend.IsRunning(),
		})
	case TypeStatus:
		return c.writeJSON(StatusResponse{
			Type:          TypeStatus,
			SessionID:     c.server.backend.SessionID(),
			Running:       c.server.backend.IsRunning(),
			ActiveClients: c.server.ActiveClients(),
		})
	case TypeMessage:
		if strings.TrimSpace(req.Content) == "" {
			return c.writeError(ErrTextEmptyMessage)
		}
		return c.handleMessage(req.Content)
	default:
		return c.writeError("Unknown request type: " + req.Type)
	}
}

func (c *connection) handleMessage(content string) error {
	ctx := logging.WithRequestID(c.ctx, uuid.NewString()[:8])
	logger := logging.WithContext(ctx, c.server.logger)

	turn, err := c.runTurn(ctx, logger, content)
	if turn.Outcome != "" {
		c.record(ctx, logger, turn)
	}
	return err
}

// runTurn holds the gate for exactly one Stream call.
func (c *connection) runTurn(ctx context.Context, logger *slog.Logger, content string) (transcript.Turn, error) {
	turn := transcript.Turn{ConnID: c.id, Content: content}
	if waiting := c.server.gate.Waiting(); waiting > 0 {
		logger.Debug("message queued behind gate", logging.Int("waiting", waiting))
	}
	if err := c.server.gate.Acquire(ctx); err != nil {
		return turn, err
	}
	defer c.server.gate.Release()

	turn.SessionID = c.server.backend.SessionID()
	turn.StartedAt = time.Now()
	if err := c.writeJSON(AckResponse{Type: TypeAck, Status: "processing"}); err != nil {
		return turn, err
	}

	var (
		writeErr      error
		lastAssistant string
		terminal      session.Message
	)
	streamErr := c.server.backend.Stream(ctx, content, func(msg session.Message) error {
		turn.MessageCount++
		switch {
		case msg.Type == session.TypeAssistant:
			if text := msg.Text(); text != "" {
				lastAssistant = text
			}
		case msg.IsTerminal():
			terminal = msg
		}
		if err := c.writeLine(msg.Raw); err != nil {
			writeErr = err
			return err
		}
		return nil
	})
	turn.FinishedAt = time.Now()

	switch {
	case writeErr != nil:
		turn.Outcome = transcript.OutcomeFailed
		return turn, writeErr
	case streamErr == nil:
		turn.ReplyText = terminal.Text()
		turn.Outcome = transcript.OutcomeResult
		if terminal.Type == session.TypeError {
			turn.Outcome = transcript.OutcomeError
		} else if turn.ReplyText == "" {
			turn.ReplyText = lastAssistant
		}
		logger.Info("turn completed",
			logging.String(logging.FieldEventType, "turn_completed"),
			logging.String("outcome", string(turn.Outcome)),
			logging.Int("messages", turn.MessageCount),
			logging.Duration("elapsed", turn.Duration()),
		)
		return turn, nil
	case errors.Is(streamErr, session.ErrNotRunning):
		turn.Outcome = transcript.OutcomeNotRunning
		return turn, c.writeError(ErrTextNotRunning)
	case errors.Is(streamErr, session.ErrTimeout):
		turn.Outcome = transcript.OutcomeTimeout
		return turn, c.writeError(ErrTextTimeout)
	case ctx.Err() != nil:
		turn.Outcome = transcript.OutcomeFailed
		return turn, ctx.Err()
	default:
		turn.Outcome = transcript.OutcomeFailed
		logging.ErrorWithContext(logger, "turn failed", "turn_failed", logging.Error(streamErr))
		return turn, c.writeError(streamErr.Error())
	}
}

func (c *connection) record(ctx context.Context, logger *slog.Logger, turn transcript.Turn) {
	if c.server.recorder == nil {
		return
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := c.server.recorder.Record(recordCtx, turn); err != nil {
		logging.WarnWithContext(logger, "transcript write failed", "transcript_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "turn missing from history"),
			logging.String(logging.FieldErrorHint, "check the transcript database path and disk space"),
		)
	}
}

func (c *connection) writeError(text string) error {
	return c.writeJSON(ErrorResponse{Type: TypeError, Error: text})
}

func (c *connection) writeJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return c.writeLine(payload)
}

func (c *connection) writeLine(payload []byte) error {
	buf := make([]byte, 0, len(payload)+1)
	buf = append(append(buf, payload...), '\n')
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := c.conn.Write(buf)
	return err
}
