package session

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"golang.org/x/time/rate"

	"sigilla/internal/lineio"
	"sigilla/internal/logging"
)

const readBufferSize = 64 << 10

// supervise runs the reader until stdout ends, restarting it after transient
// failures until the process has exited, then finishes the session.
func (s *Session) supervise(stdout io.ReadCloser) {
	defer s.finish(stdout)

	reader := bufio.NewReaderSize(stdout, readBufferSize)
	limiter := rate.NewLimiter(rate.Every(s.opts.ReaderRestartDelay), 1)
	limiter.Allow()

	for {
		err := s.readLoop(reader)
		if err == nil {
			s.logger.Debug("backend stdout closed")
			return
		}
		if s.stopping.Load() || s.hasExited() {
			s.logger.Debug("reader ended", logging.Error(err))
			return
		}
		logging.WarnWithContext(s.logger, "reader failed; restarting", "reader_restart",
			logging.Error(err),
			logging.Int64("restarts", s.restarts.Load()),
			logging.String(logging.FieldImpact, "backend output is delayed until the reader resumes"),
		)
		if err := limiter.Wait(s.life); err != nil {
			return
		}
		s.restarts.Add(1)
	}
}

// readLoop returns nil at end of stream and an error for anything that
// warrants a restart, including a panic while handling a line.
func (s *Session) readLoop(reader *bufio.Reader) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("reader panic: %v", p)
		}
	}()
	for {
		line, readErr := lineio.ReadLine(reader, s.opts.MaxLineBytes)
		var tooLong *lineio.TooLongError
		switch {
		case errors.As(readErr, &tooLong):
			logging.WarnWithContext(s.logger, "discarded oversized backend line", "line_discarded",
				logging.Int("size", tooLong.Size),
				logging.Int("limit", s.opts.MaxLineBytes),
				logging.String(logging.FieldErrorHint, "raise backend.max_line_bytes"),
				logging.String(logging.FieldImpact, "one backend message was dropped"),
			)
			continue
		case errors.Is(readErr, io.EOF):
			return nil
		case readErr != nil:
			return readErr
		}
		s.handleLine(line)
	}
}

func (s *Session) handleLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	msg, err := ParseMessage(line)
	if err != nil {
		logging.WarnWithContext(s.logger, "skipped undecodable backend line", "line_invalid",
			logging.Error(err),
			logging.Int("size", len(line)),
			logging.String(logging.FieldImpact, "line was not relayed"),
		)
		return
	}
	s.queue.push(msg)
	if msg.IsInit() && !s.initialized.Swap(true) {
		s.logger.Info("backend initialized", logging.String(logging.FieldEventType, "backend_init"))
	}
}

func (s *Session) hasExited() bool {
	select {
	case <-s.exited:
		return true
	default:
		return false
	}
}

// watchExit reaps the backend. If its output pipes are still held open
// afterwards, by a grandchild for instance, they are closed once the stop
// grace passes so the reader unblocks.
func (s *Session) watchExit(proc *os.Process, pipes ...io.Closer) {
	state, err := proc.Wait()
	if err == nil && !state.Success() {
		err = &exec.ExitError{ProcessState: state}
	}
	s.mu.Lock()
	s.exitErr = err
	s.mu.Unlock()
	close(s.exited)

	grace := time.NewTimer(s.opts.StopGrace)
	defer grace.Stop()
	select {
	case <-s.readerDone:
	case <-grace.C:
		s.logger.Debug("backend output still open after exit; closing")
		for _, pipe := range pipes {
			_ = pipe.Close()
		}
	}
}

func (s *Session) finish(stdout io.Closer) {
	close(s.readerDone)
	<-s.exited
	_ = stdout.Close()
	s.running.Store(false)
	close(s.done)

	err := s.ExitErr()
	if err != nil && !s.stopping.Load() {
		logging.ErrorWithContext(s.logger, "backend exited", "backend_exited",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "restart the daemon with `sigilla restart`"),
		)
		return
	}
	s.logger.Info("backend exited", logging.String(logging.FieldEventType, "backend_exited"))
}
