package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"sigilla/internal/config"
	"sigilla/internal/daemon"
	"sigilla/internal/logging"
	"sigilla/internal/notifications"
)

// Options configures daemon process runtime behavior. A nil Notifier is
// built from cfg.
type Options struct {
	LogLevel string
	Notifier notifications.Service
}

// Run starts the sigilla daemon and blocks until SIGINT, SIGTERM or
// cancellation of cmdCtx.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("sigilla-%s.log", runID))
	baseLogger, err := logging.NewFromConfig(cfg, logPath)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update sigilla.log link: %v\n", err)
	}

	var d *daemon.Daemon
	logger := logging.WithSessionID(baseLogger, func() string {
		if d == nil {
			return ""
		}
		return d.Session().SessionID()
	})

	logBackendSnapshot(logger, cfg)
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "sigilla-*.log", Keep: logPath},
	)

	d, err = daemon.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check backend.binary, socket permissions, and for another running instance"),
		)
		return err
	}

	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	started := d.Status()
	notify(logger, notifier, notifications.EventDaemonStarted, notifications.Payload{
		"session_id": started.SessionID,
		"resumed":    strconv.FormatBool(started.Resumed),
	})

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		d.Stop(context.Background())
		return fmt.Errorf("write pid file: %w", err)
	}

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		select {
		case <-groupCtx.Done():
		case <-d.BackendDone():
			status := d.Status()
			logging.ErrorWithContext(logger, "backend exited; requests will fail until the daemon restarts", "backend_exited",
				logging.Int("pid", status.BackendPID),
				logging.Error(d.Session().ExitErr()),
				logging.String(logging.FieldErrorHint, "run `sigilla restart` and check the backend log lines above"),
			)
			payload := notifications.Payload{"session_id": status.SessionID}
			if exitErr := d.Session().ExitErr(); exitErr != nil {
				payload["error"] = exitErr.Error()
			}
			notify(logger, notifier, notifications.EventBackendExited, payload)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("sigilla daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.StopGrace()+5*time.Second)
		defer stopCancel()
		d.Stop(stopCtx)
		if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Debug("pid file removal failed", logging.Error(err))
		}
		return nil
	})
	return group.Wait()
}

func notify(logger *slog.Logger, svc notifications.Service, event notifications.Event, payload notifications.Payload) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := svc.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(logger, "notification failed", "notification_failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network access"),
			logging.String(logging.FieldImpact, "alert not delivered"),
		)
	}
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "sigilla.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logBackendSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	resolved, err := exec.LookPath(cfg.Backend.Binary)
	logger.Info("backend snapshot",
		logging.String(logging.FieldEventType, "backend_snapshot"),
		logging.String("binary", cfg.Backend.Binary),
		logging.Bool("binary_available", err == nil),
		logging.String("binary_path", resolved),
		logging.String("model", cfg.Backend.Model),
		logging.String("working_dir", cfg.Backend.WorkingDir),
		logging.Bool("skip_permissions", cfg.Backend.SkipPermissions),
		logging.Int("max_line_bytes", cfg.Backend.MaxLineBytes),
		logging.Duration("response_timeout", cfg.ResponseTimeout()),
	)
}
