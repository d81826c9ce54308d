package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"sigilla/internal/config"
	"sigilla/internal/ipc"
	"sigilla/internal/preflight"
	"sigilla/internal/transcript"
)

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	SocketPath string
	ConfigPath string
	LogLevel   string
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State     StartState
	Launched  bool
	SessionID string
}

// ErrDaemonNotRunning indicates neither the socket nor the pid file points
// at a live daemon.
var ErrDaemonNotRunning = errors.New("daemon not running")

// Launch starts a detached sigilla daemon process in its own session.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"daemon"}
	if socket := strings.TrimSpace(opts.SocketPath); socket != "" {
		args = append(args, "--socket", socket)
	}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForClient waits until the daemon answers a ping and returns the
// connected client.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, *ipc.PongResponse, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err == nil {
			pong, pingErr := client.Ping(context.Background())
			if pingErr == nil {
				return client, pong, nil
			}
			_ = client.Close()
			err = pingErr
		}
		lastErr = err
		time.Sleep(200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return nil, nil, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted launches the daemon unless one already answers on the socket.
func EnsureStarted(socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	if client, err := ipc.Dial(socketPath); err == nil {
		pong, pingErr := client.Ping(context.Background())
		_ = client.Close()
		if pingErr == nil {
			return StartResult{State: StartStateAlreadyRunning, SessionID: pong.SessionID}, nil
		}
	}

	if err := Launch(executablePath, opts); err != nil {
		return StartResult{}, err
	}
	client, pong, err := WaitForClient(socketPath, waitTimeout)
	if err != nil {
		return StartResult{}, err
	}
	_ = client.Close()
	return StartResult{State: StartStateStarted, Launched: true, SessionID: pong.SessionID}, nil
}

// WaitForShutdown waits for the daemon socket to stop accepting connections.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		client, err := ipc.Dial(socketPath)
		if err != nil && errors.Is(err, ipc.ErrUnavailable) {
			return nil
		}
		if client != nil {
			_ = client.Close()
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("daemon did not stop: socket %s still accepting connections", socketPath)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// ReadPID parses the daemon pid file. A missing file yields zero and no error.
func ReadPID(pidPath string) (int, error) {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read daemon pid file %q: %w", pidPath, err)
	}
	pidStr := strings.TrimSpace(string(data))
	if pidStr == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid daemon pid file %q: %q", pidPath, pidStr)
	}
	return pid, nil
}

// ProcessAlive reports whether a process with pid exists.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	PID        int
	ForcedKill bool
}

// StopAndTerminate sends SIGTERM to the daemon named by the pid file, waits up
// to gracePeriod for it to exit, then sends SIGKILL and removes stale files.
func StopAndTerminate(cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	if cfg == nil {
		return StopResult{}, errors.New("configuration not available")
	}
	pidPath := cfg.PIDPath()
	pid, err := ReadPID(pidPath)
	if err != nil {
		return StopResult{}, err
	}
	if pid == 0 || !ProcessAlive(pid) {
		_ = os.Remove(pidPath)
		if waitErr := WaitForShutdown(cfg.Paths.Socket, 0); waitErr == nil {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, fmt.Errorf("socket %s answers but no daemon pid is recorded in %s", cfg.Paths.Socket, pidPath)
	}
	if pid == os.Getpid() {
		return StopResult{}, fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}

	result := StopResult{PID: pid}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			_ = os.Remove(pidPath)
			return result, nil
		}
		return result, fmt.Errorf("signal daemon process %d: %w", pid, err)
	}

	if waitForExit(pid, gracePeriod) {
		return result, nil
	}

	if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return result, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	result.ForcedKill = true
	waitForExit(pid, 2*time.Second)
	for _, path := range []string{pidPath, cfg.Paths.Socket} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return result, fmt.Errorf("remove %q: %w", path, err)
		}
	}
	return result, nil
}

func waitForExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if !ProcessAlive(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// RestartResult captures stop/start outcomes for daemon restart.
type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

// Restart stops the daemon if running, then starts it again.
func Restart(cfg *config.Config, executablePath string, opts LaunchOptions, stopGracePeriod, startWaitTimeout time.Duration) (RestartResult, error) {
	stopResult, stopErr := StopAndTerminate(cfg, stopGracePeriod)
	if stopErr != nil && !errors.Is(stopErr, ErrDaemonNotRunning) {
		return RestartResult{}, stopErr
	}

	startResult, err := EnsureStarted(cfg.Paths.Socket, executablePath, opts, startWaitTimeout)
	if err != nil {
		return RestartResult{}, err
	}

	return RestartResult{
		WasRunning: stopErr == nil,
		Stop:       stopResult,
		Start:      startResult,
	}, nil
}

// Snapshot aggregates everything `sigilla status` prints.
type Snapshot struct {
	Reachable   bool
	Status      ipc.StatusResponse
	PID         int
	Checks      []preflight.Result
	TurnCount   int
	LastTurn    *transcript.Turn
	StatusError error
}

// BuildStatusSnapshot queries the daemon when reachable and fills in offline
// details from the pid file, the transcript, and preflight checks.
func BuildStatusSnapshot(ctx context.Context, cfg *config.Config) (*Snapshot, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	snap := &Snapshot{}

	client, err := ipc.Dial(cfg.Paths.Socket)
	if err == nil {
		queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		resp, statusErr := client.Status(queryCtx)
		cancel()
		_ = client.Close()
		if statusErr == nil {
			snap.Reachable = true
			snap.Status = *resp
		} else {
			snap.StatusError = statusErr
		}
	} else if !errors.Is(err, ipc.ErrUnavailable) {
		snap.StatusError = err
	}

	if pid, pidErr := ReadPID(cfg.PIDPath()); pidErr == nil && ProcessAlive(pid) {
		snap.PID = pid
	}

	if cfg.Transcript.Enabled {
		if _, statErr := os.Stat(cfg.Transcript.Path); statErr == nil {
			if store, openErr := transcript.Open(cfg.Transcript.Path); openErr == nil {
				queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				if count, countErr := store.Count(queryCtx, snap.Status.SessionID); countErr == nil {
					snap.TurnCount = count
				}
				if turns, recentErr := store.Recent(queryCtx, 1); recentErr == nil && len(turns) > 0 {
					snap.LastTurn = &turns[0]
				}
				cancel()
				_ = store.Close()
			}
		}
	}

	snap.Checks = preflight.RunAll(cfg)
	return snap, nil
}
