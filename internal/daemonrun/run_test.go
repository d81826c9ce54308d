package daemonrun

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"sigilla/internal/ipc"
	"sigilla/internal/notifications"
	"sigilla/internal/testsupport"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
	last   notifications.Payload
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.last = payload
	return nil
}

func TestRunServesUntilCancelled(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithFakeClaude())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifier := &recordingNotifier{}
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, Options{LogLevel: "debug", Notifier: notifier}) }()

	var client *ipc.Client
	deadline := time.Now().Add(5 * time.Second)
	for {
		c, err := ipc.Dial(cfg.Paths.Socket)
		if err == nil {
			client = c
			break
		}
		select {
		case runErr := <-done:
			if runErr != nil && strings.Contains(runErr.Error(), "operation not permitted") {
				t.Skipf("skipping daemon run test: %v", runErr)
			}
			t.Fatalf("Run returned early: %v", runErr)
		default:
		}
		if time.Now().After(deadline) {
			t.Fatalf("daemon socket never came up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if _, err := client.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	_ = client.Close()

	// The pid file and start notification follow the socket coming up.
	var data []byte
	waitUntil(t, func() bool {
		var err error
		data, err = os.ReadFile(cfg.PIDPath())
		return err == nil && len(data) > 0
	})
	if pid, _ := strconv.Atoi(strings.TrimSpace(string(data))); pid != os.Getpid() {
		t.Fatalf("pid file = %q, want %d", data, os.Getpid())
	}
	if _, err := os.Lstat(filepath.Join(cfg.Paths.LogDir, "sigilla.log")); err != nil {
		t.Fatalf("log pointer missing: %v", err)
	}
	waitUntil(t, func() bool {
		notifier.mu.Lock()
		defer notifier.mu.Unlock()
		return len(notifier.events) > 0
	})
	notifier.mu.Lock()
	if len(notifier.events) != 1 || notifier.events[0] != notifications.EventDaemonStarted || notifier.last["session_id"] == "" {
		t.Fatalf("unexpected notifications: %v %v", notifier.events, notifier.last)
	}
	notifier.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	for _, path := range []string{cfg.Paths.Socket, cfg.PIDPath()} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatalf("%s should be removed, stat err = %v", path, err)
		}
	}
}

func waitUntil(t *testing.T, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !fn() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 5s")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEnsureCurrentLogPointerReplacesLink(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "sigilla-1.log")
	second := filepath.Join(dir, "sigilla-2.log")
	for _, p := range []string{first, second} {
		if err := os.WriteFile(p, []byte(filepath.Base(p)), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := ensureCurrentLogPointer(dir, first); err != nil {
		t.Fatalf("first pointer: %v", err)
	}
	if err := ensureCurrentLogPointer(dir, second); err != nil {
		t.Fatalf("second pointer: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "sigilla.log"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "sigilla-2.log" {
		t.Fatalf("pointer resolves to %q", data)
	}
}
