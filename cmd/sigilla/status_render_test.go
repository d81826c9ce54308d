package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"sigilla/internal/daemonctl"
	"sigilla/internal/ipc"
	"sigilla/internal/preflight"
	"sigilla/internal/transcript"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Sigilla", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Sigilla:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Sigilla", statusOK, "Running", true)
	if !strings.HasPrefix(got, ansiGreen) {
		t.Fatalf("expected green prefix, got %q", got)
	}
	if !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", got)
	}
}

func TestSystemStatusLines(t *testing.T) {
	offline := systemStatusLines(&daemonctl.Snapshot{}, nil, false)
	if len(offline) != 2 || !strings.Contains(offline[0], "[WARN] Not running") || !strings.Contains(offline[1], "[INFO] Inactive") {
		t.Fatalf("unexpected offline lines: %q", offline)
	}

	dead := systemStatusLines(&daemonctl.Snapshot{
		Reachable:   true,
		PID:         42,
		Status:      ipc.StatusResponse{SessionID: "abc", Running: false},
		StatusError: errors.New("slow"),
	}, nil, false)
	if !strings.Contains(dead[0], "Running (pid 42)") {
		t.Fatalf("expected pid in daemon line, got %q", dead[0])
	}
	if !strings.Contains(dead[1], "[ERROR] Not running (run `sigilla restart`)") {
		t.Fatalf("expected backend error line, got %q", dead[1])
	}
	if !strings.Contains(dead[len(dead)-1], "[WARN] slow") {
		t.Fatalf("expected status error line, got %q", dead[len(dead)-1])
	}
}

func TestSessionRows(t *testing.T) {
	now := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)
	snap := &daemonctl.Snapshot{
		Status:    ipc.StatusResponse{SessionID: "3f0c", Running: true, ActiveClients: 2},
		TurnCount: 7,
		LastTurn:  &transcript.Turn{FinishedAt: now.Add(-90 * time.Second), Outcome: transcript.OutcomeResult},
	}
	rows := sessionRows(snap, now)
	got := map[string]string{}
	for _, row := range rows {
		got[row[0]] = row[1]
	}
	if got["Session ID"] != "3f0c" || got["Backend running"] != "yes" || got["Active clients"] != "2" || got["Turns recorded"] != "7" {
		t.Fatalf("unexpected rows: %v", got)
	}
	if got["Last turn"] != "1m ago (result)" {
		t.Fatalf("last turn = %q", got["Last turn"])
	}
}

func TestCheckLines(t *testing.T) {
	lines := checkLines([]preflight.Result{
		{Name: "Backend binary", Passed: true, Detail: "/usr/bin/claude"},
		{Name: "Working directory", Detail: "missing"},
		{Name: "Session file", Optional: true, Detail: "none yet"},
	}, false)
	if !strings.Contains(lines[0], "[OK]") || !strings.Contains(lines[1], "[ERROR]") || !strings.Contains(lines[2], "[INFO]") {
		t.Fatalf("unexpected check lines: %q", lines)
	}
}

func TestRenderTableTruncates(t *testing.T) {
	out := renderTable([]column{{Header: "Prompt", MaxWidth: 8}}, [][]string{{"a very long prompt"}})
	if !strings.Contains(out, "a very …") {
		t.Fatalf("expected truncated cell, got:\n%s", out)
	}
	if truncate("short", 8) != "short" {
		t.Fatal("short strings must be unchanged")
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}

func TestStatusCommandOffline(t *testing.T) {
	env := setupCLITestEnv(t)
	env.daemon.Stop(t.Context())
	out, _, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "== System Status ==")
	requireContains(t, out, "Not running (run `sigilla start`)")
	requireContains(t, out, "== Checks ==")
	requireContains(t, out, "Backend binary:")
}

func TestStatusCommandRunning(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Claude Session:")
	requireContains(t, out, env.daemon.Status().SessionID)
}
