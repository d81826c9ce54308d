package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sigilla/internal/config"
)

func TestConsoleHandlerFormatsComponentAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "info", Format: "console", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	NewComponentLogger(logger, "ipc").Info("client connected", String(FieldConnID, "conn-1234"), Int("clients", 2))

	line := buf.String()
	if !strings.Contains(line, " INFO ipc: client connected") {
		t.Fatalf("unexpected prefix: %q", line)
	}
	if !strings.Contains(line, "conn_id=conn-1234") || !strings.Contains(line, "clients=2") {
		t.Fatalf("missing attrs: %q", line)
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("writer output must not be colorized: %q", line)
	}
	if strings.Contains(line, ".go:") {
		t.Fatalf("info logs should omit source: %q", line)
	}
}

func TestConsoleHandlerQuotesValuesWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Format: "console", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("sent", String("content", "hello there"))
	if !strings.Contains(buf.String(), `content="hello there"`) {
		t.Fatalf("expected quoted value, got %q", buf.String())
	}
}

func TestJSONHandlerUsesLowercaseLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "debug", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Warn("reader restarted", String(FieldEventType, "reader_restart"))

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if payload["level"] != "warn" {
		t.Fatalf("level = %v", payload["level"])
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatalf("expected ts key: %v", payload)
	}
	if src, _ := payload["source"].(string); !strings.HasPrefix(src, "logger_test.go:") {
		t.Fatalf("debug level should carry source, got %v", payload["source"])
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml", Writer: &bytes.Buffer{}}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNewFromConfigWritesJSONFile(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Format = "console"
	logPath := filepath.Join(t.TempDir(), "logs", "daemon.log")

	logger, err := NewFromConfig(&cfg, logPath)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	logger.Info("daemon started", String("socket", "/tmp/sigilla.sock"))

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &payload); err != nil {
		t.Fatalf("log file should hold JSON lines, got %q: %v", data, err)
	}
	if payload["msg"] != "daemon started" {
		t.Fatalf("msg = %v", payload["msg"])
	}
}

func TestFanoutRespectsPerHandlerLevel(t *testing.T) {
	var infoBuf, debugBuf bytes.Buffer
	infoHandler := slog.NewJSONHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo})
	debugHandler := slog.NewJSONHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug})

	logger := slog.New(TeeHandler(infoHandler, debugHandler)).With("conn_id", "conn-1")
	logger.Debug("queue drained")

	if infoBuf.Len() != 0 {
		t.Fatalf("info handler received debug record: %s", infoBuf.String())
	}
	if !strings.Contains(debugBuf.String(), `"conn_id":"conn-1"`) {
		t.Fatalf("debug handler missing attrs: %s", debugBuf.String())
	}
}

func TestTeeHandlerCollapsesNil(t *testing.T) {
	if _, ok := TeeHandler(nil, nil).(NoopHandler); !ok {
		t.Fatal("expected NoopHandler for nil handlers")
	}
	inner := slog.NewJSONHandler(&bytes.Buffer{}, nil)
	if TeeHandler(nil, inner) != inner {
		t.Fatal("single handler should be returned unwrapped")
	}
}

func TestWithSessionIDReadsCurrentValue(t *testing.T) {
	var buf bytes.Buffer
	id := ""
	logger := WithSessionID(slog.New(slog.NewJSONHandler(&buf, nil)), func() string { return id })

	logger.Info("before start")
	if strings.Contains(buf.String(), FieldSessionID) {
		t.Fatalf("empty id should be omitted: %s", buf.String())
	}
	buf.Reset()

	id = "3f0c"
	logger.With("extra", "value").Info("after start")
	if !strings.Contains(buf.String(), `"session_id":"3f0c"`) || !strings.Contains(buf.String(), `"extra":"value"`) {
		t.Fatalf("unexpected output: %s", buf.String())
	}
}

func TestWithSessionIDDoesNotDuplicateKey(t *testing.T) {
	var buf bytes.Buffer
	logger := WithSessionID(slog.New(slog.NewJSONHandler(&buf, nil)), func() string { return "live-id" })

	logger.With(String(FieldSessionID, "bound-id")).Info("from bound logger")
	logger.Info("inline", String(FieldSessionID, "inline-id"))

	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if strings.Count(line, `"session_id"`) != 1 {
			t.Fatalf("expected one session_id key: %s", line)
		}
		if strings.Contains(line, "live-id") {
			t.Fatalf("explicit session_id should win: %s", line)
		}
	}
}

func TestWithContextAddsConnAndRequest(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := WithRequestID(WithConnID(context.Background(), "conn-ab12"), "req-1")

	WithContext(ctx, base).Info("message queued")
	out := buf.String()
	if !strings.Contains(out, `"conn_id":"conn-ab12"`) || !strings.Contains(out, `"request_id":"req-1"`) {
		t.Fatalf("missing context fields: %s", out)
	}
	if WithContext(context.Background(), base) != base {
		t.Fatal("empty context should return logger unchanged")
	}
}

func TestWarnWithContextFillsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	WarnWithContext(logger, "line too long", "line_discarded", String(FieldImpact, "message dropped"))

	out := buf.String()
	for _, want := range []string{`"event_type":"line_discarded"`, `"error_hint":"check logs for details"`, `"impact":"message dropped"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
}

func TestCleanupOldLogsKeepsCurrent(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "sigilla-20240101.log")
	current := filepath.Join(dir, "sigilla-20240102.log")
	fresh := filepath.Join(dir, "sigilla-20990101.log")
	for _, path := range []string{old, current, fresh} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	stale := time.Now().AddDate(0, 0, -10)
	for _, path := range []string{old, current} {
		if err := os.Chtimes(path, stale, stale); err != nil {
			t.Fatal(err)
		}
	}

	removed := CleanupOldLogs(NewNop(), 3, RetentionTarget{Dir: dir, Pattern: "sigilla-*.log", Keep: current})
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected %s removed", old)
	}
	for _, path := range []string{current, fresh} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s kept: %v", path, err)
		}
	}
	if CleanupOldLogs(NewNop(), 0, RetentionTarget{Dir: dir}) != 0 {
		t.Fatal("zero retention must not prune")
	}
}
