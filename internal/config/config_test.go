package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"sigilla/internal/config"
)

func isolateEnv(t *testing.T) (string, string) {
	t.Helper()
	home := t.TempDir()
	runtimeBase := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_RUNTIME_DIR", runtimeBase)
	for _, key := range []string{
		config.EnvSocket,
		config.EnvWorkDir,
		config.EnvClaudeBin,
		config.EnvModel,
		config.EnvLogDir,
		config.EnvRuntimeDir,
		config.EnvNtfyTopic,
	} {
		t.Setenv(key, "")
	}
	return home, runtimeBase
}

func TestLoadDefaultConfigDerivesRuntimePaths(t *testing.T) {
	home, runtimeBase := isolateEnv(t)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantRuntime := filepath.Join(runtimeBase, "sigilla")
	if cfg.Paths.RuntimeDir != wantRuntime {
		t.Fatalf("unexpected runtime dir: got %q want %q", cfg.Paths.RuntimeDir, wantRuntime)
	}
	if cfg.Paths.Socket != filepath.Join(wantRuntime, "sigilla.sock") {
		t.Fatalf("unexpected socket path: %q", cfg.Paths.Socket)
	}
	if cfg.Paths.SessionFile != filepath.Join(wantRuntime, "session_id") {
		t.Fatalf("unexpected session file: %q", cfg.Paths.SessionFile)
	}
	if cfg.Paths.StateDir != filepath.Join(home, ".local", "state", "sigilla") {
		t.Fatalf("unexpected state dir: %q", cfg.Paths.StateDir)
	}
	if cfg.Transcript.Path != filepath.Join(cfg.Paths.StateDir, "transcript.db") {
		t.Fatalf("unexpected transcript path: %q", cfg.Transcript.Path)
	}
	if cfg.Backend.WorkingDir != home {
		t.Fatalf("expected working dir to default to home, got %q", cfg.Backend.WorkingDir)
	}
	if cfg.Backend.Binary != "claude" {
		t.Fatalf("unexpected backend binary: %q", cfg.Backend.Binary)
	}
	if cfg.Backend.MaxLineBytes != 16*1024*1024 {
		t.Fatalf("unexpected max line bytes: %d", cfg.Backend.MaxLineBytes)
	}
	if cfg.ResponseTimeout().Seconds() != 300 {
		t.Fatalf("unexpected response timeout: %s", cfg.ResponseTimeout())
	}
	if cfg.StopGrace().Seconds() != 5 {
		t.Fatalf("unexpected stop grace: %s", cfg.StopGrace())
	}
	if cfg.SocketFileMode() != 0o660 {
		t.Fatalf("unexpected socket mode: %o", cfg.SocketFileMode())
	}
	if cfg.PIDPath() != filepath.Join(wantRuntime, "sigilla.pid") {
		t.Fatalf("unexpected pid path: %q", cfg.PIDPath())
	}
}

func TestLoadCustomPath(t *testing.T) {
	isolateEnv(t)
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "sigilla.toml")

	type payload struct {
		Paths struct {
			RuntimeDir string `toml:"runtime_dir"`
		} `toml:"paths"`
		Backend struct {
			Model                  string   `toml:"model"`
			AllowedTools           []string `toml:"allowed_tools"`
			ResponseTimeoutSeconds int      `toml:"response_timeout_seconds"`
		} `toml:"backend"`
		Logging struct {
			Format string `toml:"format"`
		} `toml:"logging"`
	}
	custom := payload{}
	custom.Paths.RuntimeDir = filepath.Join(tempDir, "run")
	custom.Backend.Model = "claude-sonnet-test"
	custom.Backend.AllowedTools = []string{" Read ", "", "Write"}
	custom.Backend.ResponseTimeoutSeconds = 42
	custom.Logging.Format = "JSON"
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Backend.Model != "claude-sonnet-test" {
		t.Fatalf("expected model from file, got %q", cfg.Backend.Model)
	}
	if got := strings.Join(cfg.Backend.AllowedTools, ","); got != "Read,Write" {
		t.Fatalf("expected trimmed allowed tools, got %q", got)
	}
	if cfg.Backend.ResponseTimeoutSeconds != 42 {
		t.Fatalf("expected response timeout 42, got %d", cfg.Backend.ResponseTimeoutSeconds)
	}
	if cfg.Paths.Socket != filepath.Join(tempDir, "run", "sigilla.sock") {
		t.Fatalf("expected socket under custom runtime dir, got %q", cfg.Paths.Socket)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected lowercased log format, got %q", cfg.Logging.Format)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	isolateEnv(t)
	configPath := filepath.Join(t.TempDir(), "sigilla.toml")
	if err := os.WriteFile(configPath, []byte("[backend]\nmodle = \"typo\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestEnvVarsOverrideConfigFile(t *testing.T) {
	isolateEnv(t)
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "sigilla.toml")
	content := "[backend]\nbinary = \"from-file\"\nmodel = \"file-model\"\n"
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	socket := filepath.Join(tempDir, "custom.sock")
	workdir := filepath.Join(tempDir, "vault")
	t.Setenv(config.EnvClaudeBin, "from-env")
	t.Setenv(config.EnvModel, "env-model")
	t.Setenv(config.EnvSocket, socket)
	t.Setenv(config.EnvWorkDir, workdir)
	t.Setenv(config.EnvNtfyTopic, "https://ntfy.example/sigilla")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Backend.Binary != "from-env" {
		t.Fatalf("expected binary from env, got %q", cfg.Backend.Binary)
	}
	if cfg.Backend.Model != "env-model" {
		t.Fatalf("expected model from env, got %q", cfg.Backend.Model)
	}
	if cfg.Paths.Socket != socket {
		t.Fatalf("expected socket from env, got %q", cfg.Paths.Socket)
	}
	if cfg.Backend.WorkingDir != workdir {
		t.Fatalf("expected working dir from env, got %q", cfg.Backend.WorkingDir)
	}
	if cfg.Notifications.NtfyTopic != "https://ntfy.example/sigilla" {
		t.Fatalf("expected ntfy topic from env, got %q", cfg.Notifications.NtfyTopic)
	}
	if cfg.NotifyTimeout() != 10*time.Second {
		t.Fatalf("notify timeout = %s", cfg.NotifyTimeout())
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if cfg.Backend.Binary != "claude" {
		t.Fatalf("expected sample binary claude, got %q", cfg.Backend.Binary)
	}
	if cfg.Server.SocketMode != "0660" {
		t.Fatalf("expected sample socket mode 0660, got %q", cfg.Server.SocketMode)
	}

	isolateEnv(t)
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config should load cleanly: %v", err)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	isolateEnv(t)
	base, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"empty model", func(c *config.Config) { c.Backend.Model = "" }},
		{"tiny line limit", func(c *config.Config) { c.Backend.MaxLineBytes = 10 }},
		{"managed extra arg", func(c *config.Config) { c.Backend.ExtraArgs = []string{"--resume"} }},
		{"world readable socket", func(c *config.Config) { c.Server.SocketMode = "0666" }},
		{"owner locked out", func(c *config.Config) { c.Server.SocketMode = "0060" }},
		{"bad socket mode", func(c *config.Config) { c.Server.SocketMode = "rw-rw----" }},
		{"bad timezone", func(c *config.Config) { c.Heartbeat.Timezone = "Mars/Olympus" }},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }},
		{"bad log level", func(c *config.Config) { c.Logging.Level = "loud" }},
		{"ntfy topic without scheme", func(c *config.Config) { c.Notifications.NtfyTopic = "ntfy.sh/topic" }},
		{"socket equals session file", func(c *config.Config) { c.Paths.SessionFile = c.Paths.Socket }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := *base
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
		})
	}

	if err := base.Validate(); err != nil {
		t.Fatalf("expected loaded defaults to validate, got %v", err)
	}
}

func TestParseFileMode(t *testing.T) {
	for input, want := range map[string]os.FileMode{
		"0660":  0o660,
		"660":   0o660,
		"0o600": 0o600,
		" 0640": 0o640,
	} {
		got, err := config.ParseFileMode(input)
		if err != nil {
			t.Fatalf("ParseFileMode(%q) returned error: %v", input, err)
		}
		if got != want {
			t.Fatalf("ParseFileMode(%q) = %o, want %o", input, got, want)
		}
	}
	for _, input := range []string{"", "0999", "17777"} {
		if _, err := config.ParseFileMode(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestEnsureDirectories(t *testing.T) {
	isolateEnv(t)
	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.RuntimeDir, cfg.Paths.StateDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s to exist (err=%v)", dir, err)
		}
	}
}
