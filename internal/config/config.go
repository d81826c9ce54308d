package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains runtime and state locations.
type Paths struct {
	RuntimeDir  string `toml:"runtime_dir"`
	Socket      string `toml:"socket"`
	SessionFile string `toml:"session_file"`
	StateDir    string `toml:"state_dir"`
	LogDir      string `toml:"log_dir"`
}

// Backend describes the claude subprocess the daemon keeps alive.
type Backend struct {
	Binary                 string   `toml:"binary"`
	Model                  string   `toml:"model"`
	WorkingDir             string   `toml:"working_dir"`
	SkipPermissions        bool     `toml:"skip_permissions"`
	AllowedTools           []string `toml:"allowed_tools"`
	ExtraArgs              []string `toml:"extra_args"`
	MaxLineBytes           int      `toml:"max_line_bytes"`
	ResponseTimeoutSeconds int      `toml:"response_timeout_seconds"`
	StopGraceSeconds       int      `toml:"stop_grace_seconds"`
	ReaderRestartDelayMS   int      `toml:"reader_restart_delay_ms"`
}

// Server contains socket server settings.
type Server struct {
	SocketMode string `toml:"socket_mode"`
}

// Transcript controls the turn history database.
type Transcript struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Client contains defaults for the CLI clients.
type Client struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// Heartbeat contains settings for timer-driven prompt files.
type Heartbeat struct {
	Timezone string `toml:"timezone"`
	Location string `toml:"location"`
}

// Notifications contains ntfy settings for daemon lifecycle alerts.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for Sigilla.
//
// Configuration sections by subsystem:
//   - Paths: runtime directory, socket, session id file, state and logs
//   - Backend: claude binary, model, arguments and timeouts
//   - Server: socket permissions
//   - Transcript: sqlite turn history
//   - Client: CLI read timeout
//   - Heartbeat: timestamp preamble for prompt files
//   - Notifications: ntfy alerts for daemon start and backend exit
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Backend       Backend       `toml:"backend"`
	Server        Server        `toml:"server"`
	Transcript    Transcript    `toml:"transcript"`
	Client        Client        `toml:"client"`
	Heartbeat     Heartbeat     `toml:"heartbeat"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("sigilla.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.RuntimeDir,
		filepath.Dir(c.Paths.Socket),
		filepath.Dir(c.Paths.SessionFile),
		c.Paths.StateDir,
		c.Paths.LogDir,
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// PIDPath returns the daemon pid file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.RuntimeDir, "sigilla.pid")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.RuntimeDir, "sigillad.lock")
}

// ResponseTimeout returns the per-request deadline for backend responses.
func (c *Config) ResponseTimeout() time.Duration {
	return time.Duration(c.Backend.ResponseTimeoutSeconds) * time.Second
}

// StopGrace returns how long the backend gets to exit after SIGTERM.
func (c *Config) StopGrace() time.Duration {
	return time.Duration(c.Backend.StopGraceSeconds) * time.Second
}

// ReaderRestartDelay returns the pause before a failed output reader is restarted.
func (c *Config) ReaderRestartDelay() time.Duration {
	return time.Duration(c.Backend.ReaderRestartDelayMS) * time.Millisecond
}

// ClientTimeout returns the default read deadline for CLI clients.
func (c *Config) ClientTimeout() time.Duration {
	return time.Duration(c.Client.TimeoutSeconds) * time.Second
}

// NotifyTimeout returns the HTTP timeout for ntfy requests.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeoutSeconds) * time.Second
}

// SocketFileMode returns the parsed socket permission bits.
func (c *Config) SocketFileMode() fs.FileMode {
	mode, err := ParseFileMode(c.Server.SocketMode)
	if err != nil {
		return defaultSocketFileMode
	}
	return mode
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultRuntimeDir() string {
	if base, ok := os.LookupEnv("XDG_RUNTIME_DIR"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "sigilla")
	}
	return "/run/sigilla"
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// SampleConfig returns the embedded sample configuration text.
func SampleConfig() string {
	return sampleConfig
}
