package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment variables honoured on top of the config file. They take
// precedence over file values so service units can override a shared config.
const (
	EnvSocket     = "SIGILLA_SOCKET"
	EnvWorkDir    = "SIGILLA_WORKDIR"
	EnvClaudeBin  = "SIGILLA_CLAUDE_BIN"
	EnvModel      = "SIGILLA_MODEL"
	EnvLogDir     = "SIGILLA_LOG_DIR"
	EnvRuntimeDir = "SIGILLA_RUNTIME_DIR"
	EnvNtfyTopic  = "SIGILLA_NTFY_TOPIC"
)

func (c *Config) normalize() error {
	c.applyEnv()
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeBackend(); err != nil {
		return err
	}
	if err := c.normalizeTranscript(); err != nil {
		return err
	}
	c.normalizeServer()
	c.normalizeClient()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) applyEnv() {
	if value, ok := lookupEnv(EnvRuntimeDir); ok {
		c.Paths.RuntimeDir = value
	}
	if value, ok := lookupEnv(EnvSocket); ok {
		c.Paths.Socket = value
	}
	if value, ok := lookupEnv(EnvLogDir); ok {
		c.Paths.LogDir = value
	}
	if value, ok := lookupEnv(EnvWorkDir); ok {
		c.Backend.WorkingDir = value
	}
	if value, ok := lookupEnv(EnvClaudeBin); ok {
		c.Backend.Binary = value
	}
	if value, ok := lookupEnv(EnvModel); ok {
		c.Backend.Model = value
	}
	if value, ok := lookupEnv(EnvNtfyTopic); ok {
		c.Notifications.NtfyTopic = value
	}
}

func lookupEnv(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.RuntimeDir) == "" {
		c.Paths.RuntimeDir = defaultRuntimeDir()
	}
	if c.Paths.RuntimeDir, err = expandPath(c.Paths.RuntimeDir); err != nil {
		return fmt.Errorf("paths.runtime_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.Socket) == "" {
		c.Paths.Socket = filepath.Join(c.Paths.RuntimeDir, defaultSocketName)
	}
	if c.Paths.Socket, err = expandPath(c.Paths.Socket); err != nil {
		return fmt.Errorf("paths.socket: %w", err)
	}
	if strings.TrimSpace(c.Paths.SessionFile) == "" {
		c.Paths.SessionFile = filepath.Join(c.Paths.RuntimeDir, defaultSessionFileName)
	}
	if c.Paths.SessionFile, err = expandPath(c.Paths.SessionFile); err != nil {
		return fmt.Errorf("paths.session_file: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeBackend() error {
	c.Backend.Binary = strings.TrimSpace(c.Backend.Binary)
	if c.Backend.Binary == "" {
		c.Backend.Binary = defaultBinary
	}
	c.Backend.Model = strings.TrimSpace(c.Backend.Model)
	if strings.TrimSpace(c.Backend.WorkingDir) == "" {
		c.Backend.WorkingDir = "~"
	}
	var err error
	if c.Backend.WorkingDir, err = expandPath(c.Backend.WorkingDir); err != nil {
		return fmt.Errorf("backend.working_dir: %w", err)
	}
	c.Backend.AllowedTools = trimList(c.Backend.AllowedTools)
	c.Backend.ExtraArgs = trimList(c.Backend.ExtraArgs)
	if c.Backend.MaxLineBytes <= 0 {
		c.Backend.MaxLineBytes = defaultMaxLineBytes
	}
	if c.Backend.ResponseTimeoutSeconds <= 0 {
		c.Backend.ResponseTimeoutSeconds = defaultResponseTimeoutSeconds
	}
	if c.Backend.StopGraceSeconds <= 0 {
		c.Backend.StopGraceSeconds = defaultStopGraceSeconds
	}
	if c.Backend.ReaderRestartDelayMS <= 0 {
		c.Backend.ReaderRestartDelayMS = defaultReaderRestartDelayMS
	}
	return nil
}

func (c *Config) normalizeTranscript() error {
	if strings.TrimSpace(c.Transcript.Path) == "" {
		c.Transcript.Path = filepath.Join(c.Paths.StateDir, defaultTranscriptName)
	}
	var err error
	if c.Transcript.Path, err = expandPath(c.Transcript.Path); err != nil {
		return fmt.Errorf("transcript.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeServer() {
	c.Server.SocketMode = strings.TrimSpace(c.Server.SocketMode)
	if c.Server.SocketMode == "" {
		c.Server.SocketMode = defaultSocketMode
	}
}

func (c *Config) normalizeClient() {
	if c.Client.TimeoutSeconds <= 0 {
		c.Client.TimeoutSeconds = defaultClientTimeoutSeconds
	}
	c.Heartbeat.Timezone = strings.TrimSpace(c.Heartbeat.Timezone)
	if c.Heartbeat.Timezone == "" {
		c.Heartbeat.Timezone = defaultHeartbeatTimezone
	}
	c.Heartbeat.Location = strings.TrimSpace(c.Heartbeat.Location)
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNotifyTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func trimList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
