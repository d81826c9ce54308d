package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const minLineBytes = 4096

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateBackend(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateHeartbeat(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic == "" {
		return nil
	}
	parsed, err := url.Parse(topic)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("notifications.ntfy_topic must be an http(s) URL, got %q", topic)
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.Socket == "" {
		return errors.New("paths.socket must be set")
	}
	if c.Paths.SessionFile == "" {
		return errors.New("paths.session_file must be set")
	}
	if c.Paths.Socket == c.Paths.SessionFile {
		return errors.New("paths.socket and paths.session_file must differ")
	}
	return nil
}

func (c *Config) validateBackend() error {
	if c.Backend.Model == "" {
		return fmt.Errorf("backend.model is required. Set %s or edit %s (create with 'sigilla config init')", EnvModel, defaultConfigPath)
	}
	if c.Backend.MaxLineBytes < minLineBytes {
		return fmt.Errorf("backend.max_line_bytes must be at least %d", minLineBytes)
	}
	for _, arg := range c.Backend.ExtraArgs {
		switch arg {
		case "--resume", "--session-id", "--input-format", "--output-format":
			return fmt.Errorf("backend.extra_args must not include %s; the daemon manages it", arg)
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	mode, err := ParseFileMode(c.Server.SocketMode)
	if err != nil {
		return fmt.Errorf("server.socket_mode: %w", err)
	}
	if mode&0o007 != 0 {
		return fmt.Errorf("server.socket_mode %s grants world access; use group bits instead", c.Server.SocketMode)
	}
	if mode&0o600 != 0o600 {
		return fmt.Errorf("server.socket_mode %s must allow owner read/write", c.Server.SocketMode)
	}
	return nil
}

func (c *Config) validateHeartbeat() error {
	if _, err := time.LoadLocation(c.Heartbeat.Timezone); err != nil {
		return fmt.Errorf("heartbeat.timezone: %w", err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

// ParseFileMode parses an octal permission string such as "0660" or "660".
func ParseFileMode(value string) (fs.FileMode, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0o")
	if trimmed == "" {
		return 0, errors.New("empty file mode")
	}
	parsed, err := strconv.ParseUint(trimmed, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid file mode %q: %w", value, err)
	}
	if parsed > 0o777 {
		return 0, fmt.Errorf("invalid file mode %q: only permission bits are allowed", value)
	}
	return fs.FileMode(parsed), nil
}
