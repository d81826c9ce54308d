package config

import "io/fs"

const (
	defaultConfigPath             = "~/.config/sigilla/config.toml"
	defaultStateDir               = "~/.local/state/sigilla"
	defaultLogDir                 = "~/.local/state/sigilla/logs"
	defaultSocketName             = "sigilla.sock"
	defaultSessionFileName        = "session_id"
	defaultTranscriptName         = "transcript.db"
	defaultBinary                 = "claude"
	defaultModel                  = "claude-opus-4-5-20251101"
	defaultMaxLineBytes           = 16 * 1024 * 1024
	defaultResponseTimeoutSeconds = 300
	defaultStopGraceSeconds       = 5
	defaultReaderRestartDelayMS   = 500
	defaultSocketMode             = "0660"
	defaultSocketFileMode         = fs.FileMode(0o660)
	defaultClientTimeoutSeconds   = 300
	defaultHeartbeatTimezone      = "Local"
	defaultNotifyTimeoutSeconds   = 10
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLogRetentionDays       = 30
)

// Default returns a Config populated with repository defaults. Path fields
// derived from runtime_dir and state_dir are filled in during normalization.
func Default() Config {
	return Config{
		Paths: Paths{
			RuntimeDir: defaultRuntimeDir(),
			StateDir:   defaultStateDir,
			LogDir:     defaultLogDir,
		},
		Backend: Backend{
			Binary:                 defaultBinary,
			Model:                  defaultModel,
			SkipPermissions:        true,
			AllowedTools:           []string{"*"},
			MaxLineBytes:           defaultMaxLineBytes,
			ResponseTimeoutSeconds: defaultResponseTimeoutSeconds,
			StopGraceSeconds:       defaultStopGraceSeconds,
			ReaderRestartDelayMS:   defaultReaderRestartDelayMS,
		},
		Server: Server{
			SocketMode: defaultSocketMode,
		},
		Transcript: Transcript{
			Enabled: true,
		},
		Client: Client{
			TimeoutSeconds: defaultClientTimeoutSeconds,
		},
		Heartbeat: Heartbeat{
			Timezone: defaultHeartbeatTimezone,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNotifyTimeoutSeconds,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
