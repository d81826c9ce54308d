package testsupport

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"sigilla/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The runtime directory lives under a short /tmp path because unix socket
// paths are limited to about 100 bytes.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	runtimeDir, err := os.MkdirTemp("", "sg")
	if err != nil {
		t.Fatalf("mkdir runtime dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(runtimeDir) })

	cfgVal := config.Default()
	cfgVal.Paths.RuntimeDir = runtimeDir
	cfgVal.Paths.Socket = filepath.Join(runtimeDir, "sigilla.sock")
	cfgVal.Paths.SessionFile = filepath.Join(runtimeDir, "session_id")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Transcript.Path = filepath.Join(base, "state", "transcript.db")
	cfgVal.Backend.WorkingDir = base
	cfgVal.Backend.ResponseTimeoutSeconds = 5
	cfgVal.Backend.StopGraceSeconds = 1
	cfgVal.Backend.ReaderRestartDelayMS = 10
	cfgVal.Client.TimeoutSeconds = 5

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithFakeClaude points the backend binary at the scripted fake.
func WithFakeClaude() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Backend.Binary = WriteFakeClaude(b.t, filepath.Join(b.baseDir, "bin"))
	}
}

// WithResponseTimeout overrides the per-turn deadline in whole seconds.
func WithResponseTimeout(d time.Duration) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Backend.ResponseTimeoutSeconds = int(d / time.Second)
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the backend binary is stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"claude"}
		}
		binDir := filepath.Join(b.baseDir, "stubs")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
