package preflight

import (
	"sigilla/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// RunAll executes all preflight checks for the given config.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckBinary("Backend binary", cfg.Backend.Binary),
		CheckDirectoryAccess("Working directory", cfg.Backend.WorkingDir),
	}

	// Runtime and state directories are created on start, so a missing one is
	// only a failure when its parent cannot be written.
	results = append(results,
		CheckCreatableDirectory("Runtime directory", cfg.Paths.RuntimeDir),
		CheckCreatableDirectory("State directory", cfg.Paths.StateDir),
	)

	session := CheckSessionFile(cfg.Paths.SessionFile)
	session.Optional = true
	results = append(results, session)
	return results
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			failed = append(failed, r)
		}
	}
	return failed
}
