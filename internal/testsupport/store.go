package testsupport

import (
	"testing"

	"sigilla/internal/config"
	"sigilla/internal/transcript"
)

// MustOpenTranscript opens the transcript store named by cfg and registers cleanup.
func MustOpenTranscript(t testing.TB, cfg *config.Config) *transcript.Store {
	t.Helper()

	store, err := transcript.Open(cfg.Transcript.Path)
	if err != nil {
		t.Fatalf("transcript.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
