package preflight

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sigilla/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckCreatableDirectory(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "a", "b")
	result := CheckCreatableDirectory("runtime", missing)
	if !result.Passed || !strings.Contains(result.Detail, "created on start") {
		t.Fatalf("expected creatable pass, got %+v", result)
	}
	if CheckCreatableDirectory("runtime", "").Passed {
		t.Fatal("empty path should fail")
	}
}

func TestCheckBinary(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "claude")
	if err := os.WriteFile(present, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	if result := CheckBinary("Backend", present); !result.Passed || result.Detail != present {
		t.Fatalf("expected pass with resolved path, got %+v", result)
	}
	if CheckBinary("Backend", "clearly-not-present-binary").Passed {
		t.Fatal("missing binary should fail")
	}
	if result := CheckBinary("Backend", " "); result.Passed || result.Detail != "command not configured" {
		t.Fatalf("unexpected blank result: %+v", result)
	}
}

func TestCheckSessionFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session_id")
	if result := CheckSessionFile(path); result.Passed {
		t.Fatalf("missing file should not pass: %+v", result)
	}
	if err := os.WriteFile(path, []byte("3f0c\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if result := CheckSessionFile(path); !result.Passed || result.Detail != "resumes 3f0c" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRunAllWithStubbedBackend(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	results := RunAll(cfg)
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}

	cfg.Backend.Binary = "clearly-not-present-binary"
	failed := Failed(RunAll(cfg))
	if len(failed) != 1 || failed[0].Name != "Backend binary" {
		t.Fatalf("expected backend failure only, got %+v", failed)
	}
}
