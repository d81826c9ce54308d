package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// Environment variables understood by the fake backend.
const (
	// FakeArgsEnv names a file that receives the fake's argv, one per line.
	FakeArgsEnv = "FAKE_CLAUDE_ARGS"
	// FakeLogEnv names a file that receives every stdin line the fake reads.
	FakeLogEnv = "FAKE_CLAUDE_LOG"
	// FakeIgnoreTermEnv makes the fake ignore SIGTERM and linger after stdin closes.
	FakeIgnoreTermEnv = "FAKE_CLAUDE_IGNORE_TERM"
	// FakeHugeBytesEnv sets the padding size of the oversized line emitted for "huge".
	FakeHugeBytesEnv = "FAKE_CLAUDE_HUGE_BYTES"
)

// fakeClaudeScript speaks enough stream-json for tests. It prints an init
// marker, then answers each user turn according to its content:
//
//	crash    exit 3 without replying
//	orphan   leave a child holding stdout open, then exit 4
//	silent   reply nothing
//	slow*    sleep 0.3s, then echo
//	garbage  emit a non-JSON line and a blank line, then echo
//	huge     emit one oversized line, then echo
//	error    emit an error message
//	late     sleep 1.5s, then echo
//	*        assistant "echo: <content>" followed by a result with the same text
const fakeClaudeScript = `#!/bin/sh
if [ -n "$FAKE_CLAUDE_ARGS" ]; then
  for arg in "$@"; do printf '%s\n' "$arg"; done > "$FAKE_CLAUDE_ARGS"
fi
if [ -n "$FAKE_CLAUDE_IGNORE_TERM" ]; then
  trap '' TERM
fi

reply() {
  printf '{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"echo: %s"}]}}\n' "$1"
  printf '{"type":"result","subtype":"success","is_error":false,"result":"echo: %s"}\n' "$1"
}

printf '{"type":"system","subtype":"init","model":"fake"}\n'

while IFS= read -r line; do
  if [ -n "$FAKE_CLAUDE_LOG" ]; then
    printf '%s\n' "$line" >> "$FAKE_CLAUDE_LOG"
  fi
  content=$(printf '%s\n' "$line" | sed -n 's/.*"content":"\([^"]*\)".*/\1/p')
  case "$content" in
    crash) exit 3 ;;
    orphan) sleep 10 & exit 4 ;;
    silent) ;;
    slow*) sleep 0.3; reply "$content" ;;
    garbage) printf 'this is not json\n\n'; reply "$content" ;;
    huge)
      printf '{"type":"assistant","pad":"'
      head -c "${FAKE_CLAUDE_HUGE_BYTES:-70000}" /dev/zero | tr '\0' a
      printf '"}\n'
      reply "$content" ;;
    error) printf '{"type":"error","error":"boom"}\n' ;;
    late) sleep 1.5; reply "$content" ;;
    *) reply "$content" ;;
  esac
done

if [ -n "$FAKE_CLAUDE_IGNORE_TERM" ]; then
  while :; do sleep 1 </dev/null >/dev/null 2>&1; done
fi
`

// WriteFakeClaude writes the fake backend script into dir and returns its path.
func WriteFakeClaude(t testing.TB, dir string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir fake dir: %v", err)
	}
	path := filepath.Join(dir, "claude")
	if err := os.WriteFile(path, []byte(fakeClaudeScript), 0o755); err != nil {
		t.Fatalf("write fake claude: %v", err)
	}
	return path
}
