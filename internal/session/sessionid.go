package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LoadOrCreateID returns the persisted session identifier at path. When the
// file is missing or blank a new identifier is generated and written before
// returning, and resumed is false.
func LoadOrCreateID(path string) (id string, resumed bool, err error) {
	if strings.TrimSpace(path) == "" {
		return "", false, errors.New("session id path is empty")
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if existing := strings.TrimSpace(string(data)); existing != "" {
			return existing, true, nil
		}
	case !errors.Is(err, fs.ErrNotExist):
		return "", false, fmt.Errorf("read session id: %w", err)
	}

	id = uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", false, fmt.Errorf("create session id dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", false, fmt.Errorf("write session id: %w", err)
	}
	return id, false, nil
}
