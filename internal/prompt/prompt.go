// Package prompt builds the text sent for timer-driven heartbeat prompts.
package prompt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// TimestampLayout renders like "Monday, January 2, 2006 at 3:04 PM MST".
const TimestampLayout = "Monday, January 2, 2006 at 3:04 PM MST"

// ErrEmptyPrompt reports a prompt file with no content.
var ErrEmptyPrompt = errors.New("prompt file is empty")

// Heartbeat describes how the timestamp preamble is rendered.
type Heartbeat struct {
	Location *time.Location
	Place    string
	Now      func() time.Time
}

// LoadLocation resolves an IANA zone name. Empty and "Local" use the system zone.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

// Preamble returns the "Current date and time" line.
func (h Heartbeat) Preamble() string {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	loc := h.Location
	if loc == nil {
		loc = time.Local
	}
	label := "Current date and time"
	if place := strings.TrimSpace(h.Place); place != "" {
		label += " in " + place
	}
	return fmt.Sprintf("%s: %s", label, now().In(loc).Format(TimestampLayout))
}

// Compose prepends the preamble to body.
func (h Heartbeat) Compose(body string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", ErrEmptyPrompt
	}
	return h.Preamble() + "\n\n" + body, nil
}

// ComposeFile reads path and prepends the preamble.
func (h Heartbeat) ComposeFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt file: %w", err)
	}
	text, err := h.Compose(string(data))
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return text, nil
}

// Title derives a display title from a prompt file name:
// "morning-reflection.md" becomes "Morning Reflection".
func Title(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	cleaned := strings.Builder{}
	prevSpace := false
	for _, r := range base {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			cleaned.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '.':
			if !prevSpace {
				cleaned.WriteRune(' ')
				prevSpace = true
			}
		}
	}
	title := strings.TrimSpace(cleaned.String())
	if title == "" {
		return "Heartbeat"
	}
	return cases.Title(language.Und).String(title)
}
