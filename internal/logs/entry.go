package logs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Entry is one decoded JSON log record.
type Entry struct {
	Time      time.Time
	Level     string
	Component string
	Message   string
	Source    string
	Attrs     map[string]any
}

var reservedKeys = map[string]bool{
	"ts": true, "level": true, "msg": true, "component": true, "source": true,
}

// ParseEntry decodes a JSON log line. Lines that are not JSON objects return
// an error so callers can print them raw.
func ParseEntry(line string) (Entry, error) {
	dec := json.NewDecoder(strings.NewReader(line))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return Entry{}, fmt.Errorf("decode log line: %w", err)
	}
	if raw == nil {
		return Entry{}, fmt.Errorf("decode log line: not an object")
	}

	entry := Entry{Attrs: make(map[string]any, len(raw))}
	if ts, ok := raw["ts"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			entry.Time = parsed
		}
	}
	entry.Level = strings.ToLower(stringField(raw, "level"))
	entry.Message = stringField(raw, "msg")
	entry.Component = stringField(raw, "component")
	entry.Source = stringField(raw, "source")
	for key, value := range raw {
		if !reservedKeys[key] {
			entry.Attrs[key] = value
		}
	}
	return entry, nil
}

func stringField(raw map[string]any, key string) string {
	if v, ok := raw[key].(string); ok {
		return v
	}
	return ""
}

// Filter narrows entries. Zero fields match everything; Level is a minimum.
type Filter struct {
	Level     string
	Component string
	ConnID    string
	SessionID string
}

// Match reports whether entry passes every set field.
func (f Filter) Match(entry Entry) bool {
	if f.Level != "" && levelRank(entry.Level) < levelRank(f.Level) {
		return false
	}
	if f.Component != "" && !strings.EqualFold(entry.Component, f.Component) {
		return false
	}
	if f.ConnID != "" && attrText(entry.Attrs["conn_id"]) != f.ConnID {
		return false
	}
	if f.SessionID != "" && !strings.HasPrefix(attrText(entry.Attrs["session_id"]), f.SessionID) {
		return false
	}
	return true
}

// Empty reports whether the filter accepts every entry.
func (f Filter) Empty() bool {
	return f == Filter{}
}

// ValidLevel reports whether level names a known severity.
func ValidLevel(level string) bool {
	return levelRank(level) >= 0
}

func levelRank(level string) int {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return 0
	case "info", "":
		return 1
	case "warn", "warning":
		return 2
	case "error":
		return 3
	default:
		return -1
	}
}

// Format renders entry as "ts LEVEL component: msg key=value ...", with
// attributes sorted by key.
func Format(entry Entry) string {
	var buf bytes.Buffer
	if entry.Time.IsZero() {
		buf.WriteString("-")
	} else {
		buf.WriteString(entry.Time.UTC().Format(time.RFC3339))
	}
	buf.WriteByte(' ')
	label := strings.ToUpper(entry.Level)
	if label == "" {
		label = "INFO"
	}
	buf.WriteString(label)
	buf.WriteByte(' ')
	if entry.Component != "" {
		buf.WriteString(entry.Component)
		buf.WriteString(": ")
	}
	if msg := strings.TrimSpace(entry.Message); msg != "" {
		buf.WriteString(msg)
	} else {
		buf.WriteString("(no message)")
	}

	keys := make([]string, 0, len(entry.Attrs))
	for key := range entry.Attrs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		buf.WriteByte(' ')
		buf.WriteString(key)
		buf.WriteByte('=')
		buf.WriteString(quoteIfNeeded(attrText(entry.Attrs[key])))
	}
	return buf.String()
}

func attrText(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case json.Number:
		return value.String()
	case bool:
		return strconv.FormatBool(value)
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprint(value)
		}
		return string(encoded)
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	for _, r := range s {
		if r <= ' ' || r == '=' || r == '"' {
			return strconv.Quote(s)
		}
	}
	return s
}
