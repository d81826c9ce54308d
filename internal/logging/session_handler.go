package logging

import (
	"context"
	"log/slog"
)

// sessionIDHandler stamps every record with the backend session identifier.
// The identifier is read at Handle time so a resumed or replaced session is
// reflected without rebuilding loggers. Loggers that already carry
// session_id are left alone.
type sessionIDHandler struct {
	base      slog.Handler
	sessionID func() string
	stamped   bool
}

// WithSessionID wraps logger so every record carries session_id. An empty id
// from the source leaves records untouched.
func WithSessionID(logger *slog.Logger, source func() string) *slog.Logger {
	if logger == nil {
		return NewNop()
	}
	if source == nil {
		return logger
	}
	return slog.New(&sessionIDHandler{base: logger.Handler(), sessionID: source})
}

func (h *sessionIDHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *sessionIDHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.stamped || recordHasKey(record, FieldSessionID) {
		return h.base.Handle(ctx, record)
	}
	if id := h.sessionID(); id != "" {
		record.AddAttrs(slog.String(FieldSessionID, id))
	}
	return h.base.Handle(ctx, record)
}

func (h *sessionIDHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sessionIDHandler{
		base:      h.base.WithAttrs(attrs),
		sessionID: h.sessionID,
		stamped:   h.stamped || HasAttrKey(attrs, FieldSessionID),
	}
}

func (h *sessionIDHandler) WithGroup(name string) slog.Handler {
	return &sessionIDHandler{base: h.base.WithGroup(name), sessionID: h.sessionID, stamped: h.stamped}
}

func recordHasKey(record slog.Record, key string) bool {
	found := false
	record.Attrs(func(attr slog.Attr) bool {
		found = attr.Key == key
		return !found
	})
	return found
}
