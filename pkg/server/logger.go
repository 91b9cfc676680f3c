package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// LogWriter stores one log line for a session
type LogWriter interface {
	InsertLog(ctx context.Context, sessionID uuid.UUID, ts time.Time, level, message string, metadata json.RawMessage) error
}

// DBLogHandler is a slog.Handler that writes records to the research_logs table
// of one session and optionally forwards them to another handler.
type DBLogHandler struct {
	DB        LogWriter
	SessionID uuid.UUID
	Level     slog.Leveler
	Next      slog.Handler

	attrs []slog.Attr
}

func NewDBLogHandler(db LogWriter, sessionID uuid.UUID, level slog.Leveler, next slog.Handler) *DBLogHandler {
	return &DBLogHandler{
		DB:        db,
		SessionID: sessionID,
		Level:     level,
		Next:      next,
	}
}

func (h *DBLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.Next != nil && h.Next.Enabled(ctx, level) {
		return true
	}
	return h.persists(level)
}

func (h *DBLogHandler) persists(level slog.Level) bool {
	min := slog.LevelInfo
	if h.Level != nil {
		min = h.Level.Level()
	}
	return level >= min
}

func (h *DBLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.Next != nil && h.Next.Enabled(ctx, r.Level) {
		rec := r.Clone()
		rec.AddAttrs(slog.String("session_id", h.SessionID.String()))
		_ = h.Next.Handle(ctx, rec)
	}
	if !h.persists(r.Level) {
		return nil
	}

	// Extract attributes to JSON
	attrs := make(map[string]interface{}, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		v := a.Value.Any()
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		attrs[a.Key] = v
		return true
	})

	metaJSON, err := json.Marshal(attrs)
	if err != nil {
		// Fallback for marshal error
		metaJSON = []byte("{}")
	}

	// Use background context so logs persist even if the request context cancels
	return h.DB.InsertLog(context.Background(), h.SessionID, r.Time, r.Level.String(), r.Message, metaJSON)
}

func (h *DBLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	if h.Next != nil {
		clone.Next = h.Next.WithAttrs(attrs)
	}
	return &clone
}

// WithGroup only affects the forwarded handler; persisted metadata stays flat.
func (h *DBLogHandler) WithGroup(name string) slog.Handler {
	clone := *h
	if h.Next != nil {
		clone.Next = h.Next.WithGroup(name)
	}
	return &clone
}
