// Package obslog provides the gateway's structured logging handler: a
// slog.Handler that prints "[time] [LEVEL] [debug_id] msg key=val ...".
// The [debug_id] field appears only when the record's context carries an id
// set with WithDebugID; no package in this repository sets one, so gateway
// log lines are printed without it.
package obslog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type debugIDKey struct{}

// WithDebugID returns a context carrying id as the active DebugID.
func WithDebugID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, debugIDKey{}, id)
}

// DebugIDFromContext extracts the DebugID stashed by WithDebugID, if any.
func DebugIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(debugIDKey{}).(string); ok {
		return id
	}
	return ""
}

// Handler implements slog.Handler with a compact single-line format.
type Handler struct {
	w     io.Writer
	opts  slog.HandlerOptions
	attrs []slog.Attr
}

// New constructs a Handler writing to w.
func New(w io.Writer, opts slog.HandlerOptions) *Handler {
	return &Handler{w: w, opts: opts}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	buf := bytes.NewBuffer(nil)

	fmt.Fprintf(buf, "[%s] [%s]", r.Time.Format("2006-01-02 15:04:05"), r.Level)

	if id := DebugIDFromContext(ctx); id != "" {
		fmt.Fprintf(buf, " [%s]", id)
	}

	fmt.Fprintf(buf, " %s", r.Message)

	for _, a := range h.attrs {
		h.appendAttr(buf, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(buf, a)
		return true
	})

	buf.WriteString("\n")
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *Handler) appendAttr(buf *bytes.Buffer, a slog.Attr) {
	buf.WriteString(" ")
	buf.WriteString(a.Key)
	buf.WriteString("=")

	val := a.Value.Resolve()
	switch val.Kind() {
	case slog.KindString:
		fmt.Fprintf(buf, "%q", val.String())
	case slog.KindTime:
		buf.WriteString(val.Time().Format(time.RFC3339))
	default:
		fmt.Fprintf(buf, "%v", val.Any())
	}
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{w: h.w, opts: h.opts, attrs: append(append([]slog.Attr{}, h.attrs...), attrs...)}
}

func (h *Handler) WithGroup(_ string) slog.Handler {
	return h
}

// Setup installs a Handler as the process-wide default logger at the given
// level name ("debug", "info", "warn", "error"; unrecognized -> "info").
func Setup(levelStr string) {
	var level slog.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	slog.SetDefault(slog.New(New(os.Stderr, slog.HandlerOptions{Level: level})))
}
