// Package logging wires up the process-wide slog logger. Console output
// uses a tint handler for colorized, timestamped lines in the idiom of the
// maruel-caic established logging setup; every record passes through the
// scrub function first so a leaked token can never reach a log sink
// (spec.md §7).
package logging

import (
	"context"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"

	"github.com/devos-ai/orchestrator/internal/scrub"
)

// New builds the process logger. debug enables slog.LevelDebug output.
func New(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	base := tint.NewHandler(os.Stderr, &tint.Options{Level: level})
	return slog.New(&scrubbingHandler{next: base})
}

// scrubbingHandler wraps another slog.Handler and scrubs every attribute
// value and the record message before delegating.
type scrubbingHandler struct {
	next slog.Handler
}

func (h *scrubbingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *scrubbingHandler) Handle(ctx context.Context, r slog.Record) error {
	scrubbed := slog.NewRecord(r.Time, r.Level, scrub.String(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		scrubbed.AddAttrs(scrubAttr(a))
		return true
	})
	return h.next.Handle(ctx, scrubbed)
}

func (h *scrubbingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	scrubbedAttrs := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		scrubbedAttrs[i] = scrubAttr(a)
	}
	return &scrubbingHandler{next: h.next.WithAttrs(scrubbedAttrs)}
}

func (h *scrubbingHandler) WithGroup(name string) slog.Handler {
	return &scrubbingHandler{next: h.next.WithGroup(name)}
}

func scrubAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, scrub.String(a.Value.String()))
	}
	return a
}
