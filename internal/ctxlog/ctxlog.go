// Package ctxlog carries the run logger through context.Context and names the
// attributes that identify which exploration a record belongs to.
package ctxlog

import (
	"context"
	"log/slog"
)

// Attribute keys shared by every component of a run.
const (
	KeyParticipant = "participant"
	KeyPathID      = "path_id"
)

type key struct{}

var loggerKey = key{}

// WithLogger returns a new context with the provided logger embedded.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the logger from ctx, or returns slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// With returns a context whose logger carries the given attributes.
func With(ctx context.Context, args ...any) context.Context {
	return WithLogger(ctx, FromContext(ctx).With(args...))
}

// WithPathID tags records with the sender path a run is joined with. A
// standalone run, with a negative id, is left untagged.
func WithPathID(ctx context.Context, id int) context.Context {
	if id < 0 {
		return ctx
	}
	return With(ctx, KeyPathID, id)
}
