// Package invocation carries the id of the current invocation through a
// context so every component can tag its log lines with it.
package invocation

import (
	"context"
	"log/slog"
)

type idKey struct{}

// WithID returns a copy of ctx carrying id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, idKey{}, id)
}

// ID returns the invocation id carried by ctx, if any.
func ID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(idKey{}).(string)
	return id, ok && id != ""
}

// Logger returns logger tagged with the invocation id from ctx.  Without
// an id it returns logger unchanged.
func Logger(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if id, ok := ID(ctx); ok {
		return logger.With(slog.String("invocation_id", id))
	}
	return logger
}
