// Package logging defines the structured-logging interface shared by the sync
// engine, its storage backends and the reference server, plus a slog adapter.
//
// Args are key/value pairs. Attributes attached to a context with ContextWith
// are added to every record logged with that context:
//
//	ctx = logging.ContextWith(ctx, "request_id", id)
//	log.Info(ctx, "entity saved", "type", typ, "id", e.ID)
package logging

import "context"

type Logger interface {
	// Debug is for ledger, cache and per-request detail.
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	// Warn marks a degraded but recoverable state, e.g. going offline.
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes args.
	With(args ...any) Logger
}
