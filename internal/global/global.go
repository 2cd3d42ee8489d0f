package global

import (
	"context"
)

type ContextKey uint

const (
	CancelKey ContextKey = iota
	VersionKey
)

func Version(ctx context.Context) string {
	if v, ok := ctx.Value(VersionKey).(string); ok {
		return v
	}
	return "unknown"
}

// Cancel cancels the command-line context, if ctx carries one.
func Cancel(ctx context.Context) {
	if cancel, ok := ctx.Value(CancelKey).(context.CancelFunc); ok {
		cancel()
	}
}
