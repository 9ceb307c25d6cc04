package framework

import "context"

type runIDKey struct{}

// WithRunID attaches a run identifier to the context so telemetry emitted by
// nodes, models and searchers can be correlated.
func WithRunID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFrom extracts the run identifier, or "" when none is set.
func RunIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
