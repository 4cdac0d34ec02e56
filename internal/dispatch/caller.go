package dispatch

import "context"

type callerKey struct{}

// WithCaller tags ctx with the party issuing an operation, for example
// "cli" or "api 10.0.0.8". It is recorded with every audited write.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the caller set by WithCaller, or "unknown".
func CallerFrom(ctx context.Context) string {
	if c, ok := ctx.Value(callerKey{}).(string); ok && c != "" {
		return c
	}
	return "unknown"
}
