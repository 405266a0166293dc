package dispatch

import "context"

type suppressKey struct{}

// WithSuppressedTriggers marks ctx as originating from a module call. Event
// submission refuses contexts carrying the mark.
func WithSuppressedTriggers(ctx context.Context) context.Context {
	return context.WithValue(ctx, suppressKey{}, true)
}

// TriggersSuppressed reports whether ctx carries the mark.
func TriggersSuppressed(ctx context.Context) bool {
	v, _ := ctx.Value(suppressKey{}).(bool)
	return v
}
