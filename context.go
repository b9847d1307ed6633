package goSession

import "context"

type priorityContextKey struct{}

// WithRefreshPriority attaches the queue priority used when a request
// carrying ctx triggers a refresh, for example from the HTTP transport.
func WithRefreshPriority(ctx context.Context, p Priority) context.Context {
	return context.WithValue(ctx, priorityContextKey{}, p)
}

// RefreshPriorityFromContext returns the priority attached by
// [WithRefreshPriority], or def when none is set.
func RefreshPriorityFromContext(ctx context.Context, def Priority) Priority {
	if ctx == nil {
		return def
	}

	p, ok := ctx.Value(priorityContextKey{}).(Priority)
	if !ok {
		return def
	}

	return p
}
