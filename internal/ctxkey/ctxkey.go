// Package ctxkey defines context keys shared across packages without
// introducing import cycles.
package ctxkey

import "context"

// trustedKey marks a context as originating from trusted internal plumbing.
// Actions submitted on a trusted context bypass authority resolution; the
// flag is set only by bootstrap code paths such as seeding, never by
// request handlers.
type trustedKey struct{}

// WithTrusted returns a context marked as trusted.
func WithTrusted(ctx context.Context) context.Context {
	return context.WithValue(ctx, trustedKey{}, true)
}

// IsTrusted reports whether the context carries the trusted mark.
func IsTrusted(ctx context.Context) bool {
	trusted, _ := ctx.Value(trustedKey{}).(bool)
	return trusted
}
