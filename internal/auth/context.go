package auth

import (
	"context"
	"fmt"

	"norelock.dev/listenify/bragi/internal/models"
)

type claimsKey struct{}

// WithClaims attaches verified claims to ctx.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext returns the claims attached by WithClaims.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok && c != nil
}

// CheckScope fails when ctx carries claims that do not grant scope. A
// context without claims passes, which is the case when auth is disabled.
func CheckScope(ctx context.Context, scope string) error {
	c, ok := ClaimsFromContext(ctx)
	if !ok || c.Allows(scope) {
		return nil
	}
	return fmt.Errorf("%w: token of %q does not grant %q", models.ErrUnauthorized, c.Client, scope)
}
