// Package auth provides request context helpers for verified Supabase claims.
package auth

import (
	"context"
	"time"
)

type ctxKey int

const claimsKey ctxKey = iota

// Claims contains the verified Supabase access token details we care about.
type Claims struct {
	Subject   string
	Email     string
	Phone     string
	Role      string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	Raw       map[string]any
}

// WithClaims stores auth claims in a context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns claims from a context.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}

// UserMetadata reads a string from the token's user_metadata claim.
func (c *Claims) UserMetadata(key string) string {
	if c == nil || c.Raw == nil {
		return ""
	}
	meta, ok := c.Raw["user_metadata"].(map[string]any)
	if !ok {
		return ""
	}
	s, _ := meta[key].(string)
	return s
}
