package auth

import "context"

type contextKey string

const (
	bearerTokenKey contextKey = "bearerToken"
	claimsKey      contextKey = "claims"
)

// WithToken stores the caller's bearer token for forwarding to the backend
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerTokenKey, token)
}

// TokenFromContext returns the forwarded bearer token, if any
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(bearerTokenKey).(string)
	return token, ok && token != ""
}

func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}
