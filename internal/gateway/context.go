package gateway

import (
	"context"

	"github.com/nerrad567/chargegate/internal/auth"
)

type contextKey string

const (
	ctxKeyPrincipal contextKey = "principal"
	ctxKeyChain     contextKey = "chain"
	ctxKeyCSRFToken contextKey = "csrf_token"
)

// WithPrincipal attaches an authenticated principal to ctx.
func WithPrincipal(ctx context.Context, p *auth.Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, p)
}

// PrincipalFromContext returns the principal admitted by the gateway, or nil
// for anonymous requests on public rules.
func PrincipalFromContext(ctx context.Context) *auth.Principal {
	p, _ := ctx.Value(ctxKeyPrincipal).(*auth.Principal) //nolint:errcheck // type assertion, not error
	return p
}

// ChainFromContext returns the name of the chain that governed the request.
func ChainFromContext(ctx context.Context) string {
	name, _ := ctx.Value(ctxKeyChain).(string) //nolint:errcheck // type assertion, not error
	return name
}

// CSRFTokenFromContext returns the token forms must echo back.
// It is empty on the programmatic chain.
func CSRFTokenFromContext(ctx context.Context) string {
	tok, _ := ctx.Value(ctxKeyCSRFToken).(string) //nolint:errcheck // type assertion, not error
	return tok
}
