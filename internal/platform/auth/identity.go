package auth

import (
	"context"
	"net/http"
	"strings"
)

// Identity is the authenticated caller as the registry sees it. Tenancies
// carries the raw membership claim from the credential; only the tenancy
// guard interprets it, resolving the effective set per request.
type Identity struct {
	Subject   string
	Email     string
	Roles     []string
	Tenancies []string
}

// IsAnonymous reports whether no subject was established for the request.
func (i Identity) IsAnonymous() bool {
	return strings.TrimSpace(i.Subject) == ""
}

// Authenticator turns an incoming request into an Identity or rejects it.
// Implementations never write to the response; the middleware owns the deny
// path.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

type ctxKeyIdentity struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return v, ok
}
