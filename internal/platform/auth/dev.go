package auth

import (
	"context"
	"net/http"
	"strings"
)

// HeaderTenancies is only honored by the dev authenticator; tenancy claims
// never travel in headers on any verified path.
const HeaderTenancies = "X-Datagate-Tenancies"

// DevAuthenticator stamps every request with a fixed identity taken from
// configuration. It verifies nothing and exists purely for local
// development. The identity headers, when present, override the configured
// values so a local client can impersonate another subject or tenancy set
// without restarting the service.
type DevAuthenticator struct {
	base Identity
}

func NewDevAuthenticator(cfg Config) *DevAuthenticator {
	return &DevAuthenticator{
		base: Identity{
			Subject:   cfg.DevSubject,
			Email:     cfg.DevEmail,
			Roles:     cfg.DevRoles,
			Tenancies: cfg.DevTenancies,
		},
	}
}

func (a *DevAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	identity := a.base
	if v := strings.TrimSpace(r.Header.Get(HeaderSubject)); v != "" {
		identity.Subject = v
	}
	if v := strings.TrimSpace(r.Header.Get(HeaderEmail)); v != "" {
		identity.Email = v
	}
	if v := strings.TrimSpace(r.Header.Get(HeaderRoles)); v != "" {
		identity.Roles = parseCSV(v)
	}
	if v := strings.TrimSpace(r.Header.Get(HeaderTenancies)); v != "" {
		identity.Tenancies = parseCSVPreserveCase(v)
	}
	return identity, nil
}
