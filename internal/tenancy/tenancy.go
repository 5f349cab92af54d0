// Package tenancy narrows caller-requested tenancies against the user's
// actual membership. Its result is the only tenancy filter ever applied
// downstream; no other component re-derives membership.
package tenancy

import (
	"context"
	"fmt"
	"strings"

	"github.com/datagate-labs/datagate-go/internal/domain"
)

// User is the membership record supplied by the user directory.
type User struct {
	ID        string
	Email     string
	Tenancies []string
}

// UserProvider fetches user membership. Implemented by the directory client
// and by in-memory fakes in tests.
type UserProvider interface {
	FetchUser(ctx context.Context, id string) (User, error)
}

// Guard resolves effective tenancy sets.
type Guard struct {
	users UserProvider
}

func NewGuard(users UserProvider) *Guard {
	if users == nil {
		return nil
	}
	return &Guard{users: users}
}

// Resolve returns the effective tenancy set for a request. An empty request
// expands to the user's full membership; a non-empty request passes through
// unchanged only when it is a subset of the membership, otherwise the first
// foreign tenancy is rejected as Unauthorized.
func (g *Guard) Resolve(ctx context.Context, userID string, requested []string) ([]string, error) {
	if g == nil || g.users == nil {
		return nil, fmt.Errorf("tenancy guard not initialized")
	}
	user, err := g.users.FetchUser(ctx, strings.TrimSpace(userID))
	if err != nil {
		return nil, fmt.Errorf("fetch user: %w", err)
	}

	owned := make(map[string]struct{}, len(user.Tenancies))
	membership := make([]string, 0, len(user.Tenancies))
	for _, t := range user.Tenancies {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := owned[t]; ok {
			continue
		}
		owned[t] = struct{}{}
		membership = append(membership, t)
	}

	cleaned := make([]string, 0, len(requested))
	for _, t := range requested {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		cleaned = append(cleaned, t)
	}
	if len(cleaned) == 0 {
		return membership, nil
	}
	for _, t := range cleaned {
		if _, ok := owned[t]; !ok {
			return nil, domain.Unauthorized("unauthorized_tenancy", t)
		}
	}
	return cleaned, nil
}
