package auth

import (
	"errors"
	"net/http"
	"strings"
)

var ErrForbidden = errors.New("forbidden")

// Registry roles form a strict ladder: a viewer reads the catalog, an editor
// additionally mutates datasets and identifiers, an admin covers everything.
// Unknown role names rank below viewer and never grant access.
const (
	RoleViewer = "viewer"
	RoleEditor = "editor"
	RoleAdmin  = "admin"
)

func roleRank(role string) int {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case RoleAdmin:
		return 3
	case RoleEditor:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// HasAtLeast reports whether any of the caller's roles ranks at or above the
// required one.
func HasAtLeast(roles []string, required string) bool {
	need := roleRank(required)
	if need == 0 {
		return false
	}
	for _, role := range roles {
		if roleRank(role) >= need {
			return true
		}
	}
	return false
}

// RequiredRoleForRequest maps the HTTP method onto the ladder: safe methods
// need a viewer, everything else needs an editor. Handlers with stricter
// needs check again themselves.
func RequiredRoleForRequest(r *http.Request) string {
	if isReadMethod(r.Method) {
		return RoleViewer
	}
	return RoleEditor
}

func isReadMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
