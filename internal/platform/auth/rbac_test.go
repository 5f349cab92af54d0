package auth

import (
	"net/http"
	"testing"
)

func TestHasAtLeast(t *testing.T) {
	cases := []struct {
		name     string
		roles    []string
		required string
		want     bool
	}{
		{"viewer satisfies viewer", []string{"viewer"}, RoleViewer, true},
		{"viewer denied editor", []string{"viewer"}, RoleEditor, false},
		{"editor satisfies viewer", []string{"editor"}, RoleViewer, true},
		{"admin satisfies editor", []string{"admin"}, RoleEditor, true},
		{"case and whitespace folded", []string{" Admin "}, RoleEditor, true},
		{"unknown role grants nothing", []string{"owner"}, RoleViewer, false},
		{"unknown requirement denied", []string{"admin"}, "superuser", false},
		{"no roles", nil, RoleViewer, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HasAtLeast(tc.roles, tc.required); got != tc.want {
				t.Fatalf("HasAtLeast(%v, %q)=%v, want %v", tc.roles, tc.required, got, tc.want)
			}
		})
	}
}

func TestRequiredRoleForRequest(t *testing.T) {
	cases := []struct {
		method string
		want   string
	}{
		{http.MethodGet, RoleViewer},
		{http.MethodHead, RoleViewer},
		{http.MethodOptions, RoleViewer},
		{http.MethodPost, RoleEditor},
		{http.MethodPatch, RoleEditor},
		{http.MethodDelete, RoleEditor},
	}
	for _, tc := range cases {
		req, _ := http.NewRequest(tc.method, "http://example.test/datasets", nil)
		if got := RequiredRoleForRequest(req); got != tc.want {
			t.Fatalf("RequiredRoleForRequest(%s)=%q, want %q", tc.method, got, tc.want)
		}
	}
}
