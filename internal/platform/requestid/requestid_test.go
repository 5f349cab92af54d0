package requestid

import (
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	seen := make(map[string]struct{}, 64)
	for i := 0; i < 64; i++ {
		id, err := New()
		if err != nil {
			t.Fatalf("New() err=%v", err)
		}
		if !strings.HasPrefix(id, "req_") {
			t.Fatalf("id=%q, want req_ prefix", id)
		}
		if len(id) != len("req_")+26 {
			t.Fatalf("len(%q)=%d, want %d", id, len(id), len("req_")+26)
		}
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}
