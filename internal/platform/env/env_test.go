package env

import (
	"testing"
	"time"
)

func TestParsedValues(t *testing.T) {
	t.Setenv("DG_TEST_DURATION", "750ms")
	t.Setenv("DG_TEST_INT", "42")
	t.Setenv("DG_TEST_BOOL", "true")
	t.Setenv("DG_TEST_BLANK", "   ")

	d, err := Duration("DG_TEST_DURATION", time.Second)
	if err != nil || d != 750*time.Millisecond {
		t.Fatalf("Duration()=%v err=%v", d, err)
	}
	i, err := Int("DG_TEST_INT", 0)
	if err != nil || i != 42 {
		t.Fatalf("Int()=%d err=%v", i, err)
	}
	b, err := Bool("DG_TEST_BOOL", false)
	if err != nil || !b {
		t.Fatalf("Bool()=%v err=%v", b, err)
	}

	// Blank counts as unset.
	i, err = Int("DG_TEST_BLANK", 7)
	if err != nil || i != 7 {
		t.Fatalf("Int(blank)=%d err=%v", i, err)
	}
	if got := String("DG_TEST_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("String()=%q", got)
	}
}

func TestParsedRejectsGarbage(t *testing.T) {
	t.Setenv("DG_TEST_DURATION", "soon")
	if _, err := Duration("DG_TEST_DURATION", time.Second); err == nil {
		t.Fatal("expected parse error")
	}
	t.Setenv("DG_TEST_INT", "forty")
	if _, err := Int("DG_TEST_INT", 1); err == nil {
		t.Fatal("expected parse error")
	}
}
