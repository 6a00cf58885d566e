package config

import (
	"testing"
	"time"
)

func TestIntAndDuration(t *testing.T) {
	t.Setenv("SALON_TEST_INT", "12")
	t.Setenv("SALON_TEST_DUR", "90s")

	n, err := Int("SALON_TEST_INT", 3)
	if err != nil || n != 12 {
		t.Fatalf("expected 12, got %d (err=%v)", n, err)
	}
	d, err := Duration("SALON_TEST_DUR", time.Second)
	if err != nil || d != 90*time.Second {
		t.Fatalf("expected 90s, got %s (err=%v)", d, err)
	}
	if n, _ := Int("SALON_TEST_MISSING", 3); n != 3 {
		t.Fatalf("expected fallback 3, got %d", n)
	}
}

func TestIntRejectsGarbage(t *testing.T) {
	t.Setenv("SALON_TEST_INT", "-4")
	if _, err := Int("SALON_TEST_INT", 1); err == nil {
		t.Fatal("expected error for negative value")
	}
}

func TestBoolAndList(t *testing.T) {
	t.Setenv("SALON_TEST_BOOL", "off")
	t.Setenv("SALON_TEST_LIST", " a, ,b ,")
	if Bool("SALON_TEST_BOOL", true) {
		t.Fatal("expected false")
	}
	if !Bool("SALON_TEST_BOOL_MISSING", true) {
		t.Fatal("expected fallback true")
	}
	got := List("SALON_TEST_LIST")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected list %q", got)
	}
}
