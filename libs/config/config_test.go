package config

import (
	"testing"
	"time"
)

func TestSourceFallbacks(t *testing.T) {
	t.Setenv("CFG_TEST_EMPTY", "")
	s := NewSource("")

	if got := s.String("CFG_TEST_EMPTY", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	if _, err := s.RequiredString("CFG_TEST_EMPTY"); err == nil {
		t.Fatal("expected error for missing required key")
	}
	n, err := s.Int("CFG_TEST_EMPTY", 42)
	if err != nil || n != 42 {
		t.Fatalf("expected 42, got %d (%v)", n, err)
	}
}

func TestSourceParsesValues(t *testing.T) {
	t.Setenv("CFG_TEST_PORT", "8083")
	t.Setenv("CFG_TEST_BAD_PORT", "70000")
	t.Setenv("CFG_TEST_LIST", " a, ,b ,c")
	t.Setenv("CFG_TEST_MS", "250")
	t.Setenv("CFG_TEST_FLAG", "false")
	s := NewSource("")

	if p, err := s.Port("CFG_TEST_PORT", "1"); err != nil || p != "8083" {
		t.Fatalf("expected port 8083, got %q (%v)", p, err)
	}
	if _, err := s.Port("CFG_TEST_BAD_PORT", "1"); err == nil {
		t.Fatal("expected invalid port error")
	}
	list := s.List("CFG_TEST_LIST", "")
	if len(list) != 3 || list[0] != "a" || list[2] != "c" {
		t.Fatalf("unexpected list %v", list)
	}
	d, err := s.Milliseconds("CFG_TEST_MS", time.Second)
	if err != nil || d != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s (%v)", d, err)
	}
	if s.Bool("CFG_TEST_FLAG", true) {
		t.Fatal("expected false flag")
	}
}
