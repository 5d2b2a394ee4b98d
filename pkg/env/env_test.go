package env

import "testing"

func TestFirst(t *testing.T) {
	t.Setenv("STOREFRONT_TEST_A", "")
	t.Setenv("STOREFRONT_TEST_B", "b")

	if got := First("x", "STOREFRONT_TEST_A", "STOREFRONT_TEST_B"); got != "b" {
		t.Fatalf("expected first non-empty value, got %q", got)
	}
	if got := First("x", "STOREFRONT_TEST_A"); got != "x" {
		t.Fatalf("expected fallback, got %q", got)
	}
	if got := Get("STOREFRONT_TEST_B", "x"); got != "b" {
		t.Fatalf("expected value, got %q", got)
	}
}
