package config

import (
	"testing"
	"time"

	"github.com/cleanpoints/cleanpoints-api/internal/domain/discount"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LEDGER_MAX_RETRIES", "")
	t.Setenv("DISCOUNT_MODE", "full_price")
	t.Setenv("LEDGER_OP_TIMEOUT", "not-a-duration")

	cfg := Load()

	if cfg.LedgerMaxRetries != 3 {
		t.Fatalf("expected default retries 3, got %d", cfg.LedgerMaxRetries)
	}
	if cfg.LedgerOpTimeout != 5*time.Second {
		t.Fatalf("expected fallback timeout 5s, got %s", cfg.LedgerOpTimeout)
	}
	policy := cfg.DiscountPolicy()
	if policy.Mode != discount.ModeFullPrice {
		t.Fatalf("expected full_price mode, got %q", policy.Mode)
	}
	if policy.UnitCost != 10 || policy.Cap != 50 {
		t.Fatalf("unexpected policy parameters: %+v", policy)
	}
}

func TestParseStringSlice(t *testing.T) {
	got := parseStringSlice("http://a.test,,http://b.test")
	if len(got) != 2 || got[0] != "http://a.test" || got[1] != "http://b.test" {
		t.Fatalf("unexpected origins: %v", got)
	}
	if len(parseStringSlice("")) != 0 {
		t.Fatal("expected empty slice for empty input")
	}
}
