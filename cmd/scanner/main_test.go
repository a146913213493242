package main

import (
	"testing"
	"time"

	"github.com/Strob0t/CodeForge/internal/config"
)

func TestParseArgs_DefaultsToMenu(t *testing.T) {
	opts, err := parseArgs(nil)
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if opts.method != "menu" {
		t.Fatalf("expected default method menu, got %q", opts.method)
	}
}

func TestParseArgs_RejectsUnknownMethod(t *testing.T) {
	if _, err := parseArgs([]string{"bogus"}); err == nil {
		t.Fatal("expected error for unknown method")
	}
}

func TestParseArgs_ParsesFlags(t *testing.T) {
	opts, err := parseArgs([]string{"shodan", "-threads", "20", "-limit", "100", "-no-dynamic-ports", "-status"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if opts.method != "shodan" {
		t.Fatalf("expected method shodan, got %q", opts.method)
	}
	if opts.threads != 20 || opts.limit != 100 {
		t.Fatalf("unexpected flag values: %+v", opts)
	}
	if !opts.noDynamicPorts || !opts.statusOnly {
		t.Fatalf("expected noDynamicPorts and statusOnly set: %+v", opts)
	}
}

func TestApplyOverrides_OnlyOverridesWhenSet(t *testing.T) {
	cfg := config.Defaults()
	original := cfg.Scanner.DefaultWorkers

	applyOverrides(&cfg, options{})
	if cfg.Scanner.DefaultWorkers != original {
		t.Fatalf("expected unchanged default workers, got %d", cfg.Scanner.DefaultWorkers)
	}

	applyOverrides(&cfg, options{threads: 5, dynamicPortLimit: 10, dynamicPortTimeout: time.Second})
	if cfg.Scanner.DefaultWorkers != 5 {
		t.Fatalf("expected overridden workers 5, got %d", cfg.Scanner.DefaultWorkers)
	}
	if cfg.Scanner.DynamicPortLimit != 10 {
		t.Fatalf("expected overridden dynamic port limit 10, got %d", cfg.Scanner.DynamicPortLimit)
	}
	if cfg.Scanner.DynamicPortTimeout != time.Second {
		t.Fatalf("expected overridden dynamic port timeout 1s, got %v", cfg.Scanner.DynamicPortTimeout)
	}
}

func TestNewDedup_EmptyURLFallsBackToInProcess(t *testing.T) {
	d := newDedup("", time.Hour)
	if d == nil {
		t.Fatal("expected non-nil dedup")
	}
}

func TestNewDedup_InvalidURLFallsBackToInProcess(t *testing.T) {
	d := newDedup("not-a-valid-url", time.Hour)
	if d == nil {
		t.Fatal("expected non-nil dedup")
	}
}
