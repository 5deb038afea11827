package main

import (
	"context"
	"path/filepath"
	"testing"

	"spendgate-hq/spendgate/pkg/config"
	"spendgate-hq/spendgate/pkg/pricing"
)

// ============================================================================
// Pricing wiring
// ============================================================================

func testPricingConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Pricing.SQLitePath = filepath.Join(t.TempDir(), "pricing.db")
	return cfg
}

func TestOpenPricing_ServesFallbackWithoutFeed(t *testing.T) {
	cfg := testPricingConfig(t)

	rates, store, err := openPricing(cfg, nil)
	if err != nil {
		t.Fatalf("openPricing failed: %v", err)
	}
	defer store.Close()

	rate, err := rates.GetRate(context.Background(), "claude-3-sonnet", "us-east-1")
	if err != nil {
		t.Fatalf("GetRate failed: %v", err)
	}
	if rate.Source != pricing.SourceFallback {
		t.Errorf("source = %q, want %q with no feed registered", rate.Source, pricing.SourceFallback)
	}
}

func TestRefresherSchedulesFromConfig(t *testing.T) {
	cfg := testPricingConfig(t)

	rates, store, err := openPricing(cfg, nil)
	if err != nil {
		t.Fatalf("openPricing failed: %v", err)
	}
	defer store.Close()

	refresher := pricing.NewRefresher(rates, pricing.RefresherConfig{
		Schedule: cfg.Pricing.RefreshSchedule,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := refresher.Start(ctx); err != nil {
		t.Fatalf("failed to start refresher: %v", err)
	}
	defer refresher.Stop()

	if refresher.NextRun() == nil {
		t.Error("default refresh schedule produced no scheduled run")
	}
}
