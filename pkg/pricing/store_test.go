package pricing

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLiteStore_PutGetRoundTrip(t *testing.T) {
	store, err := NewSQLiteStore(&SQLiteStoreConfig{
		Path: filepath.Join(t.TempDir(), "pricing.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	fetched := time.Now().Truncate(time.Millisecond)

	err = store.Put(ctx, Rate{
		ModelID:    "claude-3-sonnet",
		Region:     "us-east-1",
		InputPerK:  0.003,
		OutputPerK: 0.015,
		Source:     SourceLive,
		FetchedAt:  fetched,
	})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	rate, err := store.Get(ctx, "claude-3-sonnet", "us-east-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rate.InputPerK != 0.003 || rate.OutputPerK != 0.015 {
		t.Errorf("rates = %v/%v, want 0.003/0.015", rate.InputPerK, rate.OutputPerK)
	}
	if rate.Source != SourceCached {
		t.Errorf("source = %q, want %q (store reads are always the cached tier)", rate.Source, SourceCached)
	}
	if !rate.FetchedAt.Equal(fetched) {
		t.Errorf("fetched_at = %v, want %v", rate.FetchedAt, fetched)
	}
}

func TestSQLiteStore_PutReplacesExisting(t *testing.T) {
	store, err := NewSQLiteStore(&SQLiteStoreConfig{
		Path: filepath.Join(t.TempDir(), "pricing.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	base := Rate{ModelID: "claude-3-opus", Region: "us-west-2", FetchedAt: time.Now()}

	base.InputPerK, base.OutputPerK = 0.015, 0.075
	if err := store.Put(ctx, base); err != nil {
		t.Fatalf("first Put failed: %v", err)
	}

	base.InputPerK, base.OutputPerK = 0.016, 0.080
	if err := store.Put(ctx, base); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	rate, err := store.Get(ctx, "claude-3-opus", "us-west-2")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rate.InputPerK != 0.016 {
		t.Errorf("input rate = %v, want replaced 0.016", rate.InputPerK)
	}
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	store, err := NewSQLiteStore(&SQLiteStoreConfig{
		Path: filepath.Join(t.TempDir(), "pricing.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	_, err = store.Get(context.Background(), "unknown-model", "us-east-1")
	if err != ErrRateNotFound {
		t.Errorf("err = %v, want ErrRateNotFound", err)
	}
}
