package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "90s")
	if got := getEnvDuration("TEST_DURATION", time.Second); got != 90*time.Second {
		t.Fatalf("expected 90s, got %s", got)
	}

	// Bare integers read as seconds.
	t.Setenv("TEST_DURATION", "45")
	if got := getEnvDuration("TEST_DURATION", time.Second); got != 45*time.Second {
		t.Fatalf("expected 45s, got %s", got)
	}

	t.Setenv("TEST_DURATION", "nonsense")
	if got := getEnvDuration("TEST_DURATION", 7*time.Second); got != 7*time.Second {
		t.Fatalf("expected fallback, got %s", got)
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" 90004, 90005 ,,90006 ")
	want := []string{"90004", "90005", "90006"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/real_estate")
	if got := databaseURL(); got != "postgres://u:p@db:5432/real_estate" {
		t.Fatalf("DATABASE_URL must win, got %s", got)
	}

	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "pg")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("DB_NAME", "listings")
	t.Setenv("DB_USER", "ingest")
	t.Setenv("DB_PASSWORD", "")
	if got := databaseURL(); got != "postgres://ingest@pg:5433/listings" {
		t.Fatalf("unexpected assembled url %s", got)
	}

	t.Setenv("DB_PASSWORD", "secret")
	if got := databaseURL(); got != "postgres://ingest:secret@pg:5433/listings" {
		t.Fatalf("unexpected assembled url %s", got)
	}
}

func TestLoadMarketConfigs(t *testing.T) {
	dir := t.TempDir()
	market := `id: la
name: Los Angeles
postal_codes:
  - "90004"
  - "90005"
status:
  - for_sale
page_size: 20
max_pages: 10
`
	if err := os.WriteFile(filepath.Join(dir, "la.yaml"), []byte(market), 0o644); err != nil {
		t.Fatalf("write market config: %v", err)
	}
	// Non-yaml files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("notes"), 0o644); err != nil {
		t.Fatalf("write readme: %v", err)
	}

	t.Setenv("MARKETS_DIR", dir)
	cfg := &Config{Markets: make(map[string]*MarketConfig)}
	if err := cfg.loadMarketConfigs(); err != nil {
		t.Fatalf("loadMarketConfigs failed: %v", err)
	}

	m, ok := cfg.Markets["la"]
	if !ok {
		t.Fatalf("market la not loaded: %v", cfg.Markets)
	}
	if m.Name != "Los Angeles" || len(m.PostalCodes) != 2 || m.PageSize != 20 || m.MaxPages != 10 {
		t.Fatalf("unexpected market config: %+v", m)
	}
}

func TestLoadMarketConfigs_MissingID(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("name: No ID\n"), 0o644); err != nil {
		t.Fatalf("write market config: %v", err)
	}

	t.Setenv("MARKETS_DIR", dir)
	cfg := &Config{Markets: make(map[string]*MarketConfig)}
	if err := cfg.loadMarketConfigs(); err == nil {
		t.Fatalf("expected error for market config without id")
	}
}

func TestLoadMarketConfigs_MissingDir(t *testing.T) {
	t.Setenv("MARKETS_DIR", filepath.Join(t.TempDir(), "absent"))
	cfg := &Config{Markets: make(map[string]*MarketConfig)}
	if err := cfg.loadMarketConfigs(); err != nil {
		t.Fatalf("missing dir must not be an error: %v", err)
	}
}
