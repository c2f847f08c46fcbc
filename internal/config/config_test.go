package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "8080" || cfg.DBPath != "kquant.db" {
		t.Fatalf("port=%q db=%q", cfg.Port, cfg.DBPath)
	}
	if cfg.IdempotencyWindow != 300*time.Second || cfg.FreshnessTimeout != 2*time.Second || cfg.ReconcileInterval != 5*time.Minute {
		t.Fatalf("durations: %s %s %s", cfg.IdempotencyWindow, cfg.FreshnessTimeout, cfg.ReconcileInterval)
	}
	if cfg.Limits.MaxOrderPct != 15 || cfg.Limits.MaxDailyOrders != 10 || cfg.Limits.DailyLossLimitPct != -3 {
		t.Fatalf("limits=%+v", cfg.Limits)
	}
	if cfg.Thresholds.Caution != 1 || cfg.Thresholds.Safe != 3 || cfg.Thresholds.Lockdown != 5 {
		t.Fatalf("thresholds=%+v", cfg.Thresholds)
	}
	if cfg.Production() {
		t.Fatal("default env must not be production")
	}
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("KQUANT_PORT", "9090")
	t.Setenv("KQUANT_IDEMPOTENCY_WINDOW", "90s")
	t.Setenv("KQUANT_LIMITS_MAX_DAILY_ORDERS", "25")
	t.Setenv("KQUANT_THRESHOLDS_LOCKDOWN", "8")
	t.Setenv("DEBUG", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "9090" || cfg.IdempotencyWindow != 90*time.Second {
		t.Fatalf("port=%q window=%s", cfg.Port, cfg.IdempotencyWindow)
	}
	if cfg.Limits.MaxDailyOrders != 25 || cfg.Thresholds.Lockdown != 8 {
		t.Fatalf("limits=%+v thresholds=%+v", cfg.Limits, cfg.Thresholds)
	}
	if !cfg.Debug {
		t.Fatal("DEBUG=true must enable debug")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kquant.yaml")
	body := "db_path: /tmp/orders.db\nreconcile_interval: 1m\nlimits:\n  max_order_pct: 5\nbroker:\n  seed: 42\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != "/tmp/orders.db" || cfg.ReconcileInterval != time.Minute {
		t.Fatalf("db=%q interval=%s", cfg.DBPath, cfg.ReconcileInterval)
	}
	if cfg.Limits.MaxOrderPct != 5 || cfg.Limits.MaxDailyOrders != 10 {
		t.Fatalf("limits=%+v", cfg.Limits)
	}
	if cfg.Broker.Seed != 42 {
		t.Fatalf("seed=%d", cfg.Broker.Seed)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for a missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"zero window", map[string]string{"KQUANT_IDEMPOTENCY_WINDOW": "0s"}, "idempotency_window"},
		{"production default secret", map[string]string{"ENV": "production"}, "jwt_secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err=%v, expected mention of %s", err, tt.want)
			}
		})
	}
}
