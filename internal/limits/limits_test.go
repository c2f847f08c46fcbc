package limits

import (
	"strings"
	"testing"
	"time"
)

func TestCanOrder(t *testing.T) {
	tests := []struct {
		name     string
		pct      float64
		orders   int
		pnl      float64
		wantOK   bool
		contains string
	}{
		{"within limits", 5, 0, 0, true, ""},
		{"at per-order limit", 15, 0, 0, true, ""},
		{"over per-order limit", 15.5, 0, 0, false, "per-order limit exceeded (15.5% > 15.0%)"},
		{"daily count reached", 1, 10, 0, false, "daily order count exceeded (10/10)"},
		{"loss limit reached", 1, 0, -3, false, "daily loss limit reached (-3.0%)"},
		{"loss above limit", 1, 0, -2.9, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(Config{})
			for i := 0; i < tt.orders; i++ {
				l.RecordOrder()
			}
			l.SetDailyPnL(tt.pnl)

			ok, msg := l.CanOrder(tt.pct)
			if ok != tt.wantOK {
				t.Fatalf("ok=%v msg=%q, expected ok=%v", ok, msg, tt.wantOK)
			}
			if !strings.Contains(msg, tt.contains) {
				t.Fatalf("msg=%q, expected to contain %q", msg, tt.contains)
			}
		})
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	snap := New(Config{}).Snapshot()
	if snap.Config != DefaultConfig() {
		t.Fatalf("Config=%+v, expected defaults", snap.Config)
	}

	custom := New(Config{MaxOrderPct: 5, MaxDailyOrders: 2, DailyLossLimitPct: -1}).Snapshot()
	if custom.MaxOrderPct != 5 || custom.MaxDailyOrders != 2 || custom.DailyLossLimitPct != -1 {
		t.Fatalf("custom config not kept: %+v", custom.Config)
	}
}

func TestDailyRollover(t *testing.T) {
	now := time.Date(2024, 1, 2, 15, 0, 0, 0, time.Local)
	l := New(Config{MaxDailyOrders: 1}).WithClock(func() time.Time { return now })

	l.RecordOrder()
	l.SetDailyPnL(-1)
	if ok, _ := l.CanOrder(1); ok {
		t.Fatal("expected daily count block")
	}

	now = now.Add(12 * time.Hour)
	if ok, msg := l.CanOrder(1); !ok {
		t.Fatalf("expected fresh allowance on the next day, got %q", msg)
	}
	snap := l.Snapshot()
	if snap.Day != "2024-01-03" || snap.DailyOrderCount != 0 || snap.DailyPnLPct != 0 {
		t.Fatalf("unexpected snapshot after rollover %+v", snap)
	}
}

func TestResetDaily(t *testing.T) {
	l := New(Config{})
	l.RecordOrder()
	l.SetDailyPnL(-5)
	l.ResetDaily()

	snap := l.Snapshot()
	if snap.DailyOrderCount != 0 || snap.DailyPnLPct != 0 {
		t.Fatalf("counters not reset: %+v", snap)
	}
}
