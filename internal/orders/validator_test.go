package orders

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/PAFGYM/k-quant-system-sub002/internal/idempotency"
)

type stubKillSwitch struct {
	active bool
	reason string
}

func (s *stubKillSwitch) IsActive() bool { return s.active }
func (s *stubKillSwitch) Reason() string { return s.reason }

type stubGate struct{ buy, sell bool }

func (g stubGate) BuyAllowed() bool  { return g.buy }
func (g stubGate) SellAllowed() bool { return g.sell }

type stubLimits struct {
	lastPct  float64
	allow    bool
	reason   string
	recorded int
}

func (l *stubLimits) CanOrder(pct float64) (bool, string) {
	l.lastPct = pct
	return l.allow, l.reason
}

func (l *stubLimits) RecordOrder() { l.recorded++ }

func TestValidatePass(t *testing.T) {
	v := NewValidator(nil)
	res := v.Validate(context.Background(), "005930", SideBuy, 10, 75000, 100_000_000)
	if !res.Approved || len(res.Reasons) != 0 {
		t.Fatalf("expected approval, got %+v", res)
	}
	if !res.Reserved || res.IdempotencyKey != idempotency.GenerateKey("005930", "buy", 10) {
		t.Fatalf("unexpected reservation %+v", res)
	}
}

func TestValidateCollectsAllReasonsInOrder(t *testing.T) {
	guard := idempotency.NewGuard(time.Minute)
	guard.CheckAndRegister(idempotency.GenerateKey("005930", "buy", 0))

	v := NewValidator(guard,
		WithKillSwitch(&stubKillSwitch{active: true, reason: "manual stop"}),
		WithSafetyGate(stubGate{buy: false, sell: true}),
		WithFreshnessChecker(FreshnessFunc(func(context.Context) (bool, string, error) {
			return false, "quote older than 30s", nil
		})),
		WithSafetyLimits(&stubLimits{allow: false, reason: "per-order limit exceeded"}),
	)

	res := v.Validate(context.Background(), "005930", SideBuy, 0, -1, 100_000_000)
	if res.Approved {
		t.Fatal("expected rejection")
	}
	want := []string{"kill switch", "safety mode", "data freshness", "per-order limit", "duplicate", "quantity", "price"}
	if len(res.Reasons) != len(want) {
		t.Fatalf("reasons=%q, expected %d entries", res.Reasons, len(want))
	}
	for i, fragment := range want {
		if !strings.Contains(res.Reasons[i], fragment) {
			t.Errorf("reason[%d]=%q, expected to contain %q", i, res.Reasons[i], fragment)
		}
	}
	if !strings.Contains(res.Reasons[0], "manual stop") {
		t.Errorf("kill switch reason missing: %q", res.Reasons[0])
	}
	if res.Reserved {
		t.Fatal("duplicate denial must not report a reservation")
	}
}

func TestValidateSanity(t *testing.T) {
	tests := []struct {
		name  string
		qty   int64
		price float64
		ok    bool
	}{
		{"zero quantity", 0, 75000, false},
		{"negative quantity", -5, 75000, false},
		{"negative price", 10, -1, false},
		{"market order", 10, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewValidator(nil).Validate(context.Background(), "005930", SideBuy, tt.qty, tt.price, 0)
			if res.Approved != tt.ok {
				t.Fatalf("Approved=%v reasons=%q", res.Approved, res.Reasons)
			}
		})
	}
}

func TestValidateSafetyGate(t *testing.T) {
	safe := stubGate{buy: false, sell: true}
	v := NewValidator(nil, WithSafetyGate(safe))

	if res := v.Validate(context.Background(), "005930", SideBuy, 1, 100, 0); res.Approved {
		t.Fatal("buy must be blocked while buys are suspended")
	}
	if res := v.Validate(context.Background(), "005930", SideSell, 1, 100, 0); !res.Approved {
		t.Fatalf("sell must pass, got %q", res.Reasons)
	}

	lockdown := NewValidator(nil, WithSafetyGate(stubGate{}))
	if res := lockdown.Validate(context.Background(), "005930", SideSell, 1, 100, 0); res.Approved {
		t.Fatal("sell must be blocked when all trading is suspended")
	}
}

func TestValidateLimitsPercentage(t *testing.T) {
	limits := &stubLimits{allow: true}
	v := NewValidator(nil, WithSafetyLimits(limits))

	v.Validate(context.Background(), "005930", SideBuy, 10, 75000, 100_000_000)
	if math.Abs(limits.lastPct-0.75) > 1e-9 {
		t.Fatalf("order pct=%v, expected 0.75", limits.lastPct)
	}

	limits.lastPct = -1
	v.Validate(context.Background(), "000660", SideBuy, 10, 75000, 0)
	if limits.lastPct != -1 {
		t.Fatal("limits must be skipped without a portfolio value")
	}
}

func TestFreshnessFailOpen(t *testing.T) {
	tests := []struct {
		name    string
		checker FreshnessFunc
		ok      bool
	}{
		{"error", func(context.Context) (bool, string, error) {
			return false, "", errors.New("router down")
		}, true},
		{"panic", func(context.Context) (bool, string, error) {
			panic("boom")
		}, true},
		{"timeout", func(ctx context.Context) (bool, string, error) {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return false, "too late", nil
		}, true},
		{"explicit refusal", func(context.Context) (bool, string, error) {
			return false, "unverified source", nil
		}, false},
		{"explicit allow", func(context.Context) (bool, string, error) {
			return true, "", nil
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator(nil, WithFreshnessChecker(tt.checker), WithFreshnessTimeout(20*time.Millisecond))
			res := v.Validate(context.Background(), "005930", SideBuy, 10, 75000, 0)
			if res.Approved != tt.ok {
				t.Fatalf("Approved=%v reasons=%q, expected %v", res.Approved, res.Reasons, tt.ok)
			}
		})
	}
}

func TestFreshnessSkippedForSells(t *testing.T) {
	called := false
	v := NewValidator(nil, WithFreshnessChecker(FreshnessFunc(func(context.Context) (bool, string, error) {
		called = true
		return false, "stale", nil
	})))

	if res := v.Validate(context.Background(), "005930", SideSell, 10, 75000, 0); !res.Approved {
		t.Fatalf("sell must pass, got %q", res.Reasons)
	}
	if called {
		t.Fatal("freshness must only be checked for buys")
	}
}

func TestFreshnessPolicy(t *testing.T) {
	tests := []struct {
		name    string
		outcome freshnessOutcome
		ok      bool
	}{
		{"allowed", freshnessOutcome{allowed: true}, true},
		{"refused", freshnessOutcome{allowed: false, reason: "stale"}, false},
		{"error wins over refusal", freshnessOutcome{allowed: false, err: errors.New("x")}, true},
		{"timeout", freshnessOutcome{timedOut: true, err: context.DeadlineExceeded}, true},
		{"panic", freshnessOutcome{panicked: "boom"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := freshnessPolicy(tt.outcome)
			if ok != tt.ok {
				t.Fatalf("ok=%v reason=%q", ok, reason)
			}
			if !ok && !strings.Contains(reason, "stale") {
				t.Fatalf("reason=%q", reason)
			}
		})
	}
}

func TestValidateSideCase(t *testing.T) {
	v := NewValidator(nil, WithSafetyGate(stubGate{buy: false, sell: true}))
	for _, side := range []Side{"BUY", "Buy", " buy "} {
		res := v.Validate(context.Background(), "005930", side, 1, 100, 0)
		if res.Approved {
			t.Fatalf("side %q bypassed the buy gate", side)
		}
		if !strings.Contains(strings.Join(res.Reasons, "; "), "new buys are suspended") {
			t.Fatalf("side %q: reasons=%q", side, res.Reasons)
		}
	}

	res := NewValidator(nil).Validate(context.Background(), "005930", Side("hold"), 1, 100, 0)
	if res.Approved {
		t.Fatal("unknown side must be refused")
	}
	if !strings.Contains(res.Reasons[len(res.Reasons)-1], "side must be buy or sell") {
		t.Fatalf("reasons=%q", res.Reasons)
	}
}
