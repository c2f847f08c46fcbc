package idempotency

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestGuard(window time.Duration) (*Guard, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 2, 9, 0, 0, 0, time.Local)}
	return NewGuard(window).WithClock(clock.Now), clock
}

func TestGenerateKey(t *testing.T) {
	k1 := GenerateKey("005930", "buy", 10)
	if k1 != GenerateKey("005930", "buy", 10) {
		t.Fatal("key is not deterministic")
	}
	if len(k1) != 32 {
		t.Fatalf("len(key)=%d, expected 32", len(k1))
	}

	distinct := []string{
		GenerateKey("005930", "sell", 10),
		GenerateKey("005930", "buy", 11),
		GenerateKey("000660", "buy", 10),
	}
	for _, k := range distinct {
		if k == k1 {
			t.Fatalf("expected distinct key, got collision %s", k)
		}
	}
}

func TestCheckAndRegisterWithinWindow(t *testing.T) {
	guard, clock := newTestGuard(5 * time.Second)
	key := GenerateKey("005930", "buy", 10)

	ok, msg := guard.CheckAndRegister(key)
	if !ok || msg != "" {
		t.Fatalf("first registration: ok=%v msg=%q", ok, msg)
	}

	clock.Advance(2 * time.Second)
	ok, msg = guard.CheckAndRegister(key)
	if ok {
		t.Fatal("second registration inside window must be denied")
	}
	if !strings.Contains(msg, "duplicate") {
		t.Fatalf("message %q missing duplicate wording", msg)
	}
	if !strings.Contains(msg, "2s ago") || !strings.Contains(msg, "retry in 3s") {
		t.Fatalf("message %q missing elapsed/remaining seconds", msg)
	}
}

func TestCheckAndRegisterAfterWindow(t *testing.T) {
	guard, clock := newTestGuard(5 * time.Second)
	key := GenerateKey("005930", "buy", 10)

	guard.CheckAndRegister(key)
	clock.Advance(5 * time.Second)

	if ok, msg := guard.CheckAndRegister(key); !ok {
		t.Fatalf("expected allowed after window, got %q", msg)
	}
}

func TestRelease(t *testing.T) {
	guard, _ := newTestGuard(time.Minute)
	key := GenerateKey("005930", "buy", 10)

	guard.CheckAndRegister(key)
	guard.Release(key)
	guard.Release(key)

	if ok, _ := guard.CheckAndRegister(key); !ok {
		t.Fatal("expected allowed after release")
	}
}

func TestActiveCountSweepsExpired(t *testing.T) {
	guard, clock := newTestGuard(10 * time.Second)
	guard.CheckAndRegister("a")
	clock.Advance(6 * time.Second)
	guard.CheckAndRegister("b")

	if n := guard.ActiveCount(); n != 2 {
		t.Fatalf("ActiveCount=%d, expected 2", n)
	}
	clock.Advance(5 * time.Second)
	if n := guard.ActiveCount(); n != 1 {
		t.Fatalf("ActiveCount=%d, expected 1", n)
	}
}

func TestDefaultWindow(t *testing.T) {
	if w := NewGuard(0).Window(); w != DefaultWindow {
		t.Fatalf("Window=%v, expected %v", w, DefaultWindow)
	}
}

func TestCheckAndRegisterConcurrent(t *testing.T) {
	guard := NewGuard(time.Minute)
	key := GenerateKey("005930", "buy", 10)

	var allowed int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := guard.CheckAndRegister(key); ok {
				atomic.AddInt32(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	if allowed != 1 {
		t.Fatalf("allowed=%d, expected exactly 1", allowed)
	}
}
