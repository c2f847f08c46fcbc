package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultWindow is how long a reservation blocks an identical intent.
const DefaultWindow = 300 * time.Second

// Guard deduplicates trade intents within a rolling time window.
type Guard struct {
	mu       sync.Mutex
	window   time.Duration
	reserved map[string]time.Time
	now      func() time.Time
}

// NewGuard creates a guard holding reservations for window (DefaultWindow when <= 0).
func NewGuard(window time.Duration) *Guard {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Guard{
		window:   window,
		reserved: make(map[string]time.Time),
		now:      time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
	return g
}

// Window returns the configured reservation window.
func (g *Guard) Window() time.Duration {
	return g.window
}

// GenerateKey fingerprints an intent. Price is left out on purpose so the same
// ticker/side/quantity cannot be resubmitted at a different price inside the window.
func GenerateKey(ticker, side string, quantity int64) string {
	raw := fmt.Sprintf("%s|%s|%d", strings.ToUpper(strings.TrimSpace(ticker)), strings.ToLower(side), quantity)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:32]
}

// CheckAndRegister reserves key unless a live reservation already exists.
// The returned message explains a denial.
func (g *Guard) CheckAndRegister(key string) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.sweepLocked(now)

	if at, ok := g.reserved[key]; ok {
		elapsed := now.Sub(at)
		remaining := g.window - elapsed
		msg := fmt.Sprintf("duplicate order blocked: identical intent submitted %ds ago (retry in %ds)",
			int(elapsed.Seconds()), int(remaining.Seconds()+0.999))
		log.Warn().
			Str("component", "idempotency").
			Str("key", key).
			Dur("elapsed", elapsed).
			Dur("remaining", remaining).
			Msg("duplicate intent rejected")
		return false, msg
	}

	g.reserved[key] = now
	return true, ""
}

// Release drops a reservation early so a corrected resubmission is not blocked.
func (g *Guard) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.reserved[key]; ok {
		delete(g.reserved, key)
		log.Debug().Str("component", "idempotency").Str("key", key).Msg("reservation released")
	}
}

// ActiveCount returns the number of live reservations.
func (g *Guard) ActiveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sweepLocked(g.now())
	return len(g.reserved)
}

func (g *Guard) sweepLocked(now time.Time) {
	for k, at := range g.reserved {
		if now.Sub(at) >= g.window {
			delete(g.reserved, k)
		}
	}
}
