package orders

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/PAFGYM/k-quant-system-sub002/internal/idempotency"
)

// DefaultFreshnessTimeout bounds a single data-freshness check.
const DefaultFreshnessTimeout = 2 * time.Second

// FreshnessChecker decides whether current price data is good enough to buy on
type FreshnessChecker interface {
	CanBuyWithCurrentData(ctx context.Context) (bool, string, error)
}

// FreshnessFunc adapts a function to FreshnessChecker
type FreshnessFunc func(ctx context.Context) (bool, string, error)

func (f FreshnessFunc) CanBuyWithCurrentData(ctx context.Context) (bool, string, error) {
	return f(ctx)
}

// SafetyLimits enforces per-order and per-day limits
type SafetyLimits interface {
	CanOrder(orderPct float64) (bool, string)
	RecordOrder()
}

// KillSwitch is the read side of the process-wide kill switch
type KillSwitch interface {
	IsActive() bool
	Reason() string
}

// SafetyGate reports which sides the current safety level admits
type SafetyGate interface {
	BuyAllowed() bool
	SellAllowed() bool
}

// Result is the outcome of pre-trade validation. Reasons keep check order.
type Result struct {
	Approved       bool     `json:"approved"`
	Reasons        []string `json:"reasons"`
	IdempotencyKey string   `json:"idempotency_key"`
	// Reserved is set when this call took the idempotency reservation.
	Reserved bool `json:"-"`
}

// freshnessOutcome is what came back from one checker invocation
type freshnessOutcome struct {
	allowed  bool
	reason   string
	err      error
	timedOut bool
	panicked any
}

// freshnessPolicy maps a checker outcome to an admission decision. Errors, timeouts and
// panics admit the order; only an explicit refusal blocks it.
func freshnessPolicy(o freshnessOutcome) (bool, string) {
	switch {
	case o.panicked != nil:
		log.Warn().Str("component", "validator").Interface("panic", o.panicked).
			Msg("freshness checker panicked, allowing order")
		return true, ""
	case o.timedOut:
		log.Warn().Str("component", "validator").Err(o.err).
			Msg("freshness checker timed out, allowing order")
		return true, ""
	case o.err != nil:
		log.Warn().Str("component", "validator").Err(o.err).
			Msg("freshness checker failed, allowing order")
		return true, ""
	case !o.allowed:
		reason := o.reason
		if reason == "" {
			reason = "price data is stale or unverified"
		}
		return false, "data freshness: " + reason
	}
	return true, ""
}

// Validator runs every pre-trade check and collects all reasons.
type Validator struct {
	mu               sync.RWMutex
	guard            *idempotency.Guard
	killSwitch       KillSwitch
	gate             SafetyGate
	freshness        FreshnessChecker
	limits           SafetyLimits
	freshnessTimeout time.Duration
}

type ValidatorOption func(*Validator)

func WithKillSwitch(ks KillSwitch) ValidatorOption {
	return func(v *Validator) { v.killSwitch = ks }
}

func WithSafetyGate(g SafetyGate) ValidatorOption {
	return func(v *Validator) { v.gate = g }
}

func WithFreshnessChecker(fc FreshnessChecker) ValidatorOption {
	return func(v *Validator) { v.freshness = fc }
}

func WithSafetyLimits(l SafetyLimits) ValidatorOption {
	return func(v *Validator) { v.limits = l }
}

func WithFreshnessTimeout(d time.Duration) ValidatorOption {
	return func(v *Validator) {
		if d > 0 {
			v.freshnessTimeout = d
		}
	}
}

// NewValidator creates a validator. A default guard is created when guard is nil.
func NewValidator(guard *idempotency.Guard, opts ...ValidatorOption) *Validator {
	if guard == nil {
		guard = idempotency.NewGuard(idempotency.DefaultWindow)
	}
	v := &Validator{
		guard:            guard,
		freshnessTimeout: DefaultFreshnessTimeout,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Guard returns the idempotency guard used for reservations.
func (v *Validator) Guard() *idempotency.Guard {
	return v.guard
}

func (v *Validator) SetSafetyLimits(l SafetyLimits) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.limits = l
}

func (v *Validator) SetFreshnessChecker(fc FreshnessChecker) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.freshness = fc
}

// SafetyLimits returns the attached limits, or nil.
func (v *Validator) SafetyLimits() SafetyLimits {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.limits
}

// KillSwitchActive reports whether an attached kill switch is armed.
func (v *Validator) KillSwitchActive() bool {
	v.mu.RLock()
	ks := v.killSwitch
	v.mu.RUnlock()
	return ks != nil && ks.IsActive()
}

// Validate checks an intent. It never short-circuits: every failing check adds a reason.
// side is accepted in any case; anything other than buy or sell is refused.
func (v *Validator) Validate(ctx context.Context, ticker string, side Side, quantity int64, price, totalPortfolioValue float64) Result {
	v.mu.RLock()
	ks, gate, freshness, limits := v.killSwitch, v.gate, v.freshness, v.limits
	v.mu.RUnlock()

	var reasons []string
	rawSide := side
	side, sideErr := ParseSide(string(side))

	if ks != nil && ks.IsActive() {
		reasons = append(reasons, fmt.Sprintf("kill switch active: %s", ks.Reason()))
	}

	if gate != nil {
		if side == SideBuy && !gate.BuyAllowed() {
			reasons = append(reasons, "safety mode: new buys are suspended")
		}
		if side == SideSell && !gate.SellAllowed() {
			reasons = append(reasons, "safety mode: all trading is suspended")
		}
	}

	if side == SideBuy && freshness != nil {
		if ok, reason := v.checkFreshness(ctx, freshness); !ok {
			reasons = append(reasons, reason)
		}
	}

	if limits != nil && totalPortfolioValue > 0 {
		orderPct := float64(quantity) * price / totalPortfolioValue * 100
		if ok, reason := limits.CanOrder(orderPct); !ok {
			reasons = append(reasons, reason)
		}
	}

	keySide := string(side)
	if sideErr != nil {
		keySide = string(rawSide)
	}
	key := idempotency.GenerateKey(ticker, keySide, quantity)
	reserved, dupMsg := v.guard.CheckAndRegister(key)
	if !reserved {
		reasons = append(reasons, dupMsg)
	}

	if sideErr != nil {
		reasons = append(reasons, fmt.Sprintf("side must be buy or sell (got %q)", rawSide))
	}
	if quantity <= 0 {
		reasons = append(reasons, fmt.Sprintf("quantity must be positive (got %d)", quantity))
	}
	if price < 0 {
		reasons = append(reasons, fmt.Sprintf("price must not be negative (got %g)", price))
	}

	if len(reasons) > 0 {
		log.Info().
			Str("component", "validator").
			Str("ticker", ticker).
			Str("side", keySide).
			Int64("quantity", quantity).
			Str("reasons", strings.Join(reasons, "; ")).
			Msg("pre-trade validation failed")
	}

	return Result{
		Approved:       len(reasons) == 0,
		Reasons:        reasons,
		IdempotencyKey: key,
		Reserved:       reserved,
	}
}

func (v *Validator) checkFreshness(ctx context.Context, checker FreshnessChecker) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, v.freshnessTimeout)
	defer cancel()

	done := make(chan freshnessOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- freshnessOutcome{panicked: r}
			}
		}()
		ok, reason, err := checker.CanBuyWithCurrentData(ctx)
		done <- freshnessOutcome{allowed: ok, reason: reason, err: err}
	}()

	select {
	case o := <-done:
		return freshnessPolicy(o)
	case <-ctx.Done():
		return freshnessPolicy(freshnessOutcome{timedOut: true, err: ctx.Err()})
	}
}
