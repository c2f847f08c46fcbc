package limits

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Defaults for automated trading
const (
	DefaultMaxOrderPct       = 15.0
	DefaultMaxDailyOrders    = 10
	DefaultDailyLossLimitPct = -3.0
)

// Config holds the per-order and per-day limits
type Config struct {
	MaxOrderPct       float64 `mapstructure:"max_order_pct" json:"max_order_pct"`
	MaxDailyOrders    int     `mapstructure:"max_daily_orders" json:"max_daily_orders"`
	DailyLossLimitPct float64 `mapstructure:"daily_loss_limit_pct" json:"daily_loss_limit_pct"`
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		MaxOrderPct:       DefaultMaxOrderPct,
		MaxDailyOrders:    DefaultMaxDailyOrders,
		DailyLossLimitPct: DefaultDailyLossLimitPct,
	}
}

// Snapshot is a point-in-time view of the limits and today's counters
type Snapshot struct {
	Config
	Day             string  `json:"day"`
	DailyOrderCount int     `json:"daily_order_count"`
	DailyPnLPct     float64 `json:"daily_pnl_pct"`
}

// Limits tracks daily order count and P&L against Config. Counters roll over at
// local midnight.
type Limits struct {
	mu          sync.Mutex
	cfg         Config
	day         string
	orderCount  int
	dailyPnLPct float64
	now         func() time.Time
}

// New creates limits from cfg; zero fields fall back to defaults.
func New(cfg Config) *Limits {
	def := DefaultConfig()
	if cfg.MaxOrderPct <= 0 {
		cfg.MaxOrderPct = def.MaxOrderPct
	}
	if cfg.MaxDailyOrders <= 0 {
		cfg.MaxDailyOrders = def.MaxDailyOrders
	}
	if cfg.DailyLossLimitPct >= 0 {
		cfg.DailyLossLimitPct = def.DailyLossLimitPct
	}
	l := &Limits{cfg: cfg, now: time.Now}
	l.day = l.today()
	return l
}

// WithClock replaces the time source. Intended for tests.
func (l *Limits) WithClock(now func() time.Time) *Limits {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	l.day = l.today()
	return l
}

// CanOrder checks an order sized at orderPct percent of the portfolio.
func (l *Limits) CanOrder(orderPct float64) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()

	if orderPct > l.cfg.MaxOrderPct {
		return false, fmt.Sprintf("per-order limit exceeded (%.1f%% > %.1f%%)", orderPct, l.cfg.MaxOrderPct)
	}
	if l.orderCount >= l.cfg.MaxDailyOrders {
		return false, fmt.Sprintf("daily order count exceeded (%d/%d)", l.orderCount, l.cfg.MaxDailyOrders)
	}
	if l.dailyPnLPct <= l.cfg.DailyLossLimitPct {
		return false, fmt.Sprintf("daily loss limit reached (%.1f%%)", l.dailyPnLPct)
	}
	return true, ""
}

// RecordOrder counts a placed order against today's allowance.
func (l *Limits) RecordOrder() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()
	l.orderCount++
	log.Debug().
		Str("component", "limits").
		Int("daily_order_count", l.orderCount).
		Int("max_daily_orders", l.cfg.MaxDailyOrders).
		Msg("order recorded")
}

// SetDailyPnL updates today's realised P&L percentage.
func (l *Limits) SetDailyPnL(pct float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()
	l.dailyPnLPct = pct
	if pct <= l.cfg.DailyLossLimitPct {
		log.Warn().
			Str("component", "limits").
			Float64("daily_pnl_pct", pct).
			Float64("limit_pct", l.cfg.DailyLossLimitPct).
			Msg("daily loss limit reached")
	}
}

// ResetDaily clears today's counters.
func (l *Limits) ResetDaily() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetLocked(l.today())
}

func (l *Limits) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()
	return Snapshot{
		Config:          l.cfg,
		Day:             l.day,
		DailyOrderCount: l.orderCount,
		DailyPnLPct:     l.dailyPnLPct,
	}
}

func (l *Limits) today() string {
	return l.now().Format("2006-01-02")
}

func (l *Limits) rolloverLocked() {
	if day := l.today(); day != l.day {
		l.resetLocked(day)
	}
}

func (l *Limits) resetLocked(day string) {
	l.day = day
	l.orderCount = 0
	l.dailyPnLPct = 0
}
