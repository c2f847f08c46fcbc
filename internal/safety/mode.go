package safety

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/PAFGYM/k-quant-system-sub002/internal/events"
)

// ErrInvalidLevel is returned when a level name or value is outside the ladder
var ErrInvalidLevel = errors.New("invalid safety level")

// Level is the four-step escalation ladder. Higher is more restrictive.
type Level int

const (
	LevelNormal Level = iota
	LevelCaution
	LevelSafe
	LevelLockdown
)

var levelNames = [...]string{"NORMAL", "CAUTION", "SAFE", "LOCKDOWN"}

func (l Level) String() string {
	if l < LevelNormal || l > LevelLockdown {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelNames[l]
}

// Valid reports whether l is on the ladder.
func (l Level) Valid() bool {
	return l >= LevelNormal && l <= LevelLockdown
}

// MarshalJSON encodes the level by name.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON accepts a level name.
func (l *Level) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	parsed, err := ParseLevel(name)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel resolves a case-insensitive level name.
func ParseLevel(name string) (Level, error) {
	for i, n := range levelNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return Level(i), nil
		}
	}
	return LevelNormal, fmt.Errorf("%w: %q", ErrInvalidLevel, name)
}

// LevelChange is one entry of the level history
type LevelChange struct {
	From      Level     `json:"from"`
	To        Level     `json:"to"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Status is the read-only view exposed to operators
type Status struct {
	Level        Level            `json:"level"`
	LevelValue   int              `json:"level_value"`
	BuyAllowed   bool             `json:"buy_allowed"`
	SellAllowed  bool             `json:"sell_allowed"`
	KillSwitch   KillSwitchStatus `json:"kill_switch"`
	HistoryCount int              `json:"history_count"`
}

// Manager holds the process-wide safety level and drives the kill switch.
//
// Restrictions per level:
//
//	NORMAL   no restriction
//	CAUTION  warnings only, trading allowed
//	SAFE     new buys blocked, sells allowed
//	LOCKDOWN all automated trading blocked, kill switch armed
type Manager struct {
	mu         sync.RWMutex
	level      Level
	history    []LevelChange
	killSwitch *KillSwitch
	bus        *events.Bus
	now        func() time.Time
}

// NewManager creates a manager at NORMAL. A fresh kill switch is created when ks is nil.
func NewManager(ks *KillSwitch, bus *events.Bus) *Manager {
	if ks == nil {
		ks = NewKillSwitch(bus)
	}
	return &Manager{
		level:      LevelNormal,
		killSwitch: ks,
		bus:        bus,
		now:        time.Now,
	}
}

// KillSwitch returns the switch driven by this manager.
func (m *Manager) KillSwitch() *KillSwitch {
	return m.killSwitch
}

// Level returns the current level.
func (m *Manager) Level() Level {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.level
}

// BuyAllowed reports whether new buys are admissible (below SAFE).
func (m *Manager) BuyAllowed() bool {
	return m.Level() < LevelSafe
}

// SellAllowed reports whether sells are admissible (below LOCKDOWN).
func (m *Manager) SellAllowed() bool {
	return m.Level() < LevelLockdown
}

// SetLevel records the change and arms or disarms the kill switch.
// Entering LOCKDOWN arms the switch; returning to NORMAL or CAUTION disarms it only
// when this manager armed it.
func (m *Manager) SetLevel(level Level, reason string) error {
	if !level.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidLevel, int(level))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(level, reason)
	return nil
}

// setLocked applies a level change. The kill switch side effect happens under m.mu so
// the next validation observes both.
func (m *Manager) setLocked(level Level, reason string) {
	old := m.level
	m.level = level
	change := LevelChange{From: old, To: level, Reason: reason, Timestamp: m.now()}
	m.history = append(m.history, change)

	if level == LevelLockdown && !m.killSwitch.IsActive() {
		m.killSwitch.Activate("safety lockdown: "+reason, ActivatorSafetyMode)
	}
	if level <= LevelCaution {
		m.killSwitch.release(ActivatorSafetyMode, fmt.Sprintf("safety mode returned to %s", level))
	}

	if old != level {
		log.Warn().
			Str("component", "safety_mode").
			Str("from", old.String()).
			Str("to", level.String()).
			Str("reason", reason).
			Msg("safety level changed")
		m.bus.Publish(events.EventSafetyMode, change)
	}
}

// Escalate steps one level up, clamped at LOCKDOWN.
func (m *Manager) Escalate(reason string) Level {
	m.step(1, reason)
	return m.Level()
}

// DeEscalate steps one level down, clamped at NORMAL.
func (m *Manager) DeEscalate(reason string) Level {
	m.step(-1, reason)
	return m.Level()
}

func (m *Manager) step(delta int, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.level + Level(delta)
	if !next.Valid() {
		return
	}
	m.setLocked(next, reason)
}

// History returns a copy of the level changes.
func (m *Manager) History() []LevelChange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]LevelChange, len(m.history))
	copy(out, m.history)
	return out
}

// Status returns the operator view.
func (m *Manager) Status() Status {
	m.mu.RLock()
	level := m.level
	historyCount := len(m.history)
	m.mu.RUnlock()

	return Status{
		Level:        level,
		LevelValue:   int(level),
		BuyAllowed:   level < LevelSafe,
		SellAllowed:  level < LevelLockdown,
		KillSwitch:   m.killSwitch.Status(),
		HistoryCount: historyCount,
	}
}
