package safety

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/PAFGYM/k-quant-system-sub002/internal/events"
)

// Kill switch actions recorded in history
const (
	ActionActivate   = "activate"
	ActionDeactivate = "deactivate"
)

// Well-known activators
const (
	ActivatorSafetyMode = "safety_mode"
	ActivatorManual     = "manual"
	ActivatorSystem     = "system"
)

// KillSwitchEvent is one activation or deactivation
type KillSwitchEvent struct {
	Action    string    `json:"action"`
	Reason    string    `json:"reason"`
	By        string    `json:"by,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// KillSwitchStatus is a point-in-time view of the switch
type KillSwitchStatus struct {
	Active       bool      `json:"active"`
	Reason       string    `json:"reason"`
	ActivatedBy  string    `json:"activated_by"`
	ActivatedAt  time.Time `json:"activated_at"`
	HistoryCount int       `json:"history_count"`
}

// KillSwitch is the process-wide gate that blocks all new order validation when armed.
type KillSwitch struct {
	mu          sync.RWMutex
	active      bool
	reason      string
	activatedBy string
	activatedAt time.Time
	history     []KillSwitchEvent
	bus         *events.Bus
	now         func() time.Time
}

// NewKillSwitch creates a disarmed kill switch. bus may be nil.
func NewKillSwitch(bus *events.Bus) *KillSwitch {
	return &KillSwitch{bus: bus, now: time.Now}
}

// Activate arms the switch. Activating an armed switch is a logged no-op.
func (k *KillSwitch) Activate(reason, by string) {
	if by == "" {
		by = ActivatorSystem
	}

	k.mu.Lock()
	if k.active {
		current := k.reason
		k.mu.Unlock()
		log.Warn().
			Str("component", "kill_switch").
			Str("current_reason", current).
			Str("requested_by", by).
			Msg("kill switch already active")
		return
	}

	now := k.now()
	k.active = true
	k.reason = reason
	k.activatedBy = by
	k.activatedAt = now
	ev := KillSwitchEvent{Action: ActionActivate, Reason: reason, By: by, Timestamp: now}
	k.history = append(k.history, ev)
	k.mu.Unlock()

	log.Error().
		Str("component", "kill_switch").
		Str("reason", reason).
		Str("activated_by", by).
		Msg("kill switch activated")
	k.bus.Publish(events.EventKillSwitch, ev)
}

// Deactivate disarms the switch. No-op when already disarmed.
func (k *KillSwitch) Deactivate(reason string) {
	if reason == "" {
		reason = "manual release"
	}
	k.release("", reason)
}

// IsActive reports whether the switch is armed.
func (k *KillSwitch) IsActive() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active
}

// Reason returns why the switch is armed, or "" when disarmed.
func (k *KillSwitch) Reason() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.reason
}

// ActivatedBy returns the activator identity of the current arming.
func (k *KillSwitch) ActivatedBy() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.activatedBy
}

// release disarms the switch; a non-empty owner restricts the release to that activator.
// Check and release happen under one lock so a concurrent manual arming is never released.
func (k *KillSwitch) release(owner, reason string) bool {
	k.mu.Lock()
	if !k.active || (owner != "" && k.activatedBy != owner) {
		k.mu.Unlock()
		return false
	}
	ev := KillSwitchEvent{Action: ActionDeactivate, Reason: reason, Timestamp: k.now()}
	k.active = false
	k.reason = ""
	k.activatedBy = ""
	k.activatedAt = time.Time{}
	k.history = append(k.history, ev)
	k.mu.Unlock()

	log.Info().Str("component", "kill_switch").Str("reason", reason).Msg("kill switch released")
	k.bus.Publish(events.EventKillSwitch, ev)
	return true
}

// Status returns a snapshot of the switch.
func (k *KillSwitch) Status() KillSwitchStatus {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return KillSwitchStatus{
		Active:       k.active,
		Reason:       k.reason,
		ActivatedBy:  k.activatedBy,
		ActivatedAt:  k.activatedAt,
		HistoryCount: len(k.history),
	}
}

// History returns a copy of the activation/deactivation log.
func (k *KillSwitch) History() []KillSwitchEvent {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]KillSwitchEvent, len(k.history))
	copy(out, k.history)
	return out
}
