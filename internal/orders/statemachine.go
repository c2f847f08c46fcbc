package orders

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var allowedTransitions = map[State][]State{
	StateIntent:    {StateValidated, StateBlocked},
	StateValidated: {StatePlaced, StateCancelled},
	StatePlaced:    {StatePartial, StateFilled, StateRejected, StateCancelled, StateExpired},
	StatePartial:   {StateFilled, StateCancelled},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AllowedFrom returns the legal next states of s.
func AllowedFrom(s State) []State {
	next := allowedTransitions[s]
	out := make([]State, len(next))
	copy(out, next)
	return out
}

// StateMachine is bound to a single order and is the only writer of its state.
type StateMachine struct {
	mu    sync.Mutex
	order *Order
	now   func() time.Time
	// inFlight is set while a broker submission for the order is outstanding.
	inFlight bool
}

func NewStateMachine(order *Order) *StateMachine {
	return &StateMachine{order: order, now: time.Now}
}

// State returns the current state of the bound order.
func (m *StateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.State
}

// Snapshot returns a copy of the bound order.
func (m *StateMachine) Snapshot() *Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Clone()
}

// Transition moves the order to target. An illegal request is logged and leaves the
// order untouched.
func (m *StateMachine) Transition(target State, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(target, reason)
}

func (m *StateMachine) transitionLocked(target State, reason string) bool {
	current := m.order.State
	if !CanTransition(current, target) {
		log.Warn().
			Str("component", "order_state_machine").
			Str("order_id", m.order.OrderID).
			Str("state", string(current)).
			Str("attempted", string(target)).
			Interface("allowed", allowedTransitions[current]).
			Msg("illegal transition refused")
		return false
	}

	now := m.now()
	m.order.Transitions = append(m.order.Transitions, Transition{
		From:      current,
		To:        target,
		Reason:    reason,
		Timestamp: now,
	})
	m.order.State = target
	m.order.UpdatedAt = now

	log.Debug().
		Str("component", "order_state_machine").
		Str("order_id", m.order.OrderID).
		Str("from", string(current)).
		Str("to", string(target)).
		Str("reason", reason).
		Msg("order transitioned")
	return true
}

func (m *StateMachine) Validate() bool {
	return m.Transition(StateValidated, "pre-trade checks passed")
}

// Block refuses the intent and records why.
func (m *StateMachine) Block(reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.transitionLocked(StateBlocked, reason) {
		return false
	}
	m.order.BlockReason = reason
	return true
}

// Claim marks a validated order as being submitted. Only one claim succeeds.
func (m *StateMachine) Claim() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.order.State != StateValidated || m.inFlight {
		return false
	}
	m.inFlight = true
	return true
}

// InFlight reports whether a submission claim is held.
func (m *StateMachine) InFlight() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

// Place records the broker-assigned identifier and ends any submission claim.
func (m *StateMachine) Place(brokerOrderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.transitionLocked(StatePlaced, "broker accepted "+brokerOrderID) {
		return false
	}
	m.order.BrokerOrderID = brokerOrderID
	m.inFlight = false
	return true
}

// Abandon ends a submission claim by cancelling the order.
func (m *StateMachine) Abandon(reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inFlight {
		return false
	}
	if !m.transitionLocked(StateCancelled, reason) {
		return false
	}
	m.inFlight = false
	return true
}

// Fill accumulates an execution. The order becomes filled once the cumulative quantity
// reaches the requested quantity, otherwise partial. Further partial fills of a partial
// order accumulate without a new transition record.
func (m *StateMachine) Fill(quantity int64, price float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if quantity <= 0 {
		log.Warn().
			Str("component", "order_state_machine").
			Str("order_id", m.order.OrderID).
			Int64("quantity", quantity).
			Msg("non-positive fill refused")
		return false
	}

	cumulative := m.order.FilledQuantity + quantity
	target := StatePartial
	if cumulative >= m.order.Quantity {
		target = StateFilled
	}

	// partial -> partial is not an edge; the state is unchanged
	stayPartial := target == StatePartial && m.order.State == StatePartial
	if !stayPartial {
		if !m.transitionLocked(target, fmt.Sprintf("fill %d @ %g", quantity, price)) {
			return false
		}
	}

	amount := m.order.FilledAmount.Add(decimal.NewFromFloat(price).Mul(decimal.NewFromInt(quantity)))
	m.order.FilledQuantity = cumulative
	m.order.FilledAmount = amount
	m.order.AvgFillPrice = amount.Div(decimal.NewFromInt(cumulative)).InexactFloat64()
	m.order.UpdatedAt = m.now()
	return true
}

// Reject records the broker's refusal.
func (m *StateMachine) Reject(reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.transitionLocked(StateRejected, reason) {
		return false
	}
	m.order.RejectReason = reason
	return true
}

// Cancel is refused while a submission claim is held.
func (m *StateMachine) Cancel(reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight {
		log.Warn().
			Str("component", "order_state_machine").
			Str("order_id", m.order.OrderID).
			Msg("cancel refused, submission in flight")
		return false
	}
	return m.transitionLocked(StateCancelled, reason)
}

func (m *StateMachine) Expire(reason string) bool {
	return m.Transition(StateExpired, reason)
}
