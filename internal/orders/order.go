package orders

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrIllegalTransition = errors.New("illegal order transition")
	ErrOrderInFlight     = errors.New("order submission in flight")
)

// State is a lifecycle state of an order
type State string

const (
	StateIntent    State = "intent"
	StateValidated State = "validated"
	StateBlocked   State = "blocked"
	StatePlaced    State = "placed"
	StatePartial   State = "partial"
	StateFilled    State = "filled"
	StateRejected  State = "rejected"
	StateCancelled State = "cancelled"
	StateExpired   State = "expired"
)

// AllStates lists every state in lifecycle order.
var AllStates = []State{
	StateIntent, StateValidated, StateBlocked, StatePlaced, StatePartial,
	StateFilled, StateRejected, StateCancelled, StateExpired,
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(allowedTransitions[s]) == 0
}

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide accepts buy/sell in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", fmt.Errorf("invalid side %q", s)
}

type Kind string

const (
	KindLimit  Kind = "limit"
	KindMarket Kind = "market"
)

// ParseKind accepts limit/market in any case.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindLimit:
		return KindLimit, nil
	case KindMarket:
		return KindMarket, nil
	}
	return "", fmt.Errorf("invalid kind %q", s)
}

// Transition is one entry of an order's audit log
type Transition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Order is the unit of work tracked by the ledger
type Order struct {
	OrderID        string          `json:"order_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Ticker         string          `json:"ticker"`
	Name           string          `json:"name"`
	Side           Side            `json:"side"`
	Quantity       int64           `json:"quantity"`
	Price          float64         `json:"price"`
	Kind           Kind            `json:"kind"`
	Strategy       string          `json:"strategy"`
	State          State           `json:"state"`
	BrokerOrderID  string          `json:"broker_order_id,omitempty"`
	FilledQuantity int64           `json:"filled_quantity"`
	AvgFillPrice   float64         `json:"avg_fill_price"`
	FilledAmount   decimal.Decimal `json:"filled_amount"`
	BlockReason    string          `json:"block_reason,omitempty"`
	RejectReason   string          `json:"reject_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Transitions    []Transition    `json:"transitions"`
}

// Terminal reports whether the order reached a final state.
func (o *Order) Terminal() bool {
	return o.State.Terminal()
}

// Active reports whether the order may still change state.
func (o *Order) Active() bool {
	return !o.Terminal()
}

// ReplayState replays the transition log from intent. It returns an error when the log
// does not chain or contains an illegal step.
func (o *Order) ReplayState() (State, error) {
	state := StateIntent
	for i, t := range o.Transitions {
		if t.From != state {
			return state, fmt.Errorf("transition %d starts at %s, expected %s", i, t.From, state)
		}
		if !CanTransition(t.From, t.To) {
			return state, fmt.Errorf("transition %d: %w: %s -> %s", i, ErrIllegalTransition, t.From, t.To)
		}
		state = t.To
	}
	return state, nil
}

// Clone returns a deep copy safe to hand out of the ledger.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Transitions = make([]Transition, len(o.Transitions))
	copy(c.Transitions, o.Transitions)
	return &c
}
