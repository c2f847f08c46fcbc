package orders

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/PAFGYM/k-quant-system-sub002/internal/events"
)

// OrderRequest is a trade intent submitted to the ledger
type OrderRequest struct {
	Ticker              string  `json:"ticker" binding:"required"`
	Name                string  `json:"name"`
	Side                Side    `json:"side" binding:"required"`
	Quantity            int64   `json:"quantity"`
	Price               float64 `json:"price"`
	Kind                Kind    `json:"kind"`
	Strategy            string  `json:"strategy"`
	TotalPortfolioValue float64 `json:"total_portfolio_value"`
}

// Stats summarises the ledger
type Stats struct {
	TotalOrders           int           `json:"total_orders"`
	TodayOrders           int           `json:"today_orders"`
	ByState               map[State]int `json:"by_state"`
	ActiveOrders          int           `json:"active_orders"`
	ActiveIdempotencyKeys int           `json:"active_idempotency_keys"`
	KillSwitchActive      bool          `json:"kill_switch_active"`
}

// Position is a net holding derived from fills
type Position struct {
	Ticker   string  `json:"ticker"`
	Name     string  `json:"name"`
	Quantity int64   `json:"quantity"`
	AvgPrice float64 `json:"avg_price"`
}

// Ledger admits trade intents and owns every order it creates
type Ledger struct {
	validator *Validator
	repo      Repository
	store     Store
	bus       *events.Bus
	now       func() time.Time
	logger    zerolog.Logger
}

type LedgerOption func(*Ledger)

func WithRepository(r Repository) LedgerOption {
	return func(l *Ledger) { l.repo = r }
}

// WithStore writes every order snapshot through to s.
func WithStore(s Store) LedgerOption {
	return func(l *Ledger) { l.store = s }
}

func WithEventBus(b *events.Bus) LedgerOption {
	return func(l *Ledger) { l.bus = b }
}

func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a ledger around validator (a default one when nil).
func NewLedger(validator *Validator, opts ...LedgerOption) *Ledger {
	if validator == nil {
		validator = NewValidator(nil)
	}
	l := &Ledger{
		validator: validator,
		repo:      NewMemoryRepository(),
		now:       time.Now,
		logger:    log.With().Str("component", "order_ledger").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Validator returns the pre-trade validator used for admission.
func (l *Ledger) Validator() *Validator {
	return l.validator
}

func (l *Ledger) SetSafetyLimits(limits SafetyLimits) {
	l.validator.SetSafetyLimits(limits)
}

func (l *Ledger) SetFreshnessChecker(fc FreshnessChecker) {
	l.validator.SetFreshnessChecker(fc)
}

// CreateOrder validates req and records the resulting order as validated or blocked.
// The returned order is a copy.
func (l *Ledger) CreateOrder(ctx context.Context, req OrderRequest) (*Order, string) {
	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))
	side := req.Side
	if s, err := ParseSide(string(req.Side)); err == nil {
		side = s
	}

	var kindErr error
	kind := req.Kind
	if kind == "" {
		kind = KindLimit
		if req.Price == 0 {
			kind = KindMarket
		}
	} else if k, err := ParseKind(string(kind)); err == nil {
		kind = k
	} else {
		kindErr = err
	}

	res := l.validator.Validate(ctx, ticker, side, req.Quantity, req.Price, req.TotalPortfolioValue)
	if kindErr != nil {
		res.Approved = false
		res.Reasons = append(res.Reasons, fmt.Sprintf("kind must be limit or market (got %q)", req.Kind))
	}

	now := l.now()
	order := &Order{
		OrderID:        "ORD_" + uuid.New().String(),
		IdempotencyKey: res.IdempotencyKey,
		Ticker:         ticker,
		Name:           req.Name,
		Side:           side,
		Quantity:       req.Quantity,
		Price:          req.Price,
		Kind:           kind,
		Strategy:       req.Strategy,
		State:          StateIntent,
		FilledAmount:   decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	sm := NewStateMachine(order)
	sm.now = l.now

	var msg string
	outcome := events.EventOrderValidated
	if res.Approved {
		sm.Validate()
		msg = fmt.Sprintf("pre-trade checks passed: %s %s %d @ %g", ticker, side, req.Quantity, req.Price)
	} else {
		reason := strings.Join(res.Reasons, "; ")
		sm.Block(reason)
		if res.Reserved {
			l.validator.Guard().Release(res.IdempotencyKey)
		}
		msg = "order blocked: " + reason
		outcome = events.EventOrderBlocked
	}

	l.repo.Add(sm)
	snap := sm.Snapshot()

	l.logger.Info().
		Str("order_id", snap.OrderID).
		Str("ticker", snap.Ticker).
		Str("side", string(snap.Side)).
		Int64("quantity", snap.Quantity).
		Str("state", string(snap.State)).
		Msg("order created")

	l.persist(ctx, snap)
	l.bus.Publish(events.EventOrderCreated, snap)
	l.bus.Publish(outcome, snap)
	return snap, msg
}

// MarkPlaced records the broker acknowledgement of a validated order.
func (l *Ledger) MarkPlaced(ctx context.Context, orderID, brokerOrderID string) (*Order, error) {
	return l.mutate(ctx, orderID, "place", func(sm *StateMachine) bool {
		return sm.Place(brokerOrderID)
	})
}

// Claim reserves a validated order for broker submission. A second claim, or a claim on
// an order that is no longer validated, fails until the first one is placed or abandoned.
func (l *Ledger) Claim(orderID string) (*Order, error) {
	sm, ok := l.repo.Get(orderID)
	if !ok {
		return nil, fmt.Errorf("claim %s: %w", orderID, ErrOrderNotFound)
	}
	if sm.Claim() {
		return sm.Snapshot(), nil
	}
	if sm.InFlight() {
		return sm.Snapshot(), fmt.Errorf("claim %s: %w", orderID, ErrOrderInFlight)
	}
	return sm.Snapshot(), fmt.Errorf("claim %s in state %s: %w", orderID, sm.State(), ErrIllegalTransition)
}

// AbandonSubmission cancels a claimed order whose submission did not reach the broker
// and frees the intent.
func (l *Ledger) AbandonSubmission(ctx context.Context, orderID, reason string) (*Order, error) {
	return l.mutate(ctx, orderID, "abandon", func(sm *StateMachine) bool {
		return sm.Abandon(reason)
	})
}

// ApplyFill accumulates an execution report.
func (l *Ledger) ApplyFill(ctx context.Context, orderID string, quantity int64, price float64) (*Order, error) {
	return l.mutate(ctx, orderID, "fill", func(sm *StateMachine) bool {
		return sm.Fill(quantity, price)
	})
}

// Reject records a broker refusal and frees the intent for resubmission.
func (l *Ledger) Reject(ctx context.Context, orderID, reason string) (*Order, error) {
	return l.mutate(ctx, orderID, "reject", func(sm *StateMachine) bool {
		return sm.Reject(reason)
	})
}

// Cancel cancels a validated, placed or partial order and frees the intent. A claimed
// order cannot be cancelled until its submission completes.
func (l *Ledger) Cancel(ctx context.Context, orderID, reason string) (*Order, error) {
	return l.mutate(ctx, orderID, "cancel", func(sm *StateMachine) bool {
		return sm.Cancel(reason)
	})
}

// Expire marks a placed order as expired at the broker and frees the intent.
func (l *Ledger) Expire(ctx context.Context, orderID, reason string) (*Order, error) {
	return l.mutate(ctx, orderID, "expire", func(sm *StateMachine) bool {
		return sm.Expire(reason)
	})
}

func (l *Ledger) mutate(ctx context.Context, orderID, op string, apply func(*StateMachine) bool) (*Order, error) {
	sm, ok := l.repo.Get(orderID)
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", op, orderID, ErrOrderNotFound)
	}

	before := sm.State()
	if !apply(sm) {
		if sm.InFlight() {
			return sm.Snapshot(), fmt.Errorf("%s %s: %w", op, orderID, ErrOrderInFlight)
		}
		return sm.Snapshot(), fmt.Errorf("%s %s from %s: %w", op, orderID, before, ErrIllegalTransition)
	}
	snap := sm.Snapshot()

	switch snap.State {
	case StateRejected, StateCancelled, StateExpired:
		l.releaseReservation(snap)
	}

	l.persist(ctx, snap)
	l.bus.Publish(eventFor(snap.State), snap)
	return snap, nil
}

// releaseReservation frees the intent's key while the reservation taken at creation is
// still live. Past the window the key may belong to a newer order.
func (l *Ledger) releaseReservation(o *Order) {
	guard := l.validator.Guard()
	if l.now().Sub(o.CreatedAt) < guard.Window() {
		guard.Release(o.IdempotencyKey)
	}
}

func (l *Ledger) persist(ctx context.Context, o *Order) {
	if l.store == nil {
		return
	}
	if err := l.store.SaveOrder(ctx, o); err != nil {
		l.logger.Error().Err(err).Str("order_id", o.OrderID).Msg("failed to persist order")
	}
}

func eventFor(s State) events.Event {
	switch s {
	case StatePlaced:
		return events.EventOrderPlaced
	case StatePartial:
		return events.EventOrderPartial
	case StateFilled:
		return events.EventOrderFilled
	case StateRejected:
		return events.EventOrderRejected
	case StateCancelled:
		return events.EventOrderCancelled
	case StateExpired:
		return events.EventOrderExpired
	case StateBlocked:
		return events.EventOrderBlocked
	case StateValidated:
		return events.EventOrderValidated
	}
	return events.EventOrderCreated
}

// Get returns a copy of one order.
func (l *Ledger) Get(orderID string) (*Order, error) {
	sm, ok := l.repo.Get(orderID)
	if !ok {
		return nil, fmt.Errorf("%s: %w", orderID, ErrOrderNotFound)
	}
	return sm.Snapshot(), nil
}

// All returns copies of every order in creation order.
func (l *Ledger) All() []*Order {
	return l.filter(func(*Order) bool { return true })
}

// Active returns orders that are not yet terminal.
func (l *Ledger) Active() []*Order {
	return l.filter(func(o *Order) bool { return o.Active() })
}

// ByTicker returns every order for ticker.
func (l *Ledger) ByTicker(ticker string) []*Order {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	return l.filter(func(o *Order) bool { return o.Ticker == ticker })
}

// Today returns orders created on the current local calendar day.
func (l *Ledger) Today() []*Order {
	today := l.now().Format("2006-01-02")
	return l.filter(func(o *Order) bool { return o.CreatedAt.Format("2006-01-02") == today })
}

func (l *Ledger) filter(keep func(*Order) bool) []*Order {
	var out []*Order
	for _, sm := range l.repo.List() {
		if o := sm.Snapshot(); keep(o) {
			out = append(out, o)
		}
	}
	return out
}

func (l *Ledger) Stats() Stats {
	all := l.All()
	today := l.now().Format("2006-01-02")

	st := Stats{
		TotalOrders:           len(all),
		ByState:               make(map[State]int),
		ActiveIdempotencyKeys: l.validator.Guard().ActiveCount(),
		KillSwitchActive:      l.validator.KillSwitchActive(),
	}
	for _, o := range all {
		st.ByState[o.State]++
		if o.Active() {
			st.ActiveOrders++
		}
		if o.CreatedAt.Format("2006-01-02") == today {
			st.TodayOrders++
		}
	}
	return st
}

// Positions nets filled quantities per ticker. Sells reduce quantity at the running
// average cost. Flat tickers are omitted.
func (l *Ledger) Positions() []Position {
	type book struct {
		name string
		qty  int64
		cost decimal.Decimal
	}
	books := make(map[string]*book)

	for _, o := range l.All() {
		if o.FilledQuantity <= 0 {
			continue
		}
		b, ok := books[o.Ticker]
		if !ok {
			b = &book{cost: decimal.Zero}
			books[o.Ticker] = b
		}
		if o.Name != "" {
			b.name = o.Name
		}
		switch o.Side {
		case SideBuy:
			b.qty += o.FilledQuantity
			b.cost = b.cost.Add(o.FilledAmount)
		case SideSell:
			if b.qty > 0 {
				avg := b.cost.Div(decimal.NewFromInt(b.qty))
				sold := o.FilledQuantity
				if sold > b.qty {
					sold = b.qty
				}
				b.cost = b.cost.Sub(avg.Mul(decimal.NewFromInt(sold)))
			}
			b.qty -= o.FilledQuantity
		}
	}

	out := make([]Position, 0, len(books))
	for ticker, b := range books {
		if b.qty == 0 {
			continue
		}
		p := Position{Ticker: ticker, Name: b.name, Quantity: b.qty}
		if b.qty > 0 {
			p.AvgPrice = b.cost.Div(decimal.NewFromInt(b.qty)).InexactFloat64()
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}
