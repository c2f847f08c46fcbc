package exchange

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/PAFGYM/k-quant-system-sub002/internal/execution"
	"github.com/PAFGYM/k-quant-system-sub002/internal/orders"
	"github.com/PAFGYM/k-quant-system-sub002/internal/reconciliation"
)

// Venue is a simulated execution venue
type Venue struct {
	ID              string
	Name            string
	MinLatency      time.Duration
	MaxLatency      time.Duration
	LiquidityFactor float64 // 0-1, share of the remaining quantity a thin book fills
	SuccessRate     float64 // 0-1
	FeeRate         float64 // fraction of notional
}

// DefaultVenues returns the stock venue set.
func DefaultVenues() []*Venue {
	return []*Venue{
		{ID: "KRX", Name: "Korea Exchange", MinLatency: 5 * time.Millisecond, MaxLatency: 30 * time.Millisecond,
			LiquidityFactor: 0.9, SuccessRate: 0.95, FeeRate: 0.00015},
		{ID: "NXT", Name: "Nextrade ATS", MinLatency: 10 * time.Millisecond, MaxLatency: 50 * time.Millisecond,
			LiquidityFactor: 0.7, SuccessRate: 0.90, FeeRate: 0.0001},
		{ID: "BLOCK", Name: "Block Desk", MinLatency: 20 * time.Millisecond, MaxLatency: 100 * time.Millisecond,
			LiquidityFactor: 0.3, SuccessRate: 0.75, FeeRate: 0.00005},
	}
}

// Config tunes the paper broker
type Config struct {
	Venues []*Venue
	// Seed fixes the random source; 0 seeds from the clock.
	Seed int64
	// PriceJitter is the maximum relative slippage applied to fills.
	PriceJitter float64
	// MaxAttempts bounds how many venues an order is routed to.
	MaxAttempts int
	// SimulateLatency sleeps for the venue latency on each attempt.
	SimulateLatency bool
}

type position struct {
	name     string
	quantity int64
	cost     decimal.Decimal
	last     float64
}

// PaperBroker simulates a broker across several venues and keeps its own book of
// holdings, the authoritative side for reconciliation.
type PaperBroker struct {
	mu       sync.Mutex
	cfg      Config
	rng      *rand.Rand
	holdings map[string]*position
}

func NewPaperBroker(cfg Config) *PaperBroker {
	if len(cfg.Venues) == 0 {
		cfg.Venues = DefaultVenues()
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if cfg.PriceJitter < 0 {
		cfg.PriceJitter = 0
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &PaperBroker{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		holdings: make(map[string]*position),
	}
}

// SubmitOrder routes the order across venues until it is filled or attempts run out.
// Unfilled remainder rests with the broker.
func (b *PaperBroker) SubmitOrder(ctx context.Context, req execution.OrderRequest) (*execution.Ack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger := log.With().
		Str("component", "paper_broker").
		Str("order_id", req.OrderID).
		Str("ticker", req.Ticker).
		Str("side", string(req.Side)).
		Int64("quantity", req.Quantity).
		Logger()

	ack := &execution.Ack{BrokerOrderID: "PB_" + uuid.New().String(), Accepted: true}

	if req.Price <= 0 {
		ack.Accepted = false
		ack.RejectReason = "no reference price for simulated execution"
		return ack, nil
	}
	if req.Side == orders.SideSell && b.heldQuantity(req.Ticker) < req.Quantity {
		ack.Accepted = false
		ack.RejectReason = fmt.Sprintf("insufficient holdings: %d held, %d requested", b.heldQuantity(req.Ticker), req.Quantity)
		logger.Warn().Str("reason", ack.RejectReason).Msg("order rejected")
		return ack, nil
	}

	remaining := req.Quantity
	for attempt := 0; attempt < b.cfg.MaxAttempts && remaining > 0; attempt++ {
		venue := b.pickVenue()
		fill, err := b.executeOn(ctx, venue, req, remaining)
		if err != nil {
			if ctx.Err() != nil {
				// already routed fills still stand
				break
			}
			logger.Warn().Err(err).Str("venue_id", venue.ID).Int("attempt", attempt+1).Msg("execution attempt failed")
			continue
		}
		ack.Fills = append(ack.Fills, *fill)
		remaining -= fill.Quantity
	}

	b.book(req, ack.Fills)

	logger.Info().
		Str("broker_order_id", ack.BrokerOrderID).
		Int("fills", len(ack.Fills)).
		Int64("remaining", remaining).
		Msg("paper order routed")
	return ack, nil
}

func (b *PaperBroker) executeOn(ctx context.Context, v *Venue, req execution.OrderRequest, remaining int64) (*execution.Fill, error) {
	b.mu.Lock()
	latency := v.MinLatency
	if span := v.MaxLatency - v.MinLatency; span > 0 {
		latency += time.Duration(b.rng.Int63n(int64(span) + 1))
	}
	failed := b.rng.Float64() > v.SuccessRate
	thin := b.rng.Float64() > v.LiquidityFactor
	jitter := (b.rng.Float64()*2 - 1) * b.cfg.PriceJitter
	b.mu.Unlock()

	if b.cfg.SimulateLatency && latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(latency):
		}
	}

	if failed {
		return nil, fmt.Errorf("execution failed on venue %s", v.ID)
	}

	qty := remaining
	if thin {
		qty = int64(math.Floor(float64(remaining) * v.LiquidityFactor))
		if qty == 0 {
			return nil, fmt.Errorf("insufficient liquidity on venue %s", v.ID)
		}
	}

	price := math.Round(req.Price * (1 + jitter))
	fee := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(qty)).Mul(decimal.NewFromFloat(v.FeeRate)).Round(0)

	return &execution.Fill{
		FillID:    fmt.Sprintf("FILL-%s-%s", v.ID, uuid.New().String()[:8]),
		VenueID:   v.ID,
		Quantity:  qty,
		Price:     price,
		Fee:       fee,
		Timestamp: time.Now(),
	}, nil
}

// pickVenue draws a venue weighted by liquidity times success rate.
func (b *PaperBroker) pickVenue() *Venue {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0.0
	for _, v := range b.cfg.Venues {
		total += v.LiquidityFactor * v.SuccessRate
	}
	choice := b.rng.Float64() * total
	acc := 0.0
	for _, v := range b.cfg.Venues {
		acc += v.LiquidityFactor * v.SuccessRate
		if acc >= choice {
			return v
		}
	}
	return b.cfg.Venues[0]
}

func (b *PaperBroker) book(req execution.OrderRequest, fills []execution.Fill) {
	if len(fills) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.holdings[req.Ticker]
	if !ok {
		p = &position{cost: decimal.Zero}
		b.holdings[req.Ticker] = p
	}
	for _, f := range fills {
		notional := decimal.NewFromFloat(f.Price).Mul(decimal.NewFromInt(f.Quantity))
		switch req.Side {
		case orders.SideBuy:
			p.quantity += f.Quantity
			p.cost = p.cost.Add(notional)
		case orders.SideSell:
			if p.quantity > 0 {
				avg := p.cost.Div(decimal.NewFromInt(p.quantity))
				p.cost = p.cost.Sub(avg.Mul(decimal.NewFromInt(f.Quantity)))
			}
			p.quantity -= f.Quantity
		}
		p.last = f.Price
	}
	if p.quantity <= 0 {
		delete(b.holdings, req.Ticker)
	}
}

func (b *PaperBroker) heldQuantity(ticker string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.holdings[ticker]; ok {
		return p.quantity
	}
	return 0
}

// Inject adds a holding the internal ledger knows nothing about. Used to exercise
// reconciliation.
func (b *PaperBroker) Inject(h reconciliation.Holding) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holdings[h.Ticker] = &position{
		name:     h.Name,
		quantity: h.Quantity,
		cost:     decimal.NewFromFloat(h.AvgPrice).Mul(decimal.NewFromInt(h.Quantity)),
		last:     h.AvgPrice,
	}
}

// Holdings returns the broker's book sorted by ticker.
func (b *PaperBroker) Holdings(ctx context.Context) ([]reconciliation.Holding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]reconciliation.Holding, 0, len(b.holdings))
	for ticker, p := range b.holdings {
		avg := p.cost.Div(decimal.NewFromInt(p.quantity))
		out = append(out, reconciliation.Holding{
			Ticker:     ticker,
			Name:       p.name,
			Quantity:   p.quantity,
			AvgPrice:   avg.InexactFloat64(),
			EvalAmount: p.last * float64(p.quantity),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, nil
}
