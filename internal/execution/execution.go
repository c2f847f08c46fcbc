package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/PAFGYM/k-quant-system-sub002/internal/orders"
	"github.com/PAFGYM/k-quant-system-sub002/pkg/response"
)

// OrderRequest is what the broker receives for a validated order
type OrderRequest struct {
	OrderID  string      `json:"order_id"`
	Ticker   string      `json:"ticker"`
	Side     orders.Side `json:"side"`
	Quantity int64       `json:"quantity"`
	Price    float64     `json:"price"`
	Kind     orders.Kind `json:"kind"`
}

// Fill is one execution reported by the broker
type Fill struct {
	FillID    string          `json:"fill_id"`
	VenueID   string          `json:"venue_id"`
	Quantity  int64           `json:"quantity"`
	Price     float64         `json:"price"`
	Fee       decimal.Decimal `json:"fee"`
	Timestamp time.Time       `json:"timestamp"`
}

// Ack is the broker's answer to a submission
type Ack struct {
	BrokerOrderID string `json:"broker_order_id"`
	Accepted      bool   `json:"accepted"`
	RejectReason  string `json:"reject_reason,omitempty"`
	Fills         []Fill `json:"fills,omitempty"`
}

// Broker submits orders to a venue. Retries and network timeouts are its concern.
type Broker interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (*Ack, error)
}

// Executor turns validated ledger orders into broker orders and applies the outcome.
type Executor struct {
	ledger *orders.Ledger
	broker Broker
	logger zerolog.Logger
}

func NewExecutor(ledger *orders.Ledger, broker Broker) *Executor {
	return &Executor{
		ledger: ledger,
		broker: broker,
		logger: log.With().Str("component", "executor").Logger(),
	}
}

// Execute claims a validated order, submits it and drives it through placed,
// partial/filled or rejected. Only one concurrent call reaches the broker. A failed
// submission, or a kill switch armed since validation, cancels the order and frees its
// intent; the returned order then carries state cancelled and a nil error.
func (e *Executor) Execute(ctx context.Context, orderID string) (*orders.Order, error) {
	order, err := e.ledger.Claim(orderID)
	if err != nil {
		return order, fmt.Errorf("execute: %w", err)
	}

	logger := e.logger.With().Str("order_id", orderID).Str("ticker", order.Ticker).Logger()

	if e.ledger.Validator().KillSwitchActive() {
		logger.Warn().Msg("kill switch armed since validation, order not submitted")
		return e.ledger.AbandonSubmission(ctx, orderID, "kill switch active before submission")
	}

	ack, err := e.broker.SubmitOrder(ctx, OrderRequest{
		OrderID:  order.OrderID,
		Ticker:   order.Ticker,
		Side:     order.Side,
		Quantity: order.Quantity,
		Price:    order.Price,
		Kind:     order.Kind,
	})
	if err != nil {
		logger.Error().Err(err).Msg("broker submission failed")
		return e.ledger.AbandonSubmission(ctx, orderID, "broker submission failed: "+err.Error())
	}

	if order, err = e.ledger.MarkPlaced(ctx, orderID, ack.BrokerOrderID); err != nil {
		return order, err
	}
	if limits := e.ledger.Validator().SafetyLimits(); limits != nil {
		limits.RecordOrder()
	}

	if !ack.Accepted {
		reason := ack.RejectReason
		if reason == "" {
			reason = "rejected by broker"
		}
		logger.Warn().Str("reason", reason).Msg("broker rejected order")
		return e.ledger.Reject(ctx, orderID, reason)
	}

	for _, f := range ack.Fills {
		if order, err = e.ledger.ApplyFill(ctx, orderID, f.Quantity, f.Price); err != nil {
			logger.Error().Err(err).Str("fill_id", f.FillID).Msg("failed to apply fill")
			return order, err
		}
	}

	logger.Info().
		Str("broker_order_id", ack.BrokerOrderID).
		Int("fills", len(ack.Fills)).
		Str("state", string(order.State)).
		Int64("filled_quantity", order.FilledQuantity).
		Float64("avg_fill_price", order.AvgFillPrice).
		Msg("order executed")
	return order, nil
}

// HandleFill applies a fill reported after submission.
func (e *Executor) HandleFill(ctx context.Context, orderID string, f Fill) (*orders.Order, error) {
	return e.ledger.ApplyFill(ctx, orderID, f.Quantity, f.Price)
}

// GinHandlers contains HTTP handlers for execution endpoints
type GinHandlers struct {
	executor *Executor
}

func NewGinHandlers(executor *Executor) *GinHandlers {
	return &GinHandlers{executor: executor}
}

// ExecuteOrderHandler handles POST requests submitting a validated order to the broker
// URL parameter: order_id
func (h *GinHandlers) ExecuteOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := h.executor.Execute(c.Request.Context(), c.Param("order_id"))
		if err != nil {
			orders.WriteError(c, err)
			return
		}
		response.Success(c, order)
	}
}
