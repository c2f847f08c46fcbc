package orders

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/PAFGYM/k-quant-system-sub002/pkg/response"
)

// GinHandlers contains HTTP handlers for order endpoints
type GinHandlers struct {
	ledger *Ledger
}

// NewGinHandlers creates a new set of HTTP handlers for order endpoints
func NewGinHandlers(ledger *Ledger) *GinHandlers {
	return &GinHandlers{
		ledger: ledger,
	}
}

// CreateOrderResponse carries the recorded order and the admission message
type CreateOrderResponse struct {
	Order   *Order `json:"order"`
	Message string `json:"message"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// CreateOrderHandler handles POST requests submitting a trade intent.
// Blocked intents are recorded too; the message explains the outcome.
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req OrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		side, err := ParseSide(string(req.Side))
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		req.Side = side

		order, msg := h.ledger.CreateOrder(c.Request.Context(), req)
		response.Success(c, CreateOrderResponse{Order: order, Message: msg})
	}
}

// GetOrderHandler handles GET requests for one order
// URL parameter: order_id
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := h.ledger.Get(c.Param("order_id"))
		if err != nil {
			WriteError(c, err)
			return
		}
		response.Success(c, order)
	}
}

// ListOrdersHandler handles GET requests listing orders, optionally filtered by ?ticker=
func (h *GinHandlers) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ticker := strings.TrimSpace(c.Query("ticker")); ticker != "" {
			response.Success(c, nonNil(h.ledger.ByTicker(ticker)))
			return
		}
		response.Success(c, nonNil(h.ledger.All()))
	}
}

func (h *GinHandlers) ActiveOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, nonNil(h.ledger.Active()))
	}
}

func (h *GinHandlers) TodayOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, nonNil(h.ledger.Today()))
	}
}

func (h *GinHandlers) StatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.ledger.Stats())
	}
}

// CancelOrderHandler handles POST requests cancelling an open order
// URL parameter: order_id
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req cancelRequest
		_ = c.ShouldBindJSON(&req)
		if req.Reason == "" {
			req.Reason = "cancelled by operator"
		}

		order, err := h.ledger.Cancel(c.Request.Context(), c.Param("order_id"), req.Reason)
		if err != nil {
			WriteError(c, err)
			return
		}
		response.Success(c, order)
	}
}

// WriteError maps ledger errors onto the response envelope.
func WriteError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrIllegalTransition), errors.Is(err, ErrOrderInFlight):
		response.Conflict(c, err.Error())
	default:
		response.Handle(c, nil, err)
	}
}

func nonNil(list []*Order) []*Order {
	if list == nil {
		return []*Order{}
	}
	return list
}
