package limits

import (
	"github.com/gin-gonic/gin"

	"github.com/PAFGYM/k-quant-system-sub002/pkg/response"
)

// GinHandlers exposes today's limit counters to operators
type GinHandlers struct {
	limits *Limits
}

func NewGinHandlers(limits *Limits) *GinHandlers {
	return &GinHandlers{limits: limits}
}

type pnlRequest struct {
	DailyPnLPct *float64 `json:"daily_pnl_pct" binding:"required"`
}

func (h *GinHandlers) SnapshotHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.limits.Snapshot())
	}
}

// SetDailyPnLHandler handles POST requests reporting today's realised P&L percentage
func (h *GinHandlers) SetDailyPnLHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req pnlRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		h.limits.SetDailyPnL(*req.DailyPnLPct)
		response.Success(c, h.limits.Snapshot())
	}
}

// ResetHandler handles DELETE requests clearing today's counters
func (h *GinHandlers) ResetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.limits.ResetDaily()
		response.Success(c, h.limits.Snapshot())
	}
}
