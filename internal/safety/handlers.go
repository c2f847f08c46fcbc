package safety

import (
	"github.com/gin-gonic/gin"

	"github.com/PAFGYM/k-quant-system-sub002/pkg/response"
)

// GinHandlers contains HTTP handlers for safety endpoints
type GinHandlers struct {
	manager *Manager
}

// NewGinHandlers creates a new set of HTTP handlers for safety endpoints
func NewGinHandlers(manager *Manager) *GinHandlers {
	return &GinHandlers{
		manager: manager,
	}
}

type setLevelRequest struct {
	Level  string `json:"level" binding:"required"`
	Reason string `json:"reason"`
}

type killSwitchRequest struct {
	Reason string `json:"reason"`
}

// GetStatusHandler handles GET requests for the current level and kill switch state
func (h *GinHandlers) GetStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.manager.Status())
	}
}

// SetLevelHandler handles POST requests to set the safety level by name
func (h *GinHandlers) SetLevelHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req setLevelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		level, err := ParseLevel(req.Level)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		reason := req.Reason
		if reason == "" {
			reason = "operator request"
		}
		if err := h.manager.SetLevel(level, reason); err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, h.manager.Status())
	}
}

// ActivateKillSwitchHandler handles POST requests to arm the kill switch manually
func (h *GinHandlers) ActivateKillSwitchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req killSwitchRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Reason == "" {
			response.BadRequest(c, "reason is required")
			return
		}

		h.manager.KillSwitch().Activate(req.Reason, ActivatorManual)
		response.Success(c, h.manager.KillSwitch().Status())
	}
}

// DeactivateKillSwitchHandler handles DELETE requests to release the kill switch
func (h *GinHandlers) DeactivateKillSwitchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req killSwitchRequest
		_ = c.ShouldBindJSON(&req)

		h.manager.KillSwitch().Deactivate(req.Reason)
		response.Success(c, h.manager.KillSwitch().Status())
	}
}
