package reconciliation

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/PAFGYM/k-quant-system-sub002/pkg/response"
)

// GinHandlers contains HTTP handlers for reconciliation endpoints
type GinHandlers struct {
	processor *Processor
	reports   *Database
}

// NewGinHandlers creates handlers. reports may be nil, in which case only the
// in-memory last report is served.
func NewGinHandlers(processor *Processor, reports *Database) *GinHandlers {
	return &GinHandlers{
		processor: processor,
		reports:   reports,
	}
}

// LatestReportHandler handles GET requests for the most recent report
func (h *GinHandlers) LatestReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if report := h.processor.reconciler.LastReport(); report != nil {
			response.Success(c, report)
			return
		}
		if h.reports == nil {
			response.NotFound(c, ErrNoReport.Error())
			return
		}

		report, err := h.reports.LatestReport(c.Request.Context())
		if errors.Is(err, ErrNoReport) {
			response.NotFound(c, err.Error())
			return
		}
		response.Handle(c, report, err)
	}
}

// RunHandler handles POST requests triggering a reconciliation pass
func (h *GinHandlers) RunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.processor.RunOnce(c.Request.Context()))
	}
}
