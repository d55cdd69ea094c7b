package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/prp-orchestrator/internal/models"
	"github.com/feichai0017/prp-orchestrator/internal/service/status"
	"github.com/feichai0017/prp-orchestrator/pkg/clock"
	"github.com/feichai0017/prp-orchestrator/pkg/logger"
)

type StatusHandler struct {
	service status.Reporter
	clock   clock.Clock
	logger  logger.Logger
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// QueueResponse lists the pending items and the in-flight cursor.
type QueueResponse struct {
	Pending []string       `json:"pending"`
	Cursor  *models.Cursor `json:"cursor"`
}

type QuarantineResponse struct {
	Count   int                       `json:"count"`
	Records []models.QuarantineRecord `json:"records"`
}

func NewStatusHandler(service status.Reporter, clk clock.Clock, logger logger.Logger) *StatusHandler {
	if clk == nil {
		clk = clock.Real()
	}
	return &StatusHandler{
		service: service,
		clock:   clk,
		logger:  logger,
	}
}

func (h *StatusHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetStatus returns the full snapshot.
func (h *StatusHandler) GetStatus(c *gin.Context) {
	snap, err := h.service.Snapshot(c.Request.Context(), h.clock.Now())
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to read status", err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *StatusHandler) GetQueue(c *gin.Context) {
	snap, err := h.service.Snapshot(c.Request.Context(), h.clock.Now())
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to read queue", err)
		return
	}
	c.JSON(http.StatusOK, QueueResponse{Pending: snap.Pending, Cursor: snap.Cursor})
}

func (h *StatusHandler) GetQuarantine(c *gin.Context) {
	records, err := h.service.Quarantine()
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to read quarantine", err)
		return
	}
	if records == nil {
		records = []models.QuarantineRecord{}
	}
	c.JSON(http.StatusOK, QuarantineResponse{Count: len(records), Records: records})
}

func (h *StatusHandler) handleError(c *gin.Context, code int, message string, err error) {
	resp := ErrorResponse{Error: http.StatusText(code), Message: message}
	if err != nil {
		h.logger.Error(message,
			logger.String("path", c.FullPath()),
			logger.Error(err),
		)
		resp.Message = message + ": " + err.Error()
	}
	c.JSON(code, resp)
}
