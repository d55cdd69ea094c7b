package handlers

import (
	"github.com/feichai0017/prp-orchestrator/internal/service/status"
	"github.com/feichai0017/prp-orchestrator/pkg/clock"
	"github.com/feichai0017/prp-orchestrator/pkg/logger"
)

type Handlers struct {
	Status *StatusHandler
}

func NewHandlers(
	statusService status.Reporter,
	clk clock.Clock,
	logger logger.Logger,
) *Handlers {
	return &Handlers{
		Status: NewStatusHandler(statusService, clk, logger),
	}
}
