package handler

import (
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/till-ledger/internal/api_gateway/service"
)

// SyncHandler exposes the pending queue, drains and the connectivity signal
type SyncHandler struct {
	engine  service.SyncService
	queue   service.QueueReader
	network service.ConnectivityService
	logger  *slog.Logger
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(logger *slog.Logger, engine service.SyncService, queue service.QueueReader, network service.ConnectivityService) *SyncHandler {
	return &SyncHandler{
		engine:  engine,
		queue:   queue,
		network: network,
		logger:  logger,
	}
}

// Queue lists pending operations in replay order, ?limit=N caps the list
func (h *SyncHandler) Queue(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			RespondBadRequest(c, "Invalid limit")
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	ops, err := h.queue.Pending(ctx, limit)
	if err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}
	count, err := h.queue.Count(ctx)
	if err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}
	RespondOK(c, gin.H{"count": count, "operations": ops})
}

// Drain replays the queue now and returns the drain report
func (h *SyncHandler) Drain(c *gin.Context) {
	report, err := h.engine.Drain(c.Request.Context())
	if err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}
	RespondOK(c, report)
}

// Connectivity reports whether writes take the direct path
func (h *SyncHandler) Connectivity(c *gin.Context) {
	RespondOK(c, gin.H{"online": h.network.IsOnline()})
}

// SetConnectivity overrides the signal until the next probe
func (h *SyncHandler) SetConnectivity(c *gin.Context) {
	var req ConnectivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	h.network.Set(*req.Online)
	h.logger.Info("Connectivity set by request", "online", *req.Online)
	RespondOK(c, gin.H{"online": h.network.IsOnline()})
}
