package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/till-ledger/internal/api_gateway/middleware"
	"github.com/till-ledger/internal/api_gateway/service"
	"github.com/till-ledger/internal/cash_session"
	"github.com/till-ledger/internal/domain/shared"
	"github.com/till-ledger/internal/domain/till"
)

// SessionHandler handles HTTP requests for till sessions
type SessionHandler struct {
	sessions service.SessionService
	logger   *slog.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(logger *slog.Logger, sessions service.SessionService) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		logger:   logger,
	}
}

// Open starts today's session, returning 409 when one is already open
func (h *SessionHandler) Open(c *gin.Context) {
	var req OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	float, err := shared.ParseAmount(req.OpeningFloat)
	if err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}

	session, err := h.sessions.Open(c.Request.Context(), req.Operator, float)
	if err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}
	RespondCreated(c, mapSession(session))
}

// Current returns the open session of a date, today by default
func (h *SessionHandler) Current(c *gin.Context) {
	session, err := h.sessions.Current(c.Request.Context(), queryDate(c))
	if err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}
	RespondOK(c, mapSession(session))
}

// List returns every session of a date
func (h *SessionHandler) List(c *gin.Context) {
	sessions, err := h.sessions.Sessions(c.Request.Context(), queryDate(c))
	if err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}
	resp := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, mapSession(s))
	}
	RespondOK(c, resp)
}

// GetByID retrieves a session
func (h *SessionHandler) GetByID(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	session, err := h.sessions.Session(c.Request.Context(), id)
	if err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}
	RespondOK(c, mapSession(session))
}

// Repair force-closes all but the latest open session of a date
func (h *SessionHandler) Repair(c *gin.Context) {
	report, err := h.sessions.Repair(c.Request.Context(), queryDate(c))
	if err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}
	RespondOK(c, report)
}

// RecordSale books a sale on a session
func (h *SessionHandler) RecordSale(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req SaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	amount, err := shared.ParseAmount(req.Amount)
	if err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}

	out, err := h.sessions.RecordSale(c.Request.Context(), id, cash_session.Sale{
		SaleID:    req.SaleID,
		Channel:   till.Channel(req.Channel),
		Amount:    amount,
		AccountID: req.AccountID,
		Operator:  req.Operator,
	})
	h.respondOutcome(c, out, err)
}

// RecordTabSettlement books a payment received against a credit account
func (h *SessionHandler) RecordTabSettlement(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req TabSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	amount, err := shared.ParseAmount(req.Amount)
	if err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}

	out, err := h.sessions.RecordTabSettlement(c.Request.Context(), id, cash_session.TabSettlement{
		AccountID:          req.AccountID,
		Amount:             amount,
		Channel:            till.Channel(req.Channel),
		Reference:          req.Reference,
		AllowCreditBalance: req.AllowCreditBalance,
		Operator:           req.Operator,
	})
	h.respondOutcome(c, out, err)
}

// RecordOutflow takes cash out of the drawer
func (h *SessionHandler) RecordOutflow(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req OutflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	amount, err := shared.ParseAmount(req.Amount)
	if err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}

	out, err := h.sessions.RecordOutflow(c.Request.Context(), id, cash_session.Outflow{
		Amount:   amount,
		Reason:   req.Reason,
		Operator: req.Operator,
	})
	h.respondOutcome(c, out, err)
}

// RecordAdjustment appends a correcting movement, also on closed sessions
func (h *SessionHandler) RecordAdjustment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req AdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	amount, err := shared.ParseAmount(req.Amount)
	if err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}

	mv, err := h.sessions.RecordAdjustment(c.Request.Context(), id, cash_session.Adjustment{
		Direction: till.Direction(req.Direction),
		Channel:   till.Channel(req.Channel),
		Amount:    amount,
		Reason:    req.Reason,
		Operator:  req.Operator,
	})
	if err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}
	RespondCreated(c, mapMovement(mv))
}

// Close reconciles the declared counts against the session totals
func (h *SessionHandler) Close(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req CloseSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	declared := make(till.Declaration, len(req.Declared))
	for ch, raw := range req.Declared {
		channel, err := till.ParseChannel(ch)
		if err != nil {
			RespondDomainError(c, h.logger, err)
			return
		}
		amount, err := shared.ParseAmount(raw)
		if err != nil {
			RespondDomainError(c, h.logger, err)
			return
		}
		declared[channel] = amount
	}

	session, err := h.sessions.Close(c.Request.Context(), id, declared, req.Operator)
	if err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}
	RespondOK(c, mapSession(session))
}

// Report returns the session summary, as plain text with ?format=text
func (h *SessionHandler) Report(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	report, err := h.sessions.Report(c.Request.Context(), id)
	if err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}
	if c.Query("format") == "text" {
		c.String(http.StatusOK, report.Text())
		return
	}
	movements := make([]MovementResponse, 0, len(report.Movements))
	for _, m := range report.Movements {
		movements = append(movements, mapMovement(m))
	}
	RespondOK(c, gin.H{"session": mapSession(report.Session), "movements": movements})
}

// respondOutcome reports a partially applied booking as 500 with the step
// outcome attached, so the caller can see which writes landed
func (h *SessionHandler) respondOutcome(c *gin.Context, out cash_session.Outcome, err error) {
	if err == nil {
		status := http.StatusCreated
		if out.Duplicate {
			status = http.StatusOK
		}
		RespondWithData(c, status, mapOutcome(out))
		return
	}
	if errors.Is(err, shared.ErrPartialFailure) {
		h.logger.Error("Booking partially applied", "path", c.FullPath(), "correlation_id", middleware.GetCorrelationID(c), "error", err)
		c.JSON(http.StatusInternalServerError, &Response{
			Data:          mapOutcome(out),
			Error:         &ErrorInfo{Code: "PARTIAL_FAILURE", Message: err.Error()},
			CorrelationID: middleware.GetCorrelationID(c),
		})
		return
	}
	RespondDomainError(c, h.logger, err)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		RespondBadRequest(c, "Invalid id "+strconv.Quote(c.Param("id")))
		return 0, false
	}
	return id, true
}

func queryDate(c *gin.Context) string {
	if d := c.Query("date"); d != "" {
		return d
	}
	return time.Now().Format(till.DateLayout)
}
