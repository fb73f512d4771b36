package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/till-ledger/internal/api_gateway/service"
	"github.com/till-ledger/internal/credit_ledger"
	"github.com/till-ledger/internal/domain/credit"
	"github.com/till-ledger/internal/domain/shared"
)

// CreditHandler handles HTTP requests for credit accounts
type CreditHandler struct {
	ledger service.CreditService
	logger *slog.Logger
}

// NewCreditHandler creates a new credit handler
func NewCreditHandler(logger *slog.Logger, ledger service.CreditService) *CreditHandler {
	return &CreditHandler{
		ledger: ledger,
		logger: logger,
	}
}

// Register opens a credit account with a zero balance
func (h *CreditHandler) Register(c *gin.Context) {
	var req RegisterAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	limit, err := shared.ParseAmount(req.CreditLimit)
	if err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}

	acct, err := h.ledger.RegisterAccount(c.Request.Context(), req.Holder, credit.HolderKind(req.Kind), limit)
	if err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}
	RespondCreated(c, mapAccount(acct))
}

// List returns every account
func (h *CreditHandler) List(c *gin.Context) {
	accounts, err := h.ledger.Accounts(c.Request.Context())
	if err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}
	resp := make([]AccountResponse, 0, len(accounts))
	for _, a := range accounts {
		resp = append(resp, mapAccount(a))
	}
	RespondOK(c, resp)
}

// GetByID retrieves an account, returning 404 if not found
func (h *CreditHandler) GetByID(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	acct, err := h.ledger.Account(c.Request.Context(), id)
	if err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}
	RespondOK(c, mapAccount(acct))
}

// ApplyMovement books a purchase or payment; over-limit purchases get 422
func (h *CreditHandler) ApplyMovement(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req CreditMovementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	amount, err := shared.ParseAmount(req.Amount)
	if err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}

	res, err := h.ledger.ApplyMovement(c.Request.Context(), credit_ledger.MovementRequest{
		AccountID: id,
		Kind:      credit.MovementKind(req.Kind),
		Amount:    amount,
		Memo:      req.Memo,
		SaleID:    req.SaleID,
		Options: credit.ApplyOptions{
			OverrideLimit:      req.OverrideLimit,
			AllowCreditBalance: req.AllowCreditBalance,
		},
	})
	if err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}
	if res.Duplicate {
		RespondOK(c, mapCreditResult(res))
		return
	}
	RespondCreated(c, mapCreditResult(res))
}

// History returns the account's movements oldest first
func (h *CreditHandler) History(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	movements, err := h.ledger.History(c.Request.Context(), id)
	if err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}
	resp := make([]CreditMovementResponse, 0, len(movements))
	for _, m := range movements {
		resp = append(resp, mapCreditMovement(m))
	}
	RespondOK(c, resp)
}

// UpdateLimit changes the credit limit
func (h *CreditHandler) UpdateLimit(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req UpdateLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	limit, err := shared.ParseAmount(req.CreditLimit)
	if err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}
	acct, err := h.ledger.UpdateLimit(c.Request.Context(), id, limit)
	if err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}
	RespondOK(c, mapAccount(acct))
}

// Deactivate closes an account with a zero balance
func (h *CreditHandler) Deactivate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.ledger.Deactivate(c.Request.Context(), id); err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}
	RespondNoContent(c)
}

// Audit compares the cached balance with the balance derived from history
func (h *CreditHandler) Audit(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	report, err := h.ledger.Audit(c.Request.Context(), id)
	if err != nil {
		RespondDomainError(c, h.logger, err)
		return
	}
	RespondOK(c, report)
}
