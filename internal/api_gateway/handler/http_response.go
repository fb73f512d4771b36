package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/till-ledger/internal/api_gateway/middleware"
	"github.com/till-ledger/internal/domain/shared"
)

// Response represents a standard API response
type Response struct {
	Data          interface{} `json:"data,omitempty"`
	Error         *ErrorInfo  `json:"error,omitempty"`
	CorrelationID string      `json:"correlation_id,omitempty"`
}

// ErrorInfo represents error information in a response
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RespondWithData sends a JSON response with data
func RespondWithData(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, &Response{
		Data:          data,
		CorrelationID: middleware.GetCorrelationID(c),
	})
}

// RespondWithError sends a JSON response with an error
func RespondWithError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, &Response{
		Error:         &ErrorInfo{Code: code, Message: message},
		CorrelationID: middleware.GetCorrelationID(c),
	})
}

// RespondOK sends a 200 OK response with data
func RespondOK(c *gin.Context, data interface{}) {
	RespondWithData(c, http.StatusOK, data)
}

// RespondCreated sends a 201 Created response with data
func RespondCreated(c *gin.Context, data interface{}) {
	RespondWithData(c, http.StatusCreated, data)
}

// RespondNoContent sends a 204 No Content response
func RespondNoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// RespondBadRequest sends a 400 Bad Request response with an error
func RespondBadRequest(c *gin.Context, message string) {
	RespondWithError(c, http.StatusBadRequest, "BAD_REQUEST", message)
}

// RespondNotFound sends a 404 Not Found response with an error
func RespondNotFound(c *gin.Context, message string) {
	if message == "" {
		message = "Resource not found"
	}
	RespondWithError(c, http.StatusNotFound, "NOT_FOUND", message)
}

// RespondInternalError sends a 500 Internal Server Error response with an error
func RespondInternalError(c *gin.Context) {
	RespondWithError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "An internal server error occurred")
}

// RespondDomainError maps an error kind to its status. Business rule violations
// carry their message to the caller; anything else is logged and hidden.
func RespondDomainError(c *gin.Context, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		RespondNotFound(c, err.Error())
	case errors.Is(err, shared.ErrLimitExceeded):
		RespondWithError(c, http.StatusUnprocessableEntity, "LIMIT_EXCEEDED", err.Error())
	case errors.Is(err, shared.ErrInvalidAmount):
		RespondWithError(c, http.StatusUnprocessableEntity, "INVALID_AMOUNT", err.Error())
	case errors.Is(err, shared.ErrInvalidInput):
		RespondBadRequest(c, err.Error())
	case errors.Is(err, shared.ErrInvalidState):
		RespondWithError(c, http.StatusConflict, "INVALID_STATE", err.Error())
	case errors.Is(err, shared.ErrRemoteRejected):
		RespondWithError(c, http.StatusConflict, "REMOTE_REJECTED", err.Error())
	default:
		logger.Error("Request failed", "path", c.FullPath(), "correlation_id", middleware.GetCorrelationID(c), "error", err)
		RespondInternalError(c)
	}
}
