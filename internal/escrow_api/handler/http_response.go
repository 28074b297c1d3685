package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bounty-escrow-ledger/internal/domain/shared"
	"github.com/bounty-escrow-ledger/internal/escrow_api/middleware"
)

// Response represents a standard API response
type Response struct {
	Data          interface{} `json:"data,omitempty"`
	Error         *ErrorInfo  `json:"error,omitempty"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	Meta          *MetaInfo   `json:"meta,omitempty"`
}

// ErrorInfo represents error information in a response
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MetaInfo represents metadata in a response
type MetaInfo struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalPages int `json:"total_pages"`
	TotalItems int `json:"total_items"`
}

func newPaginatedResponse(data interface{}, page, perPage, totalItems int) *Response {
	totalPages := totalItems / perPage
	if totalItems%perPage > 0 {
		totalPages++
	}
	return &Response{
		Data: data,
		Meta: &MetaInfo{
			Page:       page,
			PerPage:    perPage,
			TotalPages: totalPages,
			TotalItems: totalItems,
		},
	}
}

// RespondWithData sends a JSON response with data
func RespondWithData(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, &Response{Data: data, CorrelationID: middleware.GetCorrelationID(c)})
}

// RespondWithError sends a JSON response with an error
func RespondWithError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, &Response{
		Error:         &ErrorInfo{Code: code, Message: message},
		CorrelationID: middleware.GetCorrelationID(c),
	})
}

// RespondWithPaginatedData sends a JSON response with paginated data
func RespondWithPaginatedData(c *gin.Context, statusCode int, data interface{}, page, perPage, totalItems int) {
	response := newPaginatedResponse(data, page, perPage, totalItems)
	response.CorrelationID = middleware.GetCorrelationID(c)
	c.JSON(statusCode, response)
}

// RespondOK sends a 200 OK response with data
func RespondOK(c *gin.Context, data interface{}) {
	RespondWithData(c, http.StatusOK, data)
}

// RespondBadRequest sends a 400 Bad Request response with an error
func RespondBadRequest(c *gin.Context, message string) {
	RespondWithError(c, http.StatusBadRequest, "BAD_REQUEST", message)
}

// RespondUnauthorized sends a 401 Unauthorized response with an error
func RespondUnauthorized(c *gin.Context, message string) {
	if message == "" {
		message = "Unauthorized"
	}
	RespondWithError(c, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

// RespondInternalError sends a 500 Internal Server Error response with an error
func RespondInternalError(c *gin.Context) {
	RespondWithError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "An internal server error occurred")
}

// RespondDomainError maps the error taxonomy onto status codes. Anything
// outside it is logged and reported as a 500 without details.
func RespondDomainError(c *gin.Context, logger *slog.Logger, err error) {
	var (
		validation   shared.ValidationError
		unauth       shared.UnauthenticatedError
		authz        shared.AuthorizationError
		notFound     shared.NotFoundError
		conflict     shared.ConflictError
		insufficient shared.InsufficientFundsError
		definitive   shared.GatewayDefinitiveError
		transient    shared.GatewayTransientError
	)

	switch {
	case errors.As(err, &validation):
		RespondBadRequest(c, validation.Message)
	case errors.As(err, &unauth):
		RespondUnauthorized(c, "")
	case errors.As(err, &authz):
		RespondWithError(c, http.StatusForbidden, "FORBIDDEN", authz.Reason)
	case errors.As(err, &notFound):
		RespondWithError(c, http.StatusNotFound, "NOT_FOUND", capitalize(notFound.Resource)+" not found")
	case errors.As(err, &conflict):
		RespondWithError(c, http.StatusConflict, "CONFLICT", capitalize(conflict.Reason))
	case errors.As(err, &insufficient):
		RespondWithError(c, http.StatusPaymentRequired, "INSUFFICIENT_FUNDS", "Insufficient balance")
	case errors.As(err, &definitive):
		RespondWithError(c, http.StatusPaymentRequired, "PAYMENT_DECLINED", "Payment was declined by the processor")
	case errors.As(err, &transient):
		RespondWithError(c, http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE", "Payment processor is temporarily unavailable, retry later")
	default:
		logger.Error("Unhandled error", "error", err, "correlation_id", middleware.GetCorrelationID(c))
		RespondInternalError(c)
		return
	}
	_ = c.Error(err)
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
