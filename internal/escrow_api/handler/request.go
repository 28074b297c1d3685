package handler

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bounty-escrow-ledger/internal/domain/shared"
	"github.com/bounty-escrow-ledger/internal/escrow_api/middleware"
)

// IdempotencyKeyHeader may carry the key instead of the request body.
const IdempotencyKeyHeader = "Idempotency-Key"

// parseID leaves an empty value as uuid.Nil so the command reports it as missing.
func parseID(field, raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, shared.ValidationError{Field: field, Message: "Invalid " + field}
	}
	return id, nil
}

// idempotencyKey prefers the body field over the header.
func idempotencyKey(c *gin.Context, fromBody string) string {
	if k := strings.TrimSpace(fromBody); k != "" {
		return k
	}
	return strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
}

func caller(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.UserID(c)
	if !ok || id == uuid.Nil {
		RespondUnauthorized(c, "")
		return uuid.Nil, false
	}
	return id, true
}
