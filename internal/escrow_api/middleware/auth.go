package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// UserIDKey is where Authenticate stores the caller's id in the gin context.
const UserIDKey = "user_id"

type userCtxKey struct{}

// Authenticate requires an HS256 bearer token whose subject is the user UUID.
// The issuer is checked when one is configured.
func Authenticate(secret, issuer string, logger *slog.Logger) gin.HandlerFunc {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parser := jwt.NewParser(opts...)
	key := []byte(secret)

	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortWithError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Missing bearer token")
			return
		}

		claims := &jwt.RegisteredClaims{}
		_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		})
		if err != nil {
			message := "Invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				message = "Token expired"
			}
			logger.Warn("Rejected bearer token", "error", err, "correlation_id", GetCorrelationID(c))
			abortWithError(c, http.StatusUnauthorized, "UNAUTHORIZED", message)
			return
		}

		userID, err := uuid.Parse(claims.Subject)
		if err != nil || userID == uuid.Nil {
			abortWithError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Token subject is not a user id")
			return
		}

		c.Set(UserIDKey, userID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), userCtxKey{}, userID))
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// UserID returns the authenticated caller.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, exists := c.Get(UserIDKey)
	if !exists {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// UserIDFromContext returns the authenticated caller from a request context.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userCtxKey{}).(uuid.UUID)
	return id, ok
}
