/**
 * @description
 * This file contains custom middleware for the HTTP router: bearer token
 * authentication, the internal API key gate for operator endpoints, and
 * structured request logging.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: HS256 token validation.
 * - github.com/go-chi/chi/v5/middleware: Response writer wrapping and request ids.
 * - go.uber.org/zap: Structured logging.
 */

package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AccountIDContextKey is a custom type for the context key to avoid collisions.
type AccountIDContextKey string

const (
	accountIDKey   AccountIDContextKey = "accountID"
	displayNameKey AccountIDContextKey = "displayName"
)

const userIDHeader = "X-User-ID"

var errMissingIdentity = errors.New("authentication required")

// AuthMiddleware resolves the acting account. Bearer tokens must be HS256
// signed with secret and carry the account UUID in "user_id" (or "sub").
// When trustHeader is set, requests without a bearer token may name the
// account in X-User-ID instead.
func AuthMiddleware(secret string, trustHeader bool) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID, displayName, err := resolveAccountID(r, key, trustHeader)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
				return
			}
			ctx := context.WithValue(r.Context(), accountIDKey, accountID)
			ctx = context.WithValue(ctx, displayNameKey, displayName)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveAccountID(r *http.Request, key []byte, trustHeader bool) (uuid.UUID, string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if authHeader == "" {
		if trustHeader {
			if raw := strings.TrimSpace(r.Header.Get(userIDHeader)); raw != "" {
				id, err := uuid.Parse(raw)
				if err != nil {
					return uuid.Nil, "", fmt.Errorf("invalid %s header", userIDHeader)
				}
				return id, "", nil
			}
		}
		return uuid.Nil, "", errMissingIdentity
	}

	tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || len(key) == 0 {
		return uuid.Nil, "", errors.New("invalid Authorization header format")
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return uuid.Nil, "", errors.New("invalid token")
	}

	raw, _ := claims["user_id"].(string)
	if raw == "" {
		raw, _ = claims["sub"].(string)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, "", errors.New("token does not identify an account")
	}
	name, _ := claims["name"].(string)
	return id, name, nil
}

// GetAccountID retrieves the authenticated account id from the request context.
func GetAccountID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(accountIDKey).(uuid.UUID)
	return id, ok
}

// GetDisplayName returns the "name" claim of the bearer token, if any.
func GetDisplayName(ctx context.Context) string {
	name, _ := ctx.Value(displayNameKey).(string)
	return name
}

// InternalAuthMiddleware guards server-to-server endpoints. An empty key
// disables them.
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("X-Internal-API-Key")
			if requiredKey == "" || provided == "" ||
				subtle.ConstantTimeCompare([]byte(provided), []byte(requiredKey)) != 1 {
				respondWithError(w, http.StatusUnauthorized, "unauthenticated", "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger logs one line per request.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
