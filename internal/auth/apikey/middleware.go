package apikey

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/ratelimit"
)

type contextKey string

const keyInfoKey contextKey = "api_key_info"

// KeyValidator resolves a raw key to its info.
type KeyValidator interface {
	Validate(ctx context.Context, rawKey string) (*KeyInfo, error)
}

// Authenticate rejects requests without a valid key. Keys are read from
// "Authorization: Bearer", then X-API-Key, then the api_key query parameter.
// Health and metrics endpoints are exempt.
func Authenticate(v KeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			key := extractKey(r)
			if key == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", ErrMissingKey.Error())
				return
			}
			info, err := v.Validate(r.Context(), key)
			switch {
			case errors.Is(err, ErrInvalidKey), errors.Is(err, ErrExpiredKey):
				writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			case err != nil:
				logger.FromContext(r.Context()).Error("key validation failed", "component", "auth", "error", err)
				writeError(w, http.StatusInternalServerError, "internal", "authentication error")
				return
			}
			ctx := context.WithValue(r.Context(), keyInfoKey, info)
			ctx = logger.With(ctx, "api_key", info.Name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// KeyRateLimit holds each key to its own rate limit, on top of the
// server-wide one. Keys without a limit and unauthenticated requests pass.
func KeyRateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(limiter.Window().Seconds()))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := FromContext(r.Context())
			if info == nil || info.RateLimit <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			if !limiter.AllowLimit("apikey:"+info.ID, info.RateLimit) {
				w.Header().Set("Retry-After", retryAfter)
				writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// FromContext returns the key info stored by Authenticate, or nil.
func FromContext(ctx context.Context) *KeyInfo {
	info, _ := ctx.Value(keyInfoKey).(*KeyInfo)
	return info
}

func exempt(path string) bool {
	return strings.HasPrefix(path, "/health") || path == "/metrics"
}

func extractKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message, "kind": kind})
}
