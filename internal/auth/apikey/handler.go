package apikey

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/condition-search/pkg/errors"
)

// KeyManager creates and lists keys.
type KeyManager interface {
	CreateKey(ctx context.Context, name string, rateLimit int, expiresAt *time.Time) (string, error)
	ListKeys(ctx context.Context) ([]KeyInfo, error)
}

// AdminHandler serves the key administration endpoints.
type AdminHandler struct {
	keys   KeyManager
	logger *slog.Logger
}

func NewAdminHandler(keys KeyManager) *AdminHandler {
	return &AdminHandler{
		keys:   keys,
		logger: slog.Default().With("component", "apikey-admin"),
	}
}

type createKeyRequest struct {
	Name      string `json:"name"`
	RateLimit int    `json:"rate_limit"`
	// ExpiresIn is a Go duration such as "720h". Empty means never.
	ExpiresIn string `json:"expires_in"`
}

// CreateKey returns the raw key once; only its hash is stored.
func (h *AdminHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}
	if req.RateLimit < 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", "rate_limit must not be negative")
		return
	}
	var expiresAt *time.Time
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_input", "expires_in must be a positive duration")
			return
		}
		t := time.Now().Add(d)
		expiresAt = &t
	}

	key, err := h.keys.CreateKey(r.Context(), req.Name, req.RateLimit, expiresAt)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		h.logger.Error("creating api key", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"key":        key,
		"name":       req.Name,
		"rate_limit": req.RateLimit,
		"expires_at": expiresAt,
	})
}

func (h *AdminHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.ListKeys(r.Context())
	if err != nil {
		h.logger.Error("listing api keys", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(keys)
}
