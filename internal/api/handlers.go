package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/secshare/secshare/config"
	"github.com/secshare/secshare/internal/crypto"
	"github.com/secshare/secshare/internal/models"
	"github.com/secshare/secshare/internal/quota"
	"github.com/secshare/secshare/internal/registry"
	"github.com/secshare/secshare/internal/store"
	"github.com/secshare/secshare/internal/tier"
)

type Handler struct {
	registry *registry.Registry
	config   *config.Config
	logger   *slog.Logger
}

func NewHandler(reg *registry.Registry, cfg *config.Config, logger *slog.Logger) *Handler {
	return &Handler{
		registry: reg,
		config:   cfg,
		logger:   logger,
	}
}

type CreateRequest struct {
	UserID   string `json:"user_id"`
	Tier     string `json:"tier"`
	Kind     string `json:"kind"`
	Content  string `json:"content"` // raw text, or base64 for kind=file
	FileName string `json:"file_name,omitempty"`
	Password string `json:"password,omitempty"`
}

type CreateResponse struct {
	TransferID string    `json:"transfer_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type RetrieveResponse struct {
	Kind     string `json:"kind"`
	Content  string `json:"content"` // raw text, or base64 for kind=file
	FileName string `json:"file_name,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

type UsageResponse struct {
	Used           int       `json:"used"`
	Limit          int       `json:"limit"`
	WindowResetsAt time.Time `json:"window_resets_at"`
	TotalTransfers int       `json:"total_transfers"`
}

type TierLimitsResponse struct {
	MaxSizeBytes int64  `json:"max_size_bytes"`
	MaxTransfers int    `json:"max_transfers"`
	Window       string `json:"window"`
	Expiry       string `json:"expiry"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.UserID == "" {
		h.error(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if !models.Tier(req.Tier).Valid() {
		h.error(w, http.StatusBadRequest, "invalid tier")
		return
	}
	if req.Content == "" {
		h.error(w, http.StatusBadRequest, "content is required")
		return
	}

	kind := models.TransferKind(req.Kind)
	var content []byte
	switch kind {
	case models.KindText:
		content = []byte(req.Content)
	case models.KindFile:
		decoded, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			h.error(w, http.StatusBadRequest, "content must be base64 for file transfers")
			return
		}
		content = decoded
	default:
		h.error(w, http.StatusBadRequest, "invalid kind")
		return
	}

	res, err := h.registry.Create(r.Context(), registry.CreateInput{
		UserID:   req.UserID,
		Tier:     models.Tier(req.Tier),
		Kind:     kind,
		Content:  bytes.NewReader(content),
		Size:     int64(len(content)),
		FileName: req.FileName,
		Password: req.Password,
	})
	if err != nil {
		h.handleCoreError(w, err)
		return
	}

	h.json(w, http.StatusCreated, CreateResponse{
		TransferID: res.ID,
		ExpiresAt:  res.ExpiresAt,
	})
}

func (h *Handler) RetrieveTransfer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	password := r.URL.Query().Get("password")

	res, err := h.registry.Retrieve(r.Context(), id, password)
	if err != nil {
		h.handleCoreError(w, err)
		return
	}

	resp := RetrieveResponse{Kind: string(res.Kind)}
	if res.Kind == models.KindFile {
		resp.Content = base64.StdEncoding.EncodeToString(res.Content)
		resp.FileName = res.FileName
		resp.Size = res.Size
	} else {
		resp.Content = string(res.Content)
	}

	h.json(w, http.StatusOK, resp)
}

func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user")
	t := models.Tier(r.URL.Query().Get("tier"))
	if !t.Valid() {
		h.error(w, http.StatusBadRequest, "invalid tier")
		return
	}

	usage, err := h.registry.Usage(r.Context(), userID, t)
	if err != nil {
		h.handleCoreError(w, err)
		return
	}

	h.json(w, http.StatusOK, UsageResponse{
		Used:           usage.Used,
		Limit:          usage.Limit,
		WindowResetsAt: usage.ResetsAt,
		TotalTransfers: usage.Total,
	})
}

func (h *Handler) GetTierLimits(w http.ResponseWriter, r *http.Request) {
	t := models.Tier(chi.URLParam(r, "tier"))

	limits, err := h.registry.Limits(t)
	if err != nil {
		h.handleCoreError(w, err)
		return
	}

	h.json(w, http.StatusOK, TierLimitsResponse{
		MaxSizeBytes: limits.MaxContentSize,
		MaxTransfers: limits.MaxTransfers,
		Window:       limits.Window.String(),
		Expiry:       limits.Expiry.String(),
	})
}

func (h *Handler) json(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) error(w http.ResponseWriter, status int, message string) {
	h.json(w, status, ErrorResponse{Error: message})
}

func (h *Handler) handleCoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.error(w, http.StatusNotFound, "transfer not found")
	case errors.Is(err, store.ErrExpired):
		h.error(w, http.StatusGone, "transfer has expired")
	case errors.Is(err, crypto.ErrWrongPassword):
		h.error(w, http.StatusForbidden, "wrong password")
	case errors.Is(err, quota.ErrQuotaExceeded):
		h.error(w, http.StatusTooManyRequests, "transfer quota exceeded")
	case errors.Is(err, registry.ErrSizeLimitExceeded):
		h.error(w, http.StatusRequestEntityTooLarge, "content exceeds tier size limit")
	case errors.Is(err, registry.ErrInvalidKind), errors.Is(err, tier.ErrUnknownTier):
		h.error(w, http.StatusBadRequest, "invalid request")
	case errors.Is(err, store.ErrUnavailable):
		h.error(w, http.StatusServiceUnavailable, "storage unavailable")
	case errors.Is(err, crypto.ErrCorruptPayload):
		h.error(w, http.StatusInternalServerError, "payload corrupted")
	default:
		h.logger.Error("unhandled core error", "error", err)
		h.error(w, http.StatusInternalServerError, "internal error")
	}
}
