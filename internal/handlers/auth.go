package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"AvailWallet/internal/config"
	"AvailWallet/internal/middleware"
	"AvailWallet/internal/service"
)

// AuthHandler — вход по подписи адреса.
type AuthHandler struct {
	Service *service.AuthService
	Logger  *zap.SugaredLogger
	Config  *config.Config
}

func NewAuthHandler(s *service.AuthService, logger *zap.SugaredLogger, cfg *config.Config) *AuthHandler {
	return &AuthHandler{Service: s, Logger: logger, Config: cfg}
}

type challengeRequest struct {
	Address string `json:"address"`
}

type challengeResponse struct {
	SessionID string `json:"session_id"`
	Hash      string `json:"hash"`
}

type loginRequest struct {
	SessionID string `json:"session_id"`
	Signature string `json:"signature"`
}

// RequestChallenge выдаёт строку для подписи
func (h *AuthHandler) RequestChallenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Warnw("RequestChallenge: invalid request body", "error", err)
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	c, err := h.Service.RequestChallenge(r.Context(), req.Address)
	if err != nil {
		if errors.Is(err, service.ErrInvalidAddress) {
			http.Error(w, "invalid address", http.StatusBadRequest)
			return
		}
		h.Logger.Errorw("RequestChallenge: service error", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, challengeResponse{SessionID: c.ID, Hash: c.Hash})
}

// Login проверяет подпись и выставляет сессионную куку
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" || req.Signature == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	address, err := h.Service.Login(r.Context(), req.SessionID, req.Signature)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrUnknownChallenge),
		errors.Is(err, service.ErrChallengeExpired),
		errors.Is(err, service.ErrInvalidSignature),
		errors.Is(err, service.ErrInvalidAddress):
		h.Logger.Infow("Login: rejected", "session_id", req.SessionID, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	default:
		h.Logger.Errorw("Login: service error", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := middleware.SetLoginCookie(w, address, h.Config.AuthSecret); err != nil {
		h.Logger.Errorw("Login: failed to set cookie", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.Logger.Infow("Login: session opened", "address", address)
	writeJSON(w, map[string]string{"address": address})
}
