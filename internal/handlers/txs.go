package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"AvailWallet/internal/model"
	"AvailWallet/internal/service"
)

// TxHandler — почтовые ящики сообщений о переводах.
type TxHandler struct {
	Service *service.BackupService
	Logger  *zap.SugaredLogger
}

func NewTxHandler(s *service.BackupService, logger *zap.SugaredLogger) *TxHandler {
	return &TxHandler{Service: s, Logger: logger}
}

// Received отдаёт входящие сообщения пользователя
func (h *TxHandler) Received(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	msgs, err := h.Service.Inbox(r.Context(), uid)
	if err != nil {
		h.Logger.Errorw("TxsReceived: service error", "user", uid, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, msgs)
}

// Delete подтверждает обработку сообщений
func (h *TxHandler) Delete(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	var req idsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	n, err := h.Service.Ack(r.Context(), uid, req.IDs)
	if err != nil {
		h.Logger.Errorw("TxsIn: service error", "user", uid, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]int64{"deleted": n})
}

// Sent кладёт сообщение в ящик получателя
func (h *TxHandler) Sent(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	var msg model.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	m, err := h.Service.Send(r.Context(), uid, msg)
	if err != nil {
		if errors.Is(err, service.ErrInvalidAddress) || errors.Is(err, service.ErrEmptyRow) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.Logger.Errorw("TxSent: service error", "user", uid, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"id": m.ID})
}
