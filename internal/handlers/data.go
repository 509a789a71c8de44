package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"AvailWallet/internal/model"
	"AvailWallet/internal/service"
)

// DataHandler обслуживает резервную копию строк кошелька.
type DataHandler struct {
	Service *service.BackupService
	Logger  *zap.SugaredLogger
}

func NewDataHandler(s *service.BackupService, logger *zap.SugaredLogger) *DataHandler {
	return &DataHandler{Service: s, Logger: logger}
}

type writeFunc func(ctx context.Context, userID string, rows []model.Row) (int64, error)

func (h *DataHandler) write(w http.ResponseWriter, r *http.Request, name string, fn writeFunc) {
	uid := userID(r)
	var rows []model.Row
	if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
		h.Logger.Warnw(name+": invalid request body", "user", uid, "error", err)
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	n, err := fn(r.Context(), uid, rows)
	if err != nil {
		h.fail(w, name, uid, err)
		return
	}
	writeJSON(w, map[string]int64{"written": n})
}

// Post сохраняет новые строки
func (h *DataHandler) Post(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, "PostData", h.Service.Push)
}

// Put обновляет строки, если они новее сохранённых
func (h *DataHandler) Put(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, "PutData", h.Service.Update)
}

// Import загружает всю копию при включении резервного копирования
func (h *DataHandler) Import(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, "ImportData", h.Service.Import)
}

// MarkSynced отмечает строки отправленными
func (h *DataHandler) MarkSynced(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	var req idsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := h.Service.MarkSynced(r.Context(), uid, req.IDs); err != nil {
		h.fail(w, "MarkSynced", uid, err)
		return
	}
	writeJSON(w, map[string]int{"synced": len(req.IDs)})
}

// Delete удаляет копию пользователя целиком
func (h *DataHandler) Delete(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	n, err := h.Service.Wipe(r.Context(), uid)
	if err != nil {
		h.fail(w, "DeleteData", uid, err)
		return
	}
	h.Logger.Infow("DeleteData: backup wiped", "user", uid, "rows", n)
	writeJSON(w, map[string]int64{"deleted": n})
}

func (h *DataHandler) Count(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	n, err := h.Service.Count(r.Context(), uid)
	if err != nil {
		h.fail(w, "DataCount", uid, err)
		return
	}
	writeJSON(w, map[string]int64{"count": n})
}

// Recover отдаёт страницу ?page= строк пользователя
func (h *DataHandler) Recover(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	page := 0
	if p := r.URL.Query().Get("page"); p != "" {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			http.Error(w, "invalid page", http.StatusBadRequest)
			return
		}
		page = v
	}
	rows, err := h.Service.Page(r.Context(), uid, page)
	if err != nil {
		h.fail(w, "RecoverData", uid, err)
		return
	}
	writeJSON(w, rows)
}

func (h *DataHandler) fail(w http.ResponseWriter, name, uid string, err error) {
	switch {
	case errors.Is(err, service.ErrTooManyRows):
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
	case errors.Is(err, service.ErrForeignRow), errors.Is(err, service.ErrEmptyRow):
		h.Logger.Warnw(name+": rejected rows", "user", uid, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.Logger.Errorw(name+": service error", "user", uid, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
