package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"AvailWallet/internal/config"
	"AvailWallet/internal/middleware"
	"AvailWallet/internal/service"
)

type Handler struct {
	Router chi.Router
}

// NewHandler разводящий для хендлеров. gatherer может быть nil — тогда /metrics не публикуется.
func NewHandler(
	authService *service.AuthService,
	backupService *service.BackupService,
	gatherer prometheus.Gatherer,
	logger *zap.SugaredLogger,
	config *config.Config,
) *Handler {
	r := chi.NewRouter()

	r.Use(middleware.WithGzip)
	r.Use(middleware.WithLogging)
	r.Use(middleware.WithAuth(config.AuthSecret))

	// Handlers
	authHandler := NewAuthHandler(authService, logger, config)
	dataHandler := NewDataHandler(backupService, logger)
	txHandler := NewTxHandler(backupService, logger)

	// Auth routes
	r.Post("/auth/request", authHandler.RequestChallenge)
	r.Post("/auth/login", authHandler.Login)

	// Backup routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth)

		r.Post("/data", dataHandler.Post)
		r.Put("/data", dataHandler.Put)
		r.Delete("/data", dataHandler.Delete)
		r.Put("/sync", dataHandler.MarkSynced)
		r.Post("/import_data", dataHandler.Import)
		r.Get("/data_count", dataHandler.Count)
		r.Get("/recover_data", dataHandler.Recover)

		r.Post("/txs_received", txHandler.Received)
		r.Delete("/txs_in", txHandler.Delete)
		r.Post("/tx_sent", txHandler.Sent)
	})

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{DisableCompression: true}))
	}

	return &Handler{Router: r}
}

// idsRequest — тело PUT /sync и DELETE /txs_in.
type idsRequest struct {
	IDs []string `json:"ids"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

func userID(r *http.Request) string {
	uid, _ := middleware.GetUserIDFromContext(r.Context())
	return uid
}
