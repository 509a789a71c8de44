package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

var sugar = zap.NewNop().Sugar()

// SetLogger задаёт логгер мидлварей.
func SetLogger(l *zap.SugaredLogger) {
	if l != nil {
		sugar = l
	}
}

type (
	responseData struct {
		status int
		size   int
	}

	loggingResponseWriter struct {
		http.ResponseWriter
		responseData *responseData
	}
)

func (r *loggingResponseWriter) Write(b []byte) (int, error) {
	size, err := r.ResponseWriter.Write(b)
	r.responseData.size += size
	return size, err
}

func (r *loggingResponseWriter) WriteHeader(statusCode int) {
	r.ResponseWriter.WriteHeader(statusCode)
	r.responseData.status = statusCode
}

// WithLogging логирует метод, путь, статус, размер ответа и длительность запроса.
func WithLogging(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rd := &responseData{status: http.StatusOK}
		lw := loggingResponseWriter{ResponseWriter: w, responseData: rd}

		h.ServeHTTP(&lw, r)

		sugar.Infow("request",
			"method", r.Method,
			"uri", r.RequestURI,
			"status", rd.status,
			"size", rd.size,
			"duration", time.Since(start),
		)
	})
}
