package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
)

type gzipWriter struct {
	http.ResponseWriter
	zw    *gzip.Writer
	wrote bool
}

func (w *gzipWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.zw.Write(b)
}

func (w *gzipWriter) WriteHeader(statusCode int) {
	if w.wrote {
		return
	}
	w.wrote = true
	// длина несжатого тела больше не верна
	w.Header().Del("Content-Length")
	w.Header().Set("Content-Encoding", "gzip")
	w.ResponseWriter.WriteHeader(statusCode)
}

type gzipReader struct {
	r  io.ReadCloser
	zr *gzip.Reader
}

func (r *gzipReader) Read(p []byte) (int, error) {
	return r.zr.Read(p)
}

func (r *gzipReader) Close() error {
	if err := r.r.Close(); err != nil {
		return err
	}
	return r.zr.Close()
}

// WithGzip распаковывает тела с Content-Encoding: gzip и сжимает ответы
// для клиентов, приславших Accept-Encoding: gzip.
func WithGzip(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Content-Encoding"), "gzip") {
			zr, err := gzip.NewReader(r.Body)
			if err != nil {
				http.Error(w, "invalid gzip body", http.StatusBadRequest)
				return
			}
			r.Body = &gzipReader{r: r.Body, zr: zr}
			r.Header.Del("Content-Encoding")
		}

		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			h.ServeHTTP(w, r)
			return
		}

		gw := &gzipWriter{ResponseWriter: w, zw: gzip.NewWriter(w)}
		h.ServeHTTP(gw, r)
		if gw.wrote {
			_ = gw.zw.Close()
		}
	})
}
