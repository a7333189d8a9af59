package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// PipelineHTTP defines the minimal surface the lifecycle router needs from the
// render pipeline to serve HTTP requests.
type PipelineHTTP interface {
	ServeSkin(w http.ResponseWriter, r *http.Request, name, renderType string)
	ServeStatus(http.ResponseWriter, *http.Request)
	WriteError(w http.ResponseWriter, status int, message, detail string)
}

// NewPipelineHandler wires URL dispatch to the render pipeline so the
// lifecycle server owns routing without embedding it into the pipeline.
func NewPipelineHandler(p PipelineHTTP) http.Handler {
	if p == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "pipeline unavailable", http.StatusServiceUnavailable)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			p.WriteError(w, http.StatusNotFound, "Not found", "")
			return
		}

		if r.URL.Path == "/" {
			p.ServeStatus(w, r)
			return
		}

		if name, renderType, ok := parseSkinRoute(r.URL.Path); ok {
			p.ServeSkin(w, r, name, renderType)
			return
		}

		p.WriteError(w, http.StatusNotFound, "Not found", "")
	})
}

// parseSkinRoute matches /2d/skin/{name}/{type}.
func parseSkinRoute(path string) (string, string, bool) {
	trimmed := strings.Trim(path, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 4 {
		return "", "", false
	}
	if !strings.EqualFold(parts[0], "2d") || !strings.EqualFold(parts[1], "skin") {
		return "", "", false
	}
	name := strings.TrimSpace(parts[2])
	renderType := strings.TrimSpace(parts[3])
	if name == "" || renderType == "" {
		return "", "", false
	}
	return name, renderType, true
}

// responseRecorder captures the status code for access logging.
type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.bytes += n
	return n, err
}

// WithAccessLog wraps a handler with structured request logging.
func WithAccessLog(logger *slog.Logger, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	accessLogger := logger.With(slog.String("agent", "access"))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &responseRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)
		if recorder.status == 0 {
			recorder.status = http.StatusOK
		}
		accessLogger.Info("request served",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", recorder.status),
			slog.Int("bytes", recorder.bytes),
			slog.String("remote_addr", r.RemoteAddr),
			slog.Float64("latency_ms", float64(time.Since(start))/float64(time.Millisecond)),
		)
	})
}
