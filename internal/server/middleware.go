package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/sanonone/kektorpath/pkg/metrics"
)

// routes lists the paths reported as their own metric label.
var routes = map[string]struct{}{
	"/metrics": {},
	"/healthz": {},
}

// route keeps the route label bounded; unknown paths share one series.
func route(path string) string {
	if _, ok := routes[path]; ok {
		return path
	}
	return "other"
}

// RecoveryMiddleware turns a handler panic into a JSON 500 and logs the stack.
func (s *Server) RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			slog.Error("[SERVER] handler panicked",
				"panic", v,
				"method", r.Method,
				"route", route(r.URL.Path),
				"stack", string(debug.Stack()),
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "Internal Server Error"})
		}()
		next.ServeHTTP(w, r)
	})
}

// ObserveMiddleware records request count and latency per route and logs the
// request at debug level, since scrapes are frequent.
func (s *Server) ObserveMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		rt := route(r.URL.Path)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, rt, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, rt).Observe(elapsed.Seconds())

		slog.Debug("[SERVER] request served",
			"method", r.Method,
			"route", rt,
			"status", rec.status,
			"duration", elapsed,
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}
