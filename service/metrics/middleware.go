package metrics

import (
	"net/http"
	"time"
)

// HTTPMetricsMiddleware records the duration and status of every request under handlerName,
// a fixed route label such as "session" or "stream". A nil m passes requests through.
func HTTPMetricsMiddleware(m *Metrics, handlerName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil {
				next.ServeHTTP(w, r)
				return
			}
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			defer Timer(time.Now(), func(duration float64) {
				m.RecordHTTPRequest(handlerName, r.Method, wrapped.statusCode, duration)
			})()
			next.ServeHTTP(wrapped, r)
		})
	}
}

// responseWriter captures the status code. It stays flushable so event streams
// can be instrumented.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Timer returns a func that reports the seconds elapsed since start to recordFunc.
//
//	defer Timer(time.Now(), func(duration float64) {
//	    m.RecordNATSPublish(subject, status, duration)
//	})()
func Timer(start time.Time, recordFunc func(float64)) func() {
	return func() {
		recordFunc(time.Since(start).Seconds())
	}
}
