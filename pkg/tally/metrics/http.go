package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

// HTTPMetrics tracks HTTP request/response statistics
type HTTPMetrics struct {
	requestCount      int64 // Total requests
	errorCount        int64 // Error responses (>= 400)
	totalResponseTime int64 // Sum of all response times (nanoseconds)
	maxResponseTime   int64 // Maximum response time (nanoseconds)
	pendingRequests   int64 // Currently processing requests
	startTime         atomic.Value
}

// NewHTTPMetrics creates a new HTTP metrics collector
func NewHTTPMetrics() *HTTPMetrics {
	h := &HTTPMetrics{}
	h.startTime.Store(time.Now())
	return h
}

// HTTPStats represents current HTTP performance statistics
type HTTPStats struct {
	RequestCount    int64     `json:"request_count"`
	ErrorCount      int64     `json:"error_count"`
	ErrorRate       float64   `json:"error_rate"`        // Percentage
	RequestRate     float64   `json:"request_rate"`      // Per second
	AvgResponseTime int64     `json:"avg_response_time"` // Nanoseconds
	MaxResponseTime int64     `json:"max_response_time"` // Nanoseconds
	PendingRequests int64     `json:"pending_requests"`
	Timestamp       time.Time `json:"timestamp"`
}

// ResponseWriter wrapper to capture status codes
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	if !rw.written {
		rw.statusCode = http.StatusOK
		rw.written = true
	}
	return rw.ResponseWriter.Write(data)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack lets websocket upgrades pass through the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	rw.written = true
	return h.Hijack()
}

// Middleware creates HTTP middleware that collects performance metrics
func (h *HTTPMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		atomic.AddInt64(&h.pendingRequests, 1)
		defer atomic.AddInt64(&h.pendingRequests, -1)

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		durationNs := time.Since(startTime).Nanoseconds()

		atomic.AddInt64(&h.requestCount, 1)
		atomic.AddInt64(&h.totalResponseTime, durationNs)

		for {
			current := atomic.LoadInt64(&h.maxResponseTime)
			if durationNs <= current {
				break
			}
			if atomic.CompareAndSwapInt64(&h.maxResponseTime, current, durationNs) {
				break
			}
		}

		if wrapped.statusCode >= 400 {
			atomic.AddInt64(&h.errorCount, 1)
		}
	})
}

// GetStats returns current HTTP performance statistics
func (h *HTTPMetrics) GetStats() HTTPStats {
	requestCount := atomic.LoadInt64(&h.requestCount)
	errorCount := atomic.LoadInt64(&h.errorCount)
	totalResponseTime := atomic.LoadInt64(&h.totalResponseTime)

	stats := HTTPStats{
		RequestCount:    requestCount,
		ErrorCount:      errorCount,
		MaxResponseTime: atomic.LoadInt64(&h.maxResponseTime),
		PendingRequests: atomic.LoadInt64(&h.pendingRequests),
		Timestamp:       time.Now(),
	}

	if requestCount > 0 {
		stats.ErrorRate = float64(errorCount) / float64(requestCount) * 100
		stats.AvgResponseTime = totalResponseTime / requestCount

		uptime := time.Since(h.startTime.Load().(time.Time))
		if uptime > 0 {
			stats.RequestRate = float64(requestCount) / uptime.Seconds()
		}
	}

	return stats
}

// Reset clears all metrics (useful for testing)
func (h *HTTPMetrics) Reset() {
	atomic.StoreInt64(&h.requestCount, 0)
	atomic.StoreInt64(&h.errorCount, 0)
	atomic.StoreInt64(&h.totalResponseTime, 0)
	atomic.StoreInt64(&h.maxResponseTime, 0)
	atomic.StoreInt64(&h.pendingRequests, 0)
	h.startTime.Store(time.Now())
}
