package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomsync",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests received",
	}, []string{"method", "path", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "roomsync",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	wsEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomsync",
		Name:      "ws_events_total",
		Help:      "Inbound websocket events by type",
	}, []string{"event"})

	broadcastsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomsync",
		Name:      "broadcasts_total",
		Help:      "Outbound room broadcasts by event type",
	}, []string{"event"})

	activeRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "roomsync",
		Name:      "active_rooms",
		Help:      "Rooms currently held open in memory",
	})

	compileResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomsync",
		Name:      "compile_results_total",
		Help:      "Compile dispatch outcomes",
	}, []string{"outcome"})
)

func EventReceived(event string) { wsEvents.WithLabelValues(event).Inc() }

func BroadcastSent(event string) { broadcastsSent.WithLabelValues(event).Inc() }

func RoomOpened() { activeRooms.Inc() }

func RoomClosed() { activeRooms.Dec() }

func CompileResult(outcome string) { compileResults.WithLabelValues(outcome).Inc() }

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack must pass through or the websocket upgrade fails behind this middleware.
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("metrics: underlying ResponseWriter does not support hijacking")
}

// Middleware records request counts and latency with Prometheus labels.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		labels := prometheus.Labels{
			"method": r.Method,
			"path":   r.URL.Path,
			"status": strconv.Itoa(rec.status),
		}
		httpRequests.With(labels).Inc()
		httpLatency.With(labels).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the default Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
